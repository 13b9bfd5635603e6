/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Category names the kind of transient fault seen by the storage layer.
type Category string

const (
	CategoryBusy   Category = "busy"
	CategoryLocked Category = "locked"
	CategoryIO     Category = "io"
	CategoryClosed Category = "closed"
)

// Classify reports whether err is a transient storage fault worth retrying.
// Constraint violations, malformed statements, missing rows and anything
// unrecognised are logical errors and return false.
func Classify(err error) (Category, bool) {
	if err == nil {
		return "", false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy:
			return CategoryBusy, true
		case sqlite3.ErrLocked:
			return CategoryLocked, true
		case sqlite3.ErrIoErr, sqlite3.ErrCantOpen:
			return CategoryIO, true
		default:
			return "", false
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "sqlite_busy"), strings.Contains(msg, "database is busy"):
		return CategoryBusy, true
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"):
		return CategoryLocked, true
	case strings.Contains(msg, "disk i/o error"), strings.Contains(msg, "unable to open database file"):
		return CategoryIO, true
	case strings.Contains(msg, "sql: database is closed"), strings.Contains(msg, "driver: bad connection"),
		strings.Contains(msg, "connection is already closed"):
		return CategoryClosed, true
	}
	return "", false
}
