/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build information.
package version

import "fmt"

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/hearth/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the source revision, set at build time.
var Commit = "unknown"

// String renders the version for logs and the CLI.
func String() string {
	return fmt.Sprintf("hearth %s (%s)", Version, Commit)
}
