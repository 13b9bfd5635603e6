/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"fmt"
	"time"
)

// Outcome is the classified result of one play attempt.
type Outcome string

const (
	OutcomePlayed  Outcome = "played"
	OutcomeSkipped Outcome = "skipped"
	OutcomeRetry   Outcome = "retry"
	OutcomeFailed  Outcome = "failed"
)

// Policy holds the cascade protection thresholds.
type Policy struct {
	// MinPlay is the shortest run that counts as a real play.
	MinPlay time.Duration
	// Threshold is the number of consecutive rapid exits that gives up on an item.
	Threshold int
	// RetryDelay is waited before picking an item up again after a rapid exit.
	RetryDelay time.Duration
	// CascadeBackoff is waited once Threshold is reached.
	CascadeBackoff time.Duration
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinPlay:        5 * time.Second,
		Threshold:      3,
		RetryDelay:     2 * time.Second,
		CascadeBackoff: 30 * time.Second,
	}
}

// withDefaults fills unset thresholds. Zero delays are kept so tests can run
// without waiting; a wholly zero Policy means the defaults.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p == (Policy{}) {
		return def
	}
	if p.MinPlay <= 0 {
		p.MinPlay = def.MinPlay
	}
	if p.Threshold <= 0 {
		p.Threshold = def.Threshold
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = def.RetryDelay
	}
	if p.CascadeBackoff < 0 {
		p.CascadeBackoff = def.CascadeBackoff
	}
	return p
}

// Counters track consecutive rapid exits. Owned by the loop goroutine.
type Counters struct {
	RapidFailures  int `json:"rapid_failures"`
	RapidSuccesses int `json:"rapid_successes"`
}

func (c *Counters) reset() {
	c.RapidFailures = 0
	c.RapidSuccesses = 0
}

// Attempt describes how a play ended.
type Attempt struct {
	ExitCode    int
	Elapsed     time.Duration
	Interrupted bool   // user skip or stop recorded before exit
	ErrorText   string // classified failure text, if any
}

// Decision is what the loop does next with the item.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration
	Error   string
	Cascade bool
}

// Classify applies the policy to an attempt and updates the counters.
func (p Policy) Classify(c *Counters, a Attempt) Decision {
	switch {
	case a.Interrupted:
		c.reset()
		return Decision{Outcome: OutcomeSkipped}
	case a.Elapsed >= p.MinPlay:
		// A long run that exits nonzero is a mid-stream interruption, not a failure.
		c.reset()
		return Decision{Outcome: OutcomePlayed}
	case a.ExitCode != 0:
		c.RapidSuccesses = 0
		c.RapidFailures++
		text := a.ErrorText
		if text == "" {
			text = fmt.Sprintf("player exited with code %d", a.ExitCode)
		}
		return p.escalate(&c.RapidFailures, text)
	default:
		c.RapidFailures = 0
		c.RapidSuccesses++
		return p.escalate(&c.RapidSuccesses, fmt.Sprintf("player exited after %.1fs without error, source may not have resolved", a.Elapsed.Seconds()))
	}
}

func (p Policy) escalate(counter *int, text string) Decision {
	if *counter < p.Threshold {
		return Decision{Outcome: OutcomeRetry, Delay: p.RetryDelay, Error: text}
	}
	*counter = 0
	return Decision{Outcome: OutcomeFailed, Delay: p.CascadeBackoff, Error: text, Cascade: true}
}
