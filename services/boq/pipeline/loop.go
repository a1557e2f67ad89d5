// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "github.com/girderworks/boqd/services/boq/datatypes"

// DefaultMaxValidations is the default ceiling on generate→validate cycles.
const DefaultMaxValidations = 3

// =============================================================================
// Loop Signals
// =============================================================================

// Signal is the loop controller's decision after observing a verdict.
type Signal int

const (
	// SignalContinue means the budget is not exhausted; keep streaming.
	SignalContinue Signal = iota

	// SignalAccept means the verdict passed and a report is held; persist it.
	SignalAccept

	// SignalForceAccept means the iteration ceiling was reached without a
	// passing verdict; ship the last-produced report anyway. The generator
	// is non-deterministic, so the contract is "converge within N attempts
	// or ship the best available draft", not "never ship an invalid report".
	SignalForceAccept

	// SignalFailed means the ceiling was reached and no report was ever
	// produced. There is nothing to persist; the run fails for the report
	// unit and the caller escalates to the outer retry policy.
	SignalFailed
)

// String returns the signal name for logging.
func (s Signal) String() string {
	switch s {
	case SignalAccept:
		return "accept"
	case SignalForceAccept:
		return "force_accept"
	case SignalFailed:
		return "failed"
	default:
		return "continue"
	}
}

// =============================================================================
// Loop Controller
// =============================================================================

// LoopController owns the state of the generate→validate cycle for one run
// attempt: the iteration count, the last-seen aggregate report, and whether
// a verdict has accepted it.
//
// # Thread Safety
//
// Not safe for concurrent use. Each run attempt consumes its stream from one
// goroutine and owns its controller exclusively.
type LoopController struct {
	maxIterations int
	iteration     int
	lastReport    any
	hasReport     bool
	accepted      bool
}

// NewLoopController creates a controller with the given iteration ceiling.
// A non-positive ceiling falls back to DefaultMaxValidations.
func NewLoopController(maxIterations int) *LoopController {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxValidations
	}
	return &LoopController{maxIterations: maxIterations}
}

// ObserveReport replaces the last-seen aggregate report. Regenerated reports
// overwrite earlier drafts; only the newest draft is ever persisted.
func (c *LoopController) ObserveReport(payload any) {
	c.lastReport = payload
	c.hasReport = true
}

// ObserveVerdict consumes one validation verdict and decides how to proceed.
//
// # Description
//
// Increments the iteration count, then:
//   - accepted verdict with a report held → SignalAccept
//   - ceiling reached with a report held → SignalForceAccept
//   - ceiling reached with no report → SignalFailed
//   - otherwise → SignalContinue
//
// An accepted verdict with no report held cannot be accepted (there is
// nothing to persist) and is treated like any other non-terminal verdict.
//
// # Inputs
//
//   - v: The verdict from one validation pass.
//
// # Outputs
//
//   - Signal: The loop decision. Accept, ForceAccept, and Failed are
//     terminal for the run attempt.
func (c *LoopController) ObserveVerdict(v datatypes.Verdict) Signal {
	c.iteration++

	if v.Accepted && c.hasReport {
		c.accepted = true
		return SignalAccept
	}
	if c.iteration >= c.maxIterations {
		if c.hasReport {
			return SignalForceAccept
		}
		return SignalFailed
	}
	return SignalContinue
}

// Report returns the last-seen aggregate report and whether one exists.
func (c *LoopController) Report() (any, bool) {
	return c.lastReport, c.hasReport
}

// Iteration returns the number of verdicts observed so far.
func (c *LoopController) Iteration() int {
	return c.iteration
}

// Accepted reports whether a verdict has accepted the current report.
func (c *LoopController) Accepted() bool {
	return c.accepted
}
