// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/girderworks/boqd/services/boq/datatypes"
	"github.com/girderworks/boqd/services/boq/observability"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrStreamExhausted means the stream ended before a report was accepted.
	ErrStreamExhausted = errors.New("event stream exhausted before acceptance")

	// ErrNoReport means the validation ceiling was reached but no report was
	// ever produced, so there is nothing to persist for the report unit.
	ErrNoReport = errors.New("validation ceiling reached with no report produced")
)

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy is the outer whole-run retry policy: if a stream attempt fails,
// the entire streaming phase is re-attempted from the start, up to MaxAttempts
// total attempts with a fixed Delay between them.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy returns the production retry policy: 3 attempts with a
// fixed 60 second delay between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 60 * time.Second}
}

// Config holds orchestrator tuning knobs.
type Config struct {
	// MaxValidations is the generate→validate iteration ceiling.
	// Default: DefaultMaxValidations.
	MaxValidations int

	// Retry is the outer whole-run retry policy.
	// Default: DefaultRetryPolicy().
	Retry RetryPolicy
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator drives one pipeline run end-to-end: it opens the event stream,
// pushes each event through decode→classify→loop-control, persists completed
// units as they arrive, enforces the outer retry policy, and performs
// rollback when the run cannot complete.
//
// # Description
//
// One Orchestrator instance is shared by all runs; per-run state (the
// recorded set and loop controller) lives on the stack of ProcessDocument.
// Runs never share mutable state with each other, so concurrent runs only
// meet at the persistence gateway, whose keys are disjoint per run.
//
// # Thread Safety
//
// Safe for concurrent use. All fields are read-only after construction.
type Orchestrator struct {
	store   Gateway
	streams StreamOpener
	config  Config

	// sleep is replaceable in tests to avoid real retry delays.
	sleep func(time.Duration)
}

// NewOrchestrator creates an orchestrator over the given persistence gateway
// and stream opener.
//
// # Inputs
//
//   - store: Persistence gateway. Must not be nil.
//   - streams: Agent-execution collaborator that opens event streams.
//   - cfg: Tuning knobs; zero values use defaults.
//
// # Outputs
//
//   - *Orchestrator: Ready for concurrent ProcessDocument calls.
func NewOrchestrator(store Gateway, streams StreamOpener, cfg Config) *Orchestrator {
	if cfg.MaxValidations <= 0 {
		cfg.MaxValidations = DefaultMaxValidations
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Orchestrator{
		store:   store,
		streams: streams,
		config:  cfg,
		sleep:   time.Sleep,
	}
}

// ProcessDocument runs the full pipeline for one submitted document.
//
// # Description
//
// Intended to run as one background goroutine per submission. It does not
// return a result: terminal state is surfaced exclusively through persisted
// unit records, which callers poll. Attempt flow:
//
//  1. Open the stream and consume it (decode → classify → persist/loop).
//  2. On acceptance or force-accept, persist the report and stop.
//  3. On stream failure or exhaustion, wait the fixed delay and re-attempt,
//     up to the configured attempt budget.
//  4. After the budget is exhausted, write a failed record for every
//     expected unit not recorded this run, preserving completed units.
//
// The recorded set is run-scoped: units persisted by an earlier attempt stay
// recorded, so a later successful attempt re-records harmlessly (upsert) and
// rollback never demotes them. The temporary upload file is removed when the
// run finishes, whatever the outcome.
//
// # Inputs
//
//   - ctx: Context for the whole run. Cancellation is not part of the
//     public contract, but stream and store calls honor it.
//   - run: Actor and session identity scoping all persisted records.
//   - filePath: Path to the staged upload referenced by the run.
func (o *Orchestrator) ProcessDocument(ctx context.Context, run datatypes.RunKey, filePath string) {
	logger := slog.With("user_id", run.UserID, "session_id", run.SessionID)
	start := time.Now()

	if m := observability.DefaultMetrics; m != nil {
		m.RunStarted()
	}

	defer func() {
		if filePath == "" {
			return
		}
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to delete temporary upload", "path", filePath, "error", err)
		} else {
			logger.Debug("Deleted temporary upload", "path", filePath)
		}
	}()

	recorded := make(map[datatypes.UnitName]bool)
	message := fmt.Sprintf("[FILE] %s", filePath)

	var lastErr error
	for attempt := 1; attempt <= o.config.Retry.MaxAttempts; attempt++ {
		forced, err := o.consume(ctx, run, message, recorded, logger)
		if err == nil {
			status := "completed"
			if forced {
				status = "force_accepted"
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordAttempt("success")
				m.RunFinished(status, time.Since(start).Seconds())
			}
			logger.Info("Pipeline run completed",
				"attempt", attempt,
				"forced", forced,
				"units_recorded", len(recorded),
			)
			return
		}

		lastErr = err
		logger.Warn("Pipeline attempt failed",
			"attempt", attempt,
			"max_attempts", o.config.Retry.MaxAttempts,
			"error", err,
		)
		if attempt < o.config.Retry.MaxAttempts {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordAttempt("retry")
			}
			o.sleep(o.config.Retry.Delay)
		}
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordAttempt("exhausted")
	}
	logger.Error("Pipeline run failed after all attempts, rolling back", "error", lastErr)
	o.rollback(ctx, run, recorded, logger)

	if m := observability.DefaultMetrics; m != nil {
		m.RunFinished("rolled_back", time.Since(start).Seconds())
	}
}

// consume runs one streaming attempt: it opens the stream and processes
// events until acceptance, exhaustion, or a stream/store failure.
//
// # Outputs
//
//   - bool: True if the report was force-accepted at the iteration ceiling.
//   - error: Non-nil on run-level failure (stream open/read error, store
//     write error, exhaustion without acceptance, or ceiling with no report).
func (o *Orchestrator) consume(ctx context.Context, run datatypes.RunKey, message string,
	recorded map[datatypes.UnitName]bool, logger *slog.Logger) (bool, error) {

	stream, err := o.streams.OpenStream(ctx, run, message)
	if err != nil {
		return false, fmt.Errorf("open event stream: %w", err)
	}

	ctrl := NewLoopController(o.config.MaxValidations)

	for {
		raw, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return false, ErrStreamExhausted
		}
		if err != nil {
			return false, fmt.Errorf("read event stream: %w", err)
		}

		payload, err := DecodeEvent(raw)
		if err != nil {
			// Event-level failure: log and move on, no event retry.
			if m := observability.DefaultMetrics; m != nil {
				m.RecordEvent("decode_error")
			}
			logger.Warn("Skipping undecodable stream event", "error", err)
			continue
		}

		c := Classify(payload, func(n datatypes.UnitName) bool { return recorded[n] })
		if m := observability.DefaultMetrics; m != nil {
			if c.Kind == KindUnknown {
				m.RecordEvent("discarded")
			} else {
				m.RecordEvent(c.Kind.String())
			}
		}

		switch c.Kind {
		case KindUnit:
			for _, match := range c.Units {
				if err := o.store.Record(ctx, run, match.Name, match.Payload, datatypes.StatusCompleted); err != nil {
					return false, fmt.Errorf("record unit %s: %w", match.Name, err)
				}
				recorded[match.Name] = true
				if m := observability.DefaultMetrics; m != nil {
					m.RecordUnit(string(match.Name), string(datatypes.StatusCompleted))
				}
				logger.Info("Recorded extraction unit", "unit", match.Name)
			}

		case KindReport:
			ctrl.ObserveReport(c.Report)
			logger.Debug("Captured aggregate report draft", "iteration", ctrl.Iteration())

		case KindVerdict:
			signal := ctrl.ObserveVerdict(c.Verdict)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordVerdict(signal.String())
			}
			logger.Info("Observed validation verdict",
				"accepted", c.Verdict.Accepted,
				"issues", len(c.Verdict.Issues),
				"iteration", ctrl.Iteration(),
				"signal", signal.String(),
			)

			switch signal {
			case SignalContinue:
				continue
			case SignalAccept, SignalForceAccept:
				report, _ := ctrl.Report()
				if err := o.store.Record(ctx, run, datatypes.UnitBoq, report, datatypes.StatusCompleted); err != nil {
					return false, fmt.Errorf("record report: %w", err)
				}
				recorded[datatypes.UnitBoq] = true
				if m := observability.DefaultMetrics; m != nil {
					m.RecordUnit(string(datatypes.UnitBoq), string(datatypes.StatusCompleted))
				}
				return signal == SignalForceAccept, nil
			case SignalFailed:
				return false, ErrNoReport
			}

		case KindUnknown:
			// Matches no known unit/report/verdict shape; ignore.
		}
	}
}

// rollback writes a failed-status, empty-payload record for every expected
// unit not recorded this run. Already-recorded units are untouched; as a
// second guard, units whose stored status is already completed are skipped
// even if the in-memory recorded set lost track of them.
func (o *Orchestrator) rollback(ctx context.Context, run datatypes.RunKey,
	recorded map[datatypes.UnitName]bool, logger *slog.Logger) {

	for _, name := range datatypes.ExpectedUnits() {
		if recorded[name] {
			continue
		}

		if result, err := o.store.Fetch(ctx, run, name); err == nil && result.Status == datatypes.StatusCompleted {
			logger.Debug("Skipping rollback for completed unit", "unit", name)
			continue
		}

		if err := o.store.Record(ctx, run, name, []any{}, datatypes.StatusFailed); err != nil {
			logger.Error("Rollback write failed", "unit", name, "error", err)
			continue
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RollbackUnitsTotal.Inc()
			m.RecordUnit(string(name), string(datatypes.StatusFailed))
		}
		logger.Info("Rolled back unit", "unit", name)
	}
}
