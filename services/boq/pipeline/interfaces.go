// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"

	"github.com/girderworks/boqd/services/boq/datatypes"
)

// EventStream produces the raw text events of one pipeline run.
//
// # Description
//
// The upstream extraction, generation, and validation stages may execute
// concurrently and interleave their events onto this single stream; no
// ordering is guaranteed beyond what the classifier can recover from marker
// keys. The stream terminates normally (io.EOF) or abnormally (any other
// error).
//
// # Thread Safety
//
// A stream is consumed sequentially by one goroutine; implementations need
// not support concurrent Next calls.
type EventStream interface {
	// Next blocks until the next raw event is available.
	//
	// # Outputs
	//
	//   - string: The raw event payload.
	//   - error: io.EOF on normal exhaustion; any other error is a
	//     stream-level failure that fails the run attempt.
	Next(ctx context.Context) (string, error)
}

// StreamOpener opens the event stream for one run. It is implemented by the
// agent-execution collaborator.
type StreamOpener interface {
	// OpenStream starts the pipeline for the given run and returns its
	// event stream. The message references the submitted document, e.g.
	// "[FILE] /path/to/upload.pdf".
	OpenStream(ctx context.Context, run datatypes.RunKey, message string) (EventStream, error)
}

// Gateway is the persistence surface the orchestrator writes through. It is
// the only component that records results.
//
// Record has unconditional upsert semantics keyed by (run, unit): a second
// call with the same key overwrites. The gateway never enforces status
// monotonicity — the orchestrator checks recorded state before issuing a
// rollback write for any unit.
type Gateway interface {
	// Record upserts the unit record for (run, unit).
	Record(ctx context.Context, run datatypes.RunKey, unit datatypes.UnitName, payload any, status datatypes.UnitStatus) error

	// Fetch returns the last recorded status and payload, or the pending
	// default if nothing was ever recorded.
	Fetch(ctx context.Context, run datatypes.RunKey, unit datatypes.UnitName) (datatypes.FetchResult, error)
}
