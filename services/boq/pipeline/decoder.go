// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline implements the streaming pipeline orchestrator: event
// decoding, component classification, the retry-bounded validation loop, and
// the run state machine with outer retry and rollback.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeEvent extracts the structured payload from one raw stream event.
//
// # Description
//
// Agent backends frequently wrap JSON output in a fenced code block. The
// fence markers are formatting artifacts, not part of the payload, so they
// are stripped from the start and end before parsing. DecodeEvent is pure
// and performs no I/O.
//
// # Inputs
//
//   - raw: One raw event payload as produced by the stream.
//
// # Outputs
//
//   - map[string]any: The decoded payload.
//   - error: Non-nil if the payload is not a JSON object after
//     fence-stripping. Decode failure is non-fatal to a run: the caller
//     logs it and proceeds to the next event.
func DecodeEvent(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimSpace(strings.TrimPrefix(text, "```json"))
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimSpace(strings.TrimPrefix(text, "```"))
	}
	if strings.HasSuffix(text, "```") {
		text = strings.TrimSpace(strings.TrimSuffix(text, "```"))
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	return payload, nil
}
