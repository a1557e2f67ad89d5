// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/girderworks/boqd/services/boq/datatypes"
)

// =============================================================================
// Classification
// =============================================================================

// Kind is the closed set of logical identities an event can have.
type Kind int

const (
	// KindUnknown means the event matches no known shape and is discarded.
	KindUnknown Kind = iota

	// KindUnit means the event carries one or more extraction unit payloads.
	KindUnit

	// KindReport means the event carries an aggregate report payload.
	KindReport

	// KindVerdict means the event carries a validation verdict.
	KindVerdict
)

// String returns the classification name for logging.
func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindReport:
		return "report"
	case KindVerdict:
		return "verdict"
	default:
		return "unknown"
	}
}

// UnitMatch pairs a matched unit name with its payload from the event.
type UnitMatch struct {
	Name    datatypes.UnitName
	Payload any
}

// Classification is the tagged result of classifying one decoded event.
// Exactly the fields for the active Kind are populated.
type Classification struct {
	Kind    Kind
	Units   []UnitMatch       // KindUnit: matched units, in enumeration order
	Report  any               // KindReport: the aggregate report payload
	Verdict datatypes.Verdict // KindVerdict: the parsed verdict
}

// Classify decides the logical identity of one decoded payload.
//
// # Description
//
// Precedence follows the marker keys:
//
//  1. A "validation" key classifies the event as a Verdict regardless of
//     any other keys present.
//  2. Otherwise a "boq" key classifies it as a Report; the report payload
//     is the value under that key.
//  3. Otherwise every expected extraction unit name present as a key, and
//     not yet recorded for this run, yields a Unit match. A single event
//     may match several units.
//  4. Anything else is Unknown and discarded by the caller.
//
// Classification is pure: it never mutates the recorded set. The caller
// marks a unit recorded only after its persistence write succeeds.
//
// # Inputs
//
//   - payload: One decoded event payload.
//   - recorded: Reports whether a unit was already recorded this run.
//     A nil func treats every unit as unrecorded.
//
// # Outputs
//
//   - Classification: The tagged classification result.
func Classify(payload map[string]any, recorded func(datatypes.UnitName) bool) Classification {
	if recorded == nil {
		recorded = func(datatypes.UnitName) bool { return false }
	}

	if raw, ok := payload[datatypes.VerdictKey]; ok {
		return Classification{Kind: KindVerdict, Verdict: parseVerdict(raw, payload)}
	}

	if report, ok := payload[string(datatypes.UnitBoq)]; ok {
		return Classification{Kind: KindReport, Report: report}
	}

	var matches []UnitMatch
	for _, name := range datatypes.ExtractionUnits() {
		value, ok := payload[string(name)]
		if !ok || recorded(name) {
			continue
		}
		matches = append(matches, UnitMatch{Name: name, Payload: value})
	}
	if len(matches) > 0 {
		return Classification{Kind: KindUnit, Units: matches}
	}

	return Classification{Kind: KindUnknown}
}

// parseVerdict interprets the loosely-typed verdict payload. The validation
// agent reports {"validation": "pass"|"fail", "issues": [...]}.
func parseVerdict(raw any, payload map[string]any) datatypes.Verdict {
	verdict := datatypes.Verdict{}

	if outcome, ok := raw.(string); ok {
		verdict.Accepted = outcome == "pass"
	}

	if issues, ok := payload["issues"].([]any); ok {
		for _, issue := range issues {
			if s, ok := issue.(string); ok {
				verdict.Issues = append(verdict.Issues, s)
			}
		}
	}
	return verdict
}
