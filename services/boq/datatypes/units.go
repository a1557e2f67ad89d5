// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for the boqd pipeline:
// the fixed enumeration of extraction units, unit record statuses, run
// identity, and validation verdicts.
package datatypes

import "time"

// =============================================================================
// Unit Enumeration
// =============================================================================

// UnitName identifies one logical deliverable produced by the pipeline.
type UnitName string

const (
	// UnitComponentGeometry covers piers, deck slabs, spans and their dimensions.
	UnitComponentGeometry UnitName = "component_geometry"

	// UnitPileDetails covers pile counts, depths, and diameters.
	UnitPileDetails UnitName = "pile_details"

	// UnitReinforcementDetails covers bar schedules, spacing, and cover.
	UnitReinforcementDetails UnitName = "reinforcement_details"

	// UnitMaterialSpecs covers concrete grades and steel designations.
	UnitMaterialSpecs UnitName = "material_specs"

	// UnitSeismicArrestors covers seismic restraint components.
	UnitSeismicArrestors UnitName = "seismic_arrestors"

	// UnitStructuralNotes covers free-form design notes and load assumptions.
	UnitStructuralNotes UnitName = "structural_notes"

	// UnitComplianceParameters covers applicable codes (IS 456, IS 2911, IRC 83).
	UnitComplianceParameters UnitName = "compliance_parameters"

	// UnitBoq is the aggregate report: the Bill of Quantities synthesized
	// from all extraction units.
	UnitBoq UnitName = "boq"
)

// VerdictKey is the marker key that tags an event as a validation verdict.
// Verdicts are never persisted as a standalone unit.
const VerdictKey = "validation"

// ExpectedUnits returns the fixed, ordered enumeration of unit names a run
// is expected to produce, the aggregate report last.
func ExpectedUnits() []UnitName {
	return []UnitName{
		UnitComponentGeometry,
		UnitPileDetails,
		UnitReinforcementDetails,
		UnitMaterialSpecs,
		UnitSeismicArrestors,
		UnitStructuralNotes,
		UnitComplianceParameters,
		UnitBoq,
	}
}

// IsExpectedUnit reports whether name is part of the fixed enumeration.
func IsExpectedUnit(name UnitName) bool {
	for _, n := range ExpectedUnits() {
		if n == name {
			return true
		}
	}
	return false
}

// ExtractionUnits returns the expected units excluding the aggregate report.
func ExtractionUnits() []UnitName {
	units := ExpectedUnits()
	return units[:len(units)-1]
}

// =============================================================================
// Unit Status
// =============================================================================

// UnitStatus is the persisted state of one unit within a run.
//
// A unit's status is monotonic within a run: once completed it is never
// demoted to failed by a later rollback. The persistence gateway does not
// enforce this; the orchestrator checks recorded state before rollback writes.
type UnitStatus string

const (
	// StatusPending means no record exists yet; it is the fetch default and
	// is never written explicitly.
	StatusPending UnitStatus = "pending"

	// StatusCompleted means the unit payload was captured from the stream.
	StatusCompleted UnitStatus = "completed"

	// StatusFailed means the run terminated before this unit was captured.
	StatusFailed UnitStatus = "failed"
)

// =============================================================================
// Run Identity
// =============================================================================

// RunKey scopes one end-to-end processing attempt for one submitted document.
// All persisted unit records are keyed by (UserID, SessionID, unit name).
type RunKey struct {
	UserID    string
	SessionID string
}

// =============================================================================
// Records and Verdicts
// =============================================================================

// UnitRecord is the persisted form of one unit within a run.
type UnitRecord struct {
	UserID    string     `json:"user_id"`
	SessionID string     `json:"session_id"`
	Unit      UnitName   `json:"unit"`
	Data      any        `json:"data"`
	Status    UnitStatus `json:"status"`
	UpdatedAt int64      `json:"updated_at"`
}

// FetchResult is the read-side view of a unit record. When nothing was ever
// recorded the result defaults to status pending with an empty list payload.
type FetchResult struct {
	Status UnitStatus `json:"status"`
	Data   any        `json:"data"`
}

// PendingResult returns the default fetch result for an absent record.
func PendingResult() FetchResult {
	return FetchResult{Status: StatusPending, Data: []any{}}
}

// Verdict is the outcome of one validation pass over the aggregate report.
// It is ephemeral: only the loop controller holds it, and only the resulting
// report record is ever persisted.
type Verdict struct {
	Accepted bool
	Issues   []string
}

// SessionInfo describes one processing session owned by a user.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
