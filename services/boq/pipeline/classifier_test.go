// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/girderworks/boqd/services/boq/datatypes"
)

func TestClassify_Verdict(t *testing.T) {
	c := Classify(map[string]any{"validation": "pass"}, nil)
	assert.Equal(t, KindVerdict, c.Kind)
	assert.True(t, c.Verdict.Accepted)
}

func TestClassify_VerdictFailWithIssues(t *testing.T) {
	c := Classify(map[string]any{
		"validation": "fail",
		"issues":     []any{"missing quantity on item 3", "duplicate pier entry"},
	}, nil)
	assert.Equal(t, KindVerdict, c.Kind)
	assert.False(t, c.Verdict.Accepted)
	assert.Equal(t, []string{"missing quantity on item 3", "duplicate pier entry"}, c.Verdict.Issues)
}

func TestClassify_VerdictTakesPrecedence(t *testing.T) {
	// A verdict key wins even when unit and report keys are present.
	c := Classify(map[string]any{
		"validation":         "fail",
		"boq":                []any{},
		"component_geometry": map[string]any{},
	}, nil)
	assert.Equal(t, KindVerdict, c.Kind)
}

func TestClassify_Report(t *testing.T) {
	report := []any{map[string]any{"component": "pier"}}
	c := Classify(map[string]any{"boq": report}, nil)
	assert.Equal(t, KindReport, c.Kind)
	assert.Equal(t, report, c.Report)
}

func TestClassify_ReportBeatsUnits(t *testing.T) {
	c := Classify(map[string]any{
		"boq":          []any{},
		"pile_details": map[string]any{"count": 8},
	}, nil)
	assert.Equal(t, KindReport, c.Kind)
	assert.Empty(t, c.Units)
}

func TestClassify_SingleUnit(t *testing.T) {
	c := Classify(map[string]any{"pile_details": map[string]any{"count": 8}}, nil)
	require.Equal(t, KindUnit, c.Kind)
	require.Len(t, c.Units, 1)
	assert.Equal(t, datatypes.UnitPileDetails, c.Units[0].Name)
}

func TestClassify_MultipleUnitsInOneEvent(t *testing.T) {
	c := Classify(map[string]any{
		"material_specs":   []any{"M40"},
		"structural_notes": []any{"note"},
		"unrelated_key":    true,
	}, nil)
	require.Equal(t, KindUnit, c.Kind)
	require.Len(t, c.Units, 2)
	// Matches come back in enumeration order, not map order.
	assert.Equal(t, datatypes.UnitMaterialSpecs, c.Units[0].Name)
	assert.Equal(t, datatypes.UnitStructuralNotes, c.Units[1].Name)
}

func TestClassify_RecordedUnitsSkipped(t *testing.T) {
	recorded := func(n datatypes.UnitName) bool { return n == datatypes.UnitMaterialSpecs }
	c := Classify(map[string]any{
		"material_specs":   []any{"M40"},
		"structural_notes": []any{"note"},
	}, recorded)
	require.Equal(t, KindUnit, c.Kind)
	require.Len(t, c.Units, 1)
	assert.Equal(t, datatypes.UnitStructuralNotes, c.Units[0].Name)
}

func TestClassify_AllUnitsRecorded(t *testing.T) {
	recorded := func(datatypes.UnitName) bool { return true }
	c := Classify(map[string]any{"material_specs": []any{"M40"}}, recorded)
	assert.Equal(t, KindUnknown, c.Kind)
}

func TestClassify_Unknown(t *testing.T) {
	c := Classify(map[string]any{"chatter": "thinking about piers"}, nil)
	assert.Equal(t, KindUnknown, c.Kind)
}

func TestClassify_DoesNotMutateRecordedSet(t *testing.T) {
	calls := 0
	recorded := func(datatypes.UnitName) bool {
		calls++
		return false
	}
	_ = Classify(map[string]any{"pile_details": map[string]any{}}, recorded)
	assert.Positive(t, calls, "recorded func should be consulted")
}

func TestParseVerdict_NonStringOutcome(t *testing.T) {
	c := Classify(map[string]any{"validation": true}, nil)
	assert.Equal(t, KindVerdict, c.Kind)
	assert.False(t, c.Verdict.Accepted, "non-string outcome is never a pass")
}
