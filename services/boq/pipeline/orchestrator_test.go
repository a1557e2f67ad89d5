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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/girderworks/boqd/services/boq/datatypes"
)

// =============================================================================
// Fakes
// =============================================================================

// scriptedStream replays a fixed list of events, then a terminal error.
type scriptedStream struct {
	events   []string
	terminal error
	pos      int
}

func (s *scriptedStream) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.events) {
		if s.terminal != nil {
			return "", s.terminal
		}
		return "", io.EOF
	}
	event := s.events[s.pos]
	s.pos++
	return event, nil
}

// scriptedOpener hands out one scripted stream per attempt.
type scriptedOpener struct {
	streams []*scriptedStream
	opens   int
}

func (o *scriptedOpener) OpenStream(ctx context.Context, run datatypes.RunKey, message string) (EventStream, error) {
	if o.opens >= len(o.streams) {
		return nil, fmt.Errorf("no stream scripted for attempt %d", o.opens+1)
	}
	stream := o.streams[o.opens]
	o.opens++
	return stream, nil
}

// recordEntry is one stored record plus its write count.
type recordEntry struct {
	payload any
	status  datatypes.UnitStatus
	writes  int
}

// fakeGateway is an in-memory Gateway with optional write-failure injection.
type fakeGateway struct {
	mu      sync.Mutex
	records map[datatypes.UnitName]recordEntry
	failOn  map[datatypes.UnitName]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{records: make(map[datatypes.UnitName]recordEntry)}
}

func (g *fakeGateway) Record(ctx context.Context, run datatypes.RunKey,
	unit datatypes.UnitName, payload any, status datatypes.UnitStatus) error {

	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failOn[unit]; ok {
		return err
	}
	entry := g.records[unit]
	entry.payload = payload
	entry.status = status
	entry.writes++
	g.records[unit] = entry
	return nil
}

func (g *fakeGateway) Fetch(ctx context.Context, run datatypes.RunKey,
	unit datatypes.UnitName) (datatypes.FetchResult, error) {

	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.records[unit]
	if !ok {
		return datatypes.PendingResult(), nil
	}
	return datatypes.FetchResult{Status: entry.status, Data: entry.payload}, nil
}

func (g *fakeGateway) status(unit datatypes.UnitName) (datatypes.UnitStatus, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.records[unit]
	return entry.status, ok
}

// =============================================================================
// Helpers
// =============================================================================

var testRun = datatypes.RunKey{UserID: "u1", SessionID: "s1"}

func newTestOrchestrator(store Gateway, opener StreamOpener, sleeps *[]time.Duration) *Orchestrator {
	orc := NewOrchestrator(store, opener, Config{})
	orc.sleep = func(d time.Duration) {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
	}
	return orc
}

func unitEvent(name datatypes.UnitName) string {
	return fmt.Sprintf(`{"%s": {"extracted": true}}`, name)
}

func allExtractionEvents() []string {
	var events []string
	for _, name := range datatypes.ExtractionUnits() {
		events = append(events, unitEvent(name))
	}
	return events
}

func happyPathEvents() []string {
	events := allExtractionEvents()
	events = append(events,
		`{"boq": [{"component": "pier", "material": "concrete M40"}]}`,
		`{"validation": "pass"}`,
	)
	return events
}

// =============================================================================
// Run Completion
// =============================================================================

func TestProcessDocument_HappyPath(t *testing.T) {
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{{events: happyPathEvents()}}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	for _, name := range datatypes.ExpectedUnits() {
		status, ok := store.status(name)
		require.True(t, ok, "unit %s should be recorded", name)
		assert.Equal(t, datatypes.StatusCompleted, status, "unit %s", name)
	}
	assert.Equal(t, 1, opener.opens, "one attempt suffices")
}

func TestProcessDocument_VerdictNeverPersisted(t *testing.T) {
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{{events: happyPathEvents()}}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	_, ok := store.status(datatypes.UnitName("validation"))
	assert.False(t, ok, "the verdict channel is never a persisted unit")
}

func TestProcessDocument_FencedEventsRecorded(t *testing.T) {
	events := []string{
		"```json\n" + unitEvent(datatypes.UnitPileDetails) + "\n```",
		`{"boq": []}`,
		`{"validation": "pass"}`,
	}
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{{events: events}}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	status, ok := store.status(datatypes.UnitPileDetails)
	require.True(t, ok)
	assert.Equal(t, datatypes.StatusCompleted, status)
}

func TestProcessDocument_UndecodableEventsSkipped(t *testing.T) {
	events := []string{
		"I could not produce JSON this time",
		unitEvent(datatypes.UnitMaterialSpecs),
		`{"boq": []}`,
		`{"validation": "pass"}`,
	}
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{{events: events}}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	status, ok := store.status(datatypes.UnitMaterialSpecs)
	require.True(t, ok, "good events after a bad one still land")
	assert.Equal(t, datatypes.StatusCompleted, status)
	assert.Equal(t, 1, opener.opens, "a bad event never costs an attempt")
}

func TestProcessDocument_DuplicateUnitEventIgnored(t *testing.T) {
	events := []string{
		unitEvent(datatypes.UnitPileDetails),
		unitEvent(datatypes.UnitPileDetails), // regenerated by a flaky agent
		`{"boq": []}`,
		`{"validation": "pass"}`,
	}
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{{events: events}}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	store.mu.Lock()
	writes := store.records[datatypes.UnitPileDetails].writes
	store.mu.Unlock()
	assert.Equal(t, 1, writes, "a recorded unit is not re-written within a run")
}

// =============================================================================
// Validation Loop
// =============================================================================

func TestProcessDocument_ForceAcceptAtCeiling(t *testing.T) {
	// Three failing verdicts with fresh drafts in between: the final draft
	// ships anyway.
	events := []string{
		`{"boq": [{"draft": 1}]}`,
		`{"validation": "fail", "issues": ["missing piers"]}`,
		`{"boq": [{"draft": 2}]}`,
		`{"validation": "fail", "issues": ["still missing piers"]}`,
		`{"boq": [{"draft": 3}]}`,
		`{"validation": "fail", "issues": ["close enough is not pass"]}`,
	}
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{{events: events}}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	status, ok := store.status(datatypes.UnitBoq)
	require.True(t, ok, "the report ships despite three failed verdicts")
	assert.Equal(t, datatypes.StatusCompleted, status)

	store.mu.Lock()
	payload := store.records[datatypes.UnitBoq].payload
	store.mu.Unlock()
	assert.Equal(t, []any{map[string]any{"draft": float64(3)}}, payload,
		"the newest draft is the one persisted")
	assert.Equal(t, 1, opener.opens, "force-accept completes the run, no retry")
}

func TestProcessDocument_VerdictsWithoutReportFailTheRun(t *testing.T) {
	// Three verdicts and never a report: every attempt fails, then rollback.
	noReport := func() *scriptedStream {
		return &scriptedStream{events: []string{
			`{"validation": "fail"}`,
			`{"validation": "fail"}`,
			`{"validation": "fail"}`,
		}}
	}
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{noReport(), noReport(), noReport()}}
	var sleeps []time.Duration
	orc := newTestOrchestrator(store, opener, &sleeps)

	orc.ProcessDocument(context.Background(), testRun, "")

	assert.Equal(t, 3, opener.opens, "all attempts consumed")
	for _, name := range datatypes.ExpectedUnits() {
		status, ok := store.status(name)
		require.True(t, ok, "unit %s should have a rollback record", name)
		assert.Equal(t, datatypes.StatusFailed, status, "unit %s", name)
	}
}

// =============================================================================
// Outer Retry
// =============================================================================

func TestProcessDocument_RetriesOnStreamError(t *testing.T) {
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{
		{events: nil, terminal: errors.New("agent backend unreachable")},
		{events: happyPathEvents()},
	}}
	var sleeps []time.Duration
	orc := newTestOrchestrator(store, opener, &sleeps)

	orc.ProcessDocument(context.Background(), testRun, "")

	assert.Equal(t, 2, opener.opens)
	require.Len(t, sleeps, 1, "one delay between the two attempts")
	assert.Equal(t, DefaultRetryPolicy().Delay, sleeps[0])

	for _, name := range datatypes.ExpectedUnits() {
		status, _ := store.status(name)
		assert.Equal(t, datatypes.StatusCompleted, status, "unit %s", name)
	}
}

func TestProcessDocument_RetriesOnExhaustion(t *testing.T) {
	// A stream that just ends (EOF) without acceptance costs the attempt.
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{
		{events: []string{unitEvent(datatypes.UnitPileDetails)}},
		{events: happyPathEvents()},
	}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	assert.Equal(t, 2, opener.opens)
	status, _ := store.status(datatypes.UnitBoq)
	assert.Equal(t, datatypes.StatusCompleted, status)
}

func TestProcessDocument_RecordedSetSurvivesAttempts(t *testing.T) {
	// Attempt 1 records pile_details then dies. Attempt 2 re-emits the same
	// unit; since it is already recorded this run, the event is ignored and
	// the record is not re-written.
	events2 := []string{
		unitEvent(datatypes.UnitPileDetails),
		`{"boq": []}`,
		`{"validation": "pass"}`,
	}
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{
		{events: []string{unitEvent(datatypes.UnitPileDetails)},
			terminal: errors.New("stream died")},
		{events: events2},
	}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	store.mu.Lock()
	writes := store.records[datatypes.UnitPileDetails].writes
	store.mu.Unlock()
	assert.Equal(t, 1, writes)
}

func TestProcessDocument_NoRetryAfterStoreWriteFailure(t *testing.T) {
	// A store write failure fails the attempt; with all attempts failing the
	// same way, unrecorded units roll back (the failing unit's rollback write
	// also fails, which is logged and skipped).
	store := newFakeGateway()
	store.failOn = map[datatypes.UnitName]error{
		datatypes.UnitPileDetails: errors.New("disk full"),
	}
	broken := func() *scriptedStream {
		return &scriptedStream{events: happyPathEvents()}
	}
	opener := &scriptedOpener{streams: []*scriptedStream{broken(), broken(), broken()}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	assert.Equal(t, 3, opener.opens)
	_, ok := store.status(datatypes.UnitPileDetails)
	assert.False(t, ok, "failing unit has no record at all")
}

// =============================================================================
// Rollback
// =============================================================================

func TestProcessDocument_RollbackWritesFailedForUnrecorded(t *testing.T) {
	// Attempt 1 records two units then the stream dies; attempts 2 and 3
	// die immediately. Rollback covers everything else.
	partial := []string{
		unitEvent(datatypes.UnitComponentGeometry),
		unitEvent(datatypes.UnitPileDetails),
	}
	dead := func() *scriptedStream {
		return &scriptedStream{terminal: errors.New("backend down")}
	}
	store := newFakeGateway()
	opener := &scriptedOpener{streams: []*scriptedStream{
		{events: partial, terminal: errors.New("backend down")},
		dead(), dead(),
	}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	for _, name := range []datatypes.UnitName{
		datatypes.UnitComponentGeometry, datatypes.UnitPileDetails,
	} {
		status, _ := store.status(name)
		assert.Equal(t, datatypes.StatusCompleted, status,
			"recorded unit %s must never be demoted", name)
	}

	for _, name := range []datatypes.UnitName{
		datatypes.UnitReinforcementDetails, datatypes.UnitMaterialSpecs,
		datatypes.UnitSeismicArrestors, datatypes.UnitStructuralNotes,
		datatypes.UnitComplianceParameters, datatypes.UnitBoq,
	} {
		status, ok := store.status(name)
		require.True(t, ok, "unit %s should have a rollback record", name)
		assert.Equal(t, datatypes.StatusFailed, status, "unit %s", name)

		store.mu.Lock()
		payload := store.records[name].payload
		store.mu.Unlock()
		assert.Equal(t, []any{}, payload, "rollback payload is the empty list")
	}
}

func TestProcessDocument_RollbackSecondGuardOnStoredStatus(t *testing.T) {
	// A unit completed by an earlier run with the same key is preserved even
	// when the in-memory recorded set never saw it.
	store := newFakeGateway()
	require.NoError(t, store.Record(context.Background(), testRun,
		datatypes.UnitSeismicArrestors, map[string]any{"from": "earlier run"},
		datatypes.StatusCompleted))

	dead := func() *scriptedStream {
		return &scriptedStream{terminal: errors.New("backend down")}
	}
	opener := &scriptedOpener{streams: []*scriptedStream{dead(), dead(), dead()}}
	orc := newTestOrchestrator(store, opener, nil)

	orc.ProcessDocument(context.Background(), testRun, "")

	status, _ := store.status(datatypes.UnitSeismicArrestors)
	assert.Equal(t, datatypes.StatusCompleted, status)
}

func TestProcessDocument_OpenStreamFailureCostsAttempt(t *testing.T) {
	store := newFakeGateway()
	opener := &scriptedOpener{streams: nil} // every open fails
	var sleeps []time.Duration
	orc := newTestOrchestrator(store, opener, &sleeps)

	orc.ProcessDocument(context.Background(), testRun, "")

	assert.Len(t, sleeps, 2, "delays between 3 attempts, none after the last")
	for _, name := range datatypes.ExpectedUnits() {
		status, ok := store.status(name)
		require.True(t, ok)
		assert.Equal(t, datatypes.StatusFailed, status, "unit %s", name)
	}
}

// =============================================================================
// Fetch Defaults
// =============================================================================

func TestFakeGatewayPendingDefaultMatchesContract(t *testing.T) {
	store := newFakeGateway()
	result, err := store.Fetch(context.Background(), testRun, datatypes.UnitBoq)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusPending, result.Status)
	assert.Equal(t, []any{}, result.Data)
}
