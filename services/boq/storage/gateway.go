// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/girderworks/boqd/services/boq/datatypes"
)

// Key layout. The 0x1f unit separator keeps user-provided identifiers from
// colliding with the key structure.
const (
	unitKeyPrefix    = "unit"
	sessionKeyPrefix = "session"
	keySep           = "\x1f"
)

// Store is the badger-backed persistence gateway for unit records and
// session registrations.
//
// # Description
//
// Record is an unconditional upsert keyed by (user_id, session_id, unit):
// a later write for the same key overwrites the earlier one. Fetch returns
// the pending default when nothing was ever recorded. Status monotonicity
// is a caller responsibility (the pipeline orchestrator checks recorded
// state before rollback writes).
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions serialize conflicting
// writes, and concurrent runs always address disjoint keys.
type Store struct {
	db *badger.DB
}

// Open opens the store with the given configuration.
//
// # Outputs
//
//   - *Store: The opened store. Call Close() when done.
//   - error: Non-nil if the underlying database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory store for testing.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Unit Records
// =============================================================================

// Record upserts the unit record for (run, unit).
//
// # Inputs
//
//   - ctx: Checked for cancellation before the write starts.
//   - run: Run identity scoping the record.
//   - unit: Unit name within the fixed enumeration.
//   - payload: Structured payload, opaque at this layer.
//   - status: Status to store alongside the payload.
//
// # Outputs
//
//   - error: Non-nil if marshaling or the write fails.
func (s *Store) Record(ctx context.Context, run datatypes.RunKey, unit datatypes.UnitName,
	payload any, status datatypes.UnitStatus) error {

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	record := datatypes.UnitRecord{
		UserID:    run.UserID,
		SessionID: run.SessionID,
		Unit:      unit,
		Data:      payload,
		Status:    status,
		UpdatedAt: time.Now().UnixMilli(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal unit record %s: %w", unit, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(unitKey(run, unit), value)
	})
	if err != nil {
		return fmt.Errorf("write unit record %s: %w", unit, err)
	}
	return nil
}

// Fetch returns the last recorded status and payload for (run, unit).
//
// # Outputs
//
//   - datatypes.FetchResult: The stored {status, data}, or the pending
//     default {status: "pending", data: []} when no record exists.
//   - error: Non-nil only on a storage-level failure; a missing record is
//     not an error.
func (s *Store) Fetch(ctx context.Context, run datatypes.RunKey,
	unit datatypes.UnitName) (datatypes.FetchResult, error) {

	if err := ctx.Err(); err != nil {
		return datatypes.FetchResult{}, fmt.Errorf("context cancelled: %w", err)
	}

	var record datatypes.UnitRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(unitKey(run, unit))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.PendingResult(), nil
	}
	if err != nil {
		return datatypes.FetchResult{}, fmt.Errorf("read unit record %s: %w", unit, err)
	}

	return datatypes.FetchResult{Status: record.Status, Data: record.Data}, nil
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession registers a new processing session for the given user and
// returns its identity.
func (s *Store) CreateSession(ctx context.Context, userID string) (datatypes.SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.SessionInfo{}, fmt.Errorf("context cancelled: %w", err)
	}

	info := datatypes.SessionInfo{
		SessionID: uuid.New().String(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(info)
	if err != nil {
		return datatypes.SessionInfo{}, fmt.Errorf("marshal session: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(userID, info.SessionID), value)
	})
	if err != nil {
		return datatypes.SessionInfo{}, fmt.Errorf("write session: %w", err)
	}
	return info, nil
}

// ListSessions returns all registered sessions for the given user.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]datatypes.SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	sessions := make([]datatypes.SessionInfo, 0)
	prefix := []byte(sessionKeyPrefix + keySep + userID + keySep)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var info datatypes.SessionInfo
				if err := json.Unmarshal(value, &info); err != nil {
					return err
				}
				sessions = append(sessions, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// =============================================================================
// Keys
// =============================================================================

func unitKey(run datatypes.RunKey, unit datatypes.UnitName) []byte {
	return []byte(unitKeyPrefix + keySep + run.UserID + keySep + run.SessionID + keySep + string(unit))
}

func sessionKey(userID, sessionID string) []byte {
	return []byte(sessionKeyPrefix + keySep + userID + keySep + sessionID)
}
