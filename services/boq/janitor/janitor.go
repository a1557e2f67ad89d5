// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package janitor removes stale files from the upload staging directory.
//
// A pipeline run deletes its own staged upload when it finishes, so under
// normal operation the staging directory stays empty. Files survive only
// when the process dies mid-run; the janitor sweeps those orphans on a
// timer so staging space cannot leak across restarts.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock { return systemClock{} }

// Config holds configuration for the staging janitor.
//
// # Fields
//
//   - Dir: The staging directory to sweep. Required.
//   - Interval: How often to sweep. Default: 1 hour.
//   - MaxAge: Files older than this are orphans. Default: 6 hours, which
//     comfortably exceeds the longest possible run (attempts × delay plus
//     stream time).
type Config struct {
	Dir      string
	Interval time.Duration
	MaxAge   time.Duration
}

// DefaultConfig returns production defaults for the given directory.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:      dir,
		Interval: 1 * time.Hour,
		MaxAge:   6 * time.Hour,
	}
}

// Janitor periodically sweeps orphaned staged uploads. It uses the
// ticker + done channel pattern for graceful shutdown.
//
// # Thread Safety
//
// All public methods are thread-safe; a mutex protects the running state.
type Janitor struct {
	config  Config
	clock   Clock
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// New creates a janitor over the given staging directory. A nil clock uses
// the system clock; zero durations use the defaults.
func New(cfg Config, clock Clock) *Janitor {
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig(cfg.Dir).Interval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig(cfg.Dir).MaxAge
	}
	return &Janitor{config: cfg, clock: clock}
}

// Start launches the background sweep loop. It sweeps once immediately so
// orphans from a previous process are cleared at startup.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor already running")
	}
	if j.config.Dir == "" {
		return fmt.Errorf("janitor: staging directory not configured")
	}
	j.done = make(chan struct{})
	j.running = true

	go j.run(ctx)
	slog.Info("Staging janitor started",
		"dir", j.config.Dir,
		"interval", j.config.Interval,
		"max_age", j.config.MaxAge,
	)
	return nil
}

// Stop shuts down the sweep loop. Safe to call when not running.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	close(j.done)
	j.running = false
}

func (j *Janitor) run(ctx context.Context) {
	j.Sweep()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep()
		case <-j.done:
			slog.Info("Staging janitor stopped")
			return
		case <-ctx.Done():
			slog.Info("Staging janitor context cancelled")
			return
		}
	}
}

// Sweep removes every regular file in the staging directory older than
// MaxAge and returns how many were removed. Errors on individual files are
// logged and skipped; the sweep keeps going.
func (j *Janitor) Sweep() int {
	entries, err := os.ReadDir(j.config.Dir)
	if err != nil {
		slog.Warn("Janitor cannot read staging directory",
			"dir", j.config.Dir, "error", err)
		return 0
	}

	cutoff := j.clock.Now().Add(-j.config.MaxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(j.config.Dir, entry.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("Janitor failed to remove orphaned upload",
				"path", path, "error", err)
			continue
		}
		removed++
		slog.Info("Removed orphaned staged upload",
			"path", path, "age", j.clock.Now().Sub(info.ModTime()))
	}
	return removed
}
