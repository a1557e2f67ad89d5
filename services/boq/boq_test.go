// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package boq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/girderworks/boqd/services/boq/pipeline"
)

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})

	assert.Equal(t, 8060, cfg.Port)
	assert.Equal(t, "ollama", cfg.LLMBackend)
	assert.Equal(t, "./data/boqd", cfg.DataDir)
	assert.Equal(t, "./data/uploads", cfg.UploadDir)
	assert.Equal(t, pipeline.DefaultMaxValidations, cfg.MaxValidations)
	assert.Equal(t, pipeline.DefaultRetryPolicy().MaxAttempts, cfg.RunAttempts)
	assert.Equal(t, pipeline.DefaultRetryPolicy().Delay, cfg.RetryDelay)
	assert.Equal(t, "boqd-otel-collector:4317", cfg.OTelEndpoint)
	assert.False(t, cfg.DisableMetrics, "metrics are on by default")
}

func TestApplyConfigDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := applyConfigDefaults(Config{
		Port:           9000,
		LLMBackend:     "openai",
		MaxValidations: 5,
		RunAttempts:    1,
		RetryDelay:     time.Second,
		DisableMetrics: true,
	})

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "openai", cfg.LLMBackend)
	assert.Equal(t, 5, cfg.MaxValidations)
	assert.Equal(t, 1, cfg.RunAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.True(t, cfg.DisableMetrics, "caller opt-out is honored")
}
