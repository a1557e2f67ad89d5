// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command boqd starts the Girderworks BoQ extraction HTTP server.
//
// This is the main entry point for the containerized boqd service. It reads
// configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - BOQD_PORT: HTTP server port (default: 8060)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama (default: ollama)
//   - BOQD_DATA_DIR: embedded store directory (default: ./data/boqd)
//   - BOQD_UPLOAD_DIR: upload staging directory (default: ./data/uploads)
//   - BOQD_MAX_VALIDATIONS: report validation ceiling (default: 3)
//   - BOQD_RUN_ATTEMPTS: whole-run retry budget (default: 3)
//   - BOQD_RETRY_DELAY_SECONDS: wait between run attempts (default: 60)
//   - BOQD_AGENTS_CONFIG: optional agents.yaml path for stage tuning
//   - BOQD_LOG_DIR: optional directory for JSON log files
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: boqd-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o boqd ./cmd/boqd
//
//	# Run
//	./boqd
//
//	# Or via container
//	podman-compose up boqd
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/girderworks/boqd/pkg/logging"
	"github.com/girderworks/boqd/services/boq"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("BOQD_LOG_DIR"),
		Service: "boqd",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := boq.Config{
		Port:             getEnvInt("BOQD_PORT", 8060),
		LLMBackend:       getEnvString("LLM_BACKEND_TYPE", "ollama"),
		DataDir:          getEnvString("BOQD_DATA_DIR", "./data/boqd"),
		UploadDir:        getEnvString("BOQD_UPLOAD_DIR", "./data/uploads"),
		MaxValidations:   getEnvInt("BOQD_MAX_VALIDATIONS", 3),
		RunAttempts:      getEnvInt("BOQD_RUN_ATTEMPTS", 3),
		RetryDelay:       time.Duration(getEnvInt("BOQD_RETRY_DELAY_SECONDS", 60)) * time.Second,
		AgentsConfigPath: os.Getenv("BOQD_AGENTS_CONFIG"),
		OTelEndpoint:     getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "boqd-otel-collector:4317"),
	}

	slog.Info("Starting boqd",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"data_dir", cfg.DataDir,
	)

	svc, err := boq.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create boqd service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("boqd error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
