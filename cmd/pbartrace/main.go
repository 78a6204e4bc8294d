// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pbartrace starts the progress-bar telemetry ingest HTTP server.
//
// # Environment Variables
//
//   - PBARTRACE_PORT: HTTP server port (default: 8090)
//   - PBARTRACE_DATA_DIR: badger database directory (default: ./data/pbartrace)
//   - PBARTRACE_USE_BADGER: "true" to persist hot state to badger instead
//     of keeping it in memory (default: false)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default:
//     pbartrace-otel-collector:4317)
//
// # Usage
//
//	go build -o pbartrace ./cmd/pbartrace
//	./pbartrace
package main

import (
	"log"
	"os"
	"strconv"

	"github.com/AleutianAI/pbartrace/internal/schema"
	"github.com/AleutianAI/pbartrace/pkg/logging"
	"github.com/AleutianAI/pbartrace/services/telemetry"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "pbartrace",
		JSON:    true,
	})
	defer logger.Close()

	cfg := telemetry.Config{
		Port:         getEnvInt("PBARTRACE_PORT", 8090),
		DataDir:      getEnvString("PBARTRACE_DATA_DIR", "./data/pbartrace"),
		UseBadger:    getEnvBool("PBARTRACE_USE_BADGER", false),
		OTelEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "pbartrace-otel-collector:4317"),
	}

	logger.Info("starting pbartrace",
		"port", cfg.Port,
		"use_badger", cfg.UseBadger,
		"data_dir", cfg.DataDir,
	)

	// The bar/step CRUD surface is out of scope for this core (§1); a
	// local MemoryStore stands in for it until a real registration
	// service is wired in front.
	schemaStore := schema.NewMemoryStore()

	svc, err := telemetry.New(cfg, schemaStore, nil)
	if err != nil {
		logger.Error("failed to create telemetry service", "error", err)
		log.Fatalf("failed to create telemetry service: %v", err)
	}

	if err := svc.Run(); err != nil {
		logger.Error("telemetry service exited", "error", err)
		log.Fatalf("telemetry service error: %v", err)
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
