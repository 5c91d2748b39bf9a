// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the engine configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Providers ProvidersConfig `yaml:"providers"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// StorageConfig holds the badger settings.
type StorageConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gt=0"`
}

// ProvidersConfig selects which generation backends are wired. API keys
// come from the environment or secret files, never from this file.
type ProvidersConfig struct {
	// Default is used when a build request carries no provider.
	Default string `yaml:"default" validate:"oneof=openai claude gemini auto"`

	// OpenAIEnabled wires the openai backend when its key is present.
	OpenAIEnabled bool `yaml:"openai_enabled"`
}

// SchedulerConfig holds the background job intervals.
type SchedulerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	HourlyInterval time.Duration `yaml:"hourly_interval" validate:"gt=0"`
	NightInterval  time.Duration `yaml:"night_interval" validate:"gt=0"`
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// TracingConfig holds the OTLP exporter settings.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Path:       "/var/lib/nirman/db",
			SyncWrites: false,
			GCInterval: 10 * time.Minute,
		},
		Providers: ProvidersConfig{
			Default:       "auto",
			OpenAIEnabled: true,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			HourlyInterval: time.Hour,
			NightInterval:  24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
		Tracing: TracingConfig{
			Endpoint: "localhost:4317",
		},
	}
}

// Validate checks the config against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
