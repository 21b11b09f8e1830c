// Copyright 2026 CICD AI Toolkit. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"time"
)

// DefaultTimeout bounds connect plus read of a single report delivery.
const DefaultTimeout = 10 * time.Second

// DefaultFile returns the default configuration.
// These values are used when no config file is present.
func DefaultFile() *File {
	return &File{
		Global: DefaultGlobalConfig(),
		Jobs:   map[string]JobConfig{},
	}
}

// DefaultGlobalConfig returns default global configuration.
// The endpoint has no default; it must be set by an administrator.
func DefaultGlobalConfig() Global {
	return Global{
		Timeout:   DefaultTimeout,
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(f *File) {
	if f.Global.Timeout == 0 {
		f.Global.Timeout = DefaultTimeout
	}
	if f.Global.LogLevel == "" {
		f.Global.LogLevel = "info"
	}
	if f.Global.LogFormat == "" {
		f.Global.LogFormat = "json"
	}
	if f.Jobs == nil {
		f.Jobs = map[string]JobConfig{}
	}
}
