// Copyright 2026 CICD AI Toolkit. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for all environment variables.
	EnvPrefix = "WATCHDOG"
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "WATCHDOG_CONFIG"
	// DefaultConfigFile is looked up in the working directory.
	DefaultConfigFile = "watchdog.yaml"
)

// ResolvePath picks the config file: explicit path, then $WATCHDOG_CONFIG,
// then ./watchdog.yaml.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultConfigFile
}

// LoadFile reads the file at path on top of the defaults. A missing file
// yields the defaults unless required is set.
func LoadFile(path string, required bool) (*File, error) {
	cfg := DefaultFile()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
		// defaults only
	default:
		return nil, &ConfigError{Path: path, Err: err}
	}

	applyDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := ValidateSettings(Settings{Global: cfg.Global, Proxy: cfg.Proxy}); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// SaveFile writes f to path through a temp file and rename so readers never
// observe a partially written file. The file holds secrets, hence 0600.
func SaveFile(path string, f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ConfigError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".watchdog-*.yaml")
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &ConfigError{Path: path, Err: err}
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return &ConfigError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
// Format: WATCHDOG_SECTION__KEY=value
func applyEnvOverrides(cfg *File) error {
	if v := os.Getenv("WATCHDOG_GLOBAL__API_URL"); v != "" {
		cfg.Global.APIURL = v
	}
	if v := os.Getenv("WATCHDOG_GLOBAL__TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ConfigError{Field: "global.timeout", Err: err}
		}
		cfg.Global.Timeout = d
	}
	if v := os.Getenv("WATCHDOG_GLOBAL__LOG_LEVEL"); v != "" {
		cfg.Global.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("WATCHDOG_GLOBAL__LOG_FORMAT"); v != "" {
		cfg.Global.LogFormat = strings.ToLower(v)
	}

	proxyEnv := map[string]string{}
	for _, key := range []string{"HOST", "PORT", "USERNAME", "PASSWORD"} {
		if v := os.Getenv("WATCHDOG_PROXY__" + key); v != "" {
			proxyEnv[key] = v
		}
	}
	if len(proxyEnv) == 0 {
		return nil
	}

	if cfg.Proxy == nil {
		cfg.Proxy = &ProxyConfig{}
	}
	if v, ok := proxyEnv["HOST"]; ok {
		cfg.Proxy.Host = v
	}
	if v, ok := proxyEnv["PORT"]; ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "proxy.port", Err: err}
		}
		cfg.Proxy.Port = port
	}
	if v, ok := proxyEnv["USERNAME"]; ok {
		cfg.Proxy.Username = v
	}
	if v, ok := proxyEnv["PASSWORD"]; ok {
		cfg.Proxy.Password = v
	}
	return nil
}

// GetEnvConfig returns all environment variables that start with WATCHDOG_.
func GetEnvConfig() map[string]string {
	result := make(map[string]string)

	for _, env := range os.Environ() {
		if strings.HasPrefix(env, EnvPrefix+"_") {
			kv := strings.SplitN(env, "=", 2)
			if len(kv) == 2 {
				result[kv[0]] = kv[1]
			}
		}
	}

	return result
}

func sortedJobNames(jobs map[string]JobConfig) []string {
	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Path  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return "config error in " + e.Path + ": " + e.Err.Error()
	}
	if e.Field != "" {
		return "config error for " + e.Field + ": " + e.Err.Error()
	}
	return fmt.Sprintf("config error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
