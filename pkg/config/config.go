// Copyright 2026 CICD AI Toolkit. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config provides configuration management for the watchdog notifier.
//
// Two independent levels exist:
//   - Settings: the global reporting endpoint plus host proxy, edited by an
//     administrator and read concurrently by every delivery.
//   - Jobs: per-job post-build steps, one of which may carry the
//     microServiceId/signature pair of a watchdog notifier.
//
// Configuration Loading Order (later overrides earlier):
// 1. Defaults (hardcoded)
// 2. Config file: --config, $WATCHDOG_CONFIG or ./watchdog.yaml
// 3. Environment Variables: WATCHDOG_*
package config

import (
	"strings"
	"time"
)

// File is the on-disk layout of the configuration.
type File struct {
	Global Global               `yaml:"global"`
	Proxy  *ProxyConfig         `yaml:"proxy,omitempty"`
	Jobs   map[string]JobConfig `yaml:"jobs,omitempty"`
}

// Settings is the snapshot unit swapped atomically on every admin save.
type Settings struct {
	Global Global       `json:"global"`
	Proxy  *ProxyConfig `json:"proxy,omitempty"`
}

// Global contains the administrator-edited notifier settings.
type Global struct {
	APIURL    string        `yaml:"api_url" json:"apiUrl"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	LogLevel  string        `yaml:"log_level" json:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string        `yaml:"log_format" json:"logFormat" validate:"omitempty,oneof=json text"`
}

// ProxyConfig is the host-wide outbound proxy.
type ProxyConfig struct {
	Host     string `yaml:"host" json:"host" validate:"required_with=Port"`
	Port     int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Enabled reports whether a proxy host is configured.
func (p *ProxyConfig) Enabled() bool {
	return p != nil && strings.TrimSpace(p.Host) != ""
}

// HasCredentials reports whether both username and password are non-blank.
func (p *ProxyConfig) HasCredentials() bool {
	if !p.Enabled() {
		return false
	}
	return strings.TrimSpace(p.Username) != "" && strings.TrimSpace(p.Password) != ""
}

// NotifierConfig is the per-job pair attached by a watchdog post-build step.
type NotifierConfig struct {
	MicroServiceID string `yaml:"micro_service_id" json:"microServiceId" validate:"required,integer"`
	Signature      string `yaml:"signature" json:"signature" validate:"required"`
}

// JobConfig holds the post-build steps configured for one job, in order.
type JobConfig struct {
	Publishers Steps `yaml:"publishers"`
}

// MaskedValue replaces a secret shown to an operator.
const MaskedValue = "****"

// Masked returns a copy safe to show to an operator.
func (s Settings) Masked() Settings {
	out := s
	if s.Proxy != nil {
		p := *s.Proxy
		if p.Password != "" {
			p.Password = MaskedValue
		}
		out.Proxy = &p
	}
	return out
}

// Masked returns a copy with the proxy password and every job signature
// masked.
func (f *File) Masked() *File {
	settings := Settings{Global: f.Global, Proxy: f.Proxy}.Masked()
	jobs := make(map[string]JobConfig, len(f.Jobs))
	for name, job := range f.Jobs {
		jobs[name] = JobConfig{Publishers: job.Publishers.Masked()}
	}
	return &File{Global: settings.Global, Proxy: settings.Proxy, Jobs: jobs}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	if s.Proxy != nil {
		p := *s.Proxy
		out.Proxy = &p
	}
	return out
}
