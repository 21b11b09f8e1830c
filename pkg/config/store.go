// Copyright 2026 CICD AI Toolkit. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Store holds the live configuration of a running notifier.
//
// Settings are read by every in-flight delivery and replaced as a whole by
// an admin save, so readers always see either the old or the new value.
// Jobs are read-mostly and guarded by a RWMutex.
type Store struct {
	path     string
	settings atomic.Pointer[Settings]

	jobsMu sync.RWMutex
	jobs   map[string]JobConfig

	// writeMu serialises writers so saves hit the disk in update order.
	writeMu sync.Mutex
}

// NewStore creates a store from an already loaded file. An empty path
// keeps updates in memory only.
func NewStore(path string, f *File) *Store {
	s := &Store{
		path: path,
		jobs: make(map[string]JobConfig, len(f.Jobs)),
	}
	settings := Settings{Global: f.Global, Proxy: f.Proxy}.Clone()
	s.settings.Store(&settings)
	for name, job := range f.Jobs {
		s.jobs[name] = cloneJob(job)
	}
	return s
}

// Load reads path and wraps it in a Store.
func Load(path string, required bool) (*Store, error) {
	f, err := LoadFile(path, required)
	if err != nil {
		return nil, err
	}
	return NewStore(path, f), nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Settings returns the current snapshot. Callers must not modify it.
func (s *Store) Settings() *Settings {
	return s.settings.Load()
}

// UpdateSettings validates next, swaps it in and persists the file.
func (s *Store) UpdateSettings(next Settings) error {
	if err := ValidateSettings(next); err != nil {
		return err
	}
	if r := CheckAPIURL(next.Global.APIURL); !r.IsOK() {
		return &ValidationError{Field: FieldAPIURL, Value: next.Global.APIURL, Message: r.Message}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snapshot := next.Clone()
	prev := s.settings.Swap(&snapshot)
	if err := s.persistLocked(); err != nil {
		s.settings.Store(prev)
		return err
	}
	return nil
}

// Publishers returns a copy of the post-build steps of job, in order.
func (s *Store) Publishers(job string) (Steps, bool) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	cfg, ok := s.jobs[job]
	if !ok {
		return nil, false
	}
	return append(Steps(nil), cfg.Publishers...), true
}

// PutJob replaces the steps of one job after validating its notifier steps.
func (s *Store) PutJob(name string, job JobConfig) error {
	if name == "" {
		return &ValidationError{Field: "job", Message: "name must not be empty"}
	}
	for i, step := range job.Publishers {
		if n, ok := step.(Notifier); ok {
			if err := n.Notifier().Validate(); err != nil {
				return fmt.Errorf("publishers[%d]: %w", i, err)
			}
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.jobsMu.Lock()
	prev, existed := s.jobs[name]
	s.jobs[name] = cloneJob(job)
	s.jobsMu.Unlock()

	if err := s.persistLocked(); err != nil {
		s.jobsMu.Lock()
		if existed {
			s.jobs[name] = prev
		} else {
			delete(s.jobs, name)
		}
		s.jobsMu.Unlock()
		return err
	}
	return nil
}

// Jobs returns the names of all configured jobs.
func (s *Store) Jobs() []string {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	return sortedJobNames(s.jobs)
}

// File returns a copy of the full configuration as it would be saved.
func (s *Store) File() *File {
	settings := s.Settings().Clone()

	s.jobsMu.RLock()
	jobs := make(map[string]JobConfig, len(s.jobs))
	for name, job := range s.jobs {
		jobs[name] = cloneJob(job)
	}
	s.jobsMu.RUnlock()

	return &File{Global: settings.Global, Proxy: settings.Proxy, Jobs: jobs}
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	return SaveFile(s.path, s.File())
}

func cloneJob(job JobConfig) JobConfig {
	return JobConfig{Publishers: append(Steps(nil), job.Publishers...)}
}
