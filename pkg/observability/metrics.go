// Copyright 2026 CICD AI Toolkit. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");

package observability

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxSamples caps each histogram.
const DefaultMaxSamples = 1000

// Metrics is an in-process collector of counters and duration samples,
// exposed as a snapshot on the admin surface.
type Metrics struct {
	mu         sync.RWMutex
	counters   map[string]float64
	histograms map[string][]float64
	maxSamples int
}

// NewMetrics creates a collector keeping at most maxSamples per histogram;
// zero means DefaultMaxSamples.
func NewMetrics(maxSamples int) *Metrics {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Metrics{
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
		maxSamples: maxSamples,
	}
}

// Counter adds value to a counter.
func (m *Metrics) Counter(name string, value float64, labels map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name, labels)] += value
}

// CounterGet returns the sum of a counter over all label sets.
func (m *Metrics) CounterGet(name string) float64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for key, v := range m.counters {
		if key == name || strings.HasPrefix(key, name+"{") {
			total += v
		}
	}
	return total
}

// Histogram records one sample, dropping the oldest beyond the cap.
func (m *Metrics) Histogram(name string, value float64, labels map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := metricKey(name, labels)
	samples := append(m.histograms[key], value)
	if len(samples) > m.maxSamples {
		samples = samples[len(samples)-m.maxSamples:]
	}
	m.histograms[key] = samples
}

// Timing counts a call of name and records its duration in milliseconds.
func (m *Metrics) Timing(name string, d time.Duration, labels map[string]string) {
	m.Counter(name+".calls", 1, labels)
	m.Histogram(name+".duration_ms", float64(d)/float64(time.Millisecond), labels)
}

// GetAverageDuration averages the Timing samples of name over all labels.
func (m *Metrics) GetAverageDuration(name string) time.Duration {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := name + ".duration_ms"
	var sum float64
	var n int
	for key, samples := range m.histograms {
		if key != prefix && !strings.HasPrefix(key, prefix+"{") {
			continue
		}
		for _, s := range samples {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return time.Duration(sum / float64(n) * float64(time.Millisecond))
}

// RecordDelivery counts one report delivery by outcome.
func (m *Metrics) RecordDelivery(outcome string, d time.Duration) {
	m.Timing("delivery", d, map[string]string{"outcome": outcome})
}

// GetSnapshot returns counters as float64 and histograms as copies of
// their samples, keyed "counter.<key>" and "histogram.<key>".
func (m *Metrics) GetSnapshot() map[string]any {
	if m == nil {
		return map[string]any{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]any, len(m.counters)+len(m.histograms))
	for key, v := range m.counters {
		out["counter."+key] = v
	}
	for key, samples := range m.histograms {
		out["histogram."+key] = append([]float64(nil), samples...)
	}
	return out
}

// metricKey renders name{k=v,...} with labels sorted by key.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
