// Copyright 2026 CICD AI Toolkit. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package listener reacts to build completion events and pushes one build
// report per completed build.
package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cicd-ai-toolkit/watchdog/pkg/build"
	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
	"github.com/cicd-ai-toolkit/watchdog/pkg/delivery"
	"github.com/cicd-ai-toolkit/watchdog/pkg/errors"
	"github.com/cicd-ai-toolkit/watchdog/pkg/events"
	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
)

// DefaultDedupWindow is how long a handled build key is remembered.
const DefaultDedupWindow = time.Hour

// SettingsSource hands out the current global settings snapshot.
// *config.Store implements it.
type SettingsSource interface {
	Settings() *config.Settings
}

// Options tunes a Listener.
type Options struct {
	// DedupWindow is how long a second completion of the same build is
	// ignored. Zero means DefaultDedupWindow; negative disables dedup.
	DedupWindow time.Duration

	// Metrics, when set, counts delivery outcomes and durations.
	Metrics *observability.Metrics
}

// Listener is the completion listener.
type Listener struct {
	settings SettingsSource
	log      observability.Logger
	seen     *cache.Cache
	metrics  *observability.Metrics
}

// New creates a listener reading global settings from src.
func New(src SettingsSource, log observability.Logger, opts Options) *Listener {
	if log == nil {
		log = observability.Nop()
	}

	l := &Listener{settings: src, log: log, metrics: opts.Metrics}

	window := opts.DedupWindow
	if window == 0 {
		window = DefaultDedupWindow
	}
	if window > 0 {
		l.seen = cache.New(window, 2*window)
	}
	return l
}

// Register subscribes the listener to completion events on bus.
func (l *Listener) Register(bus *events.Bus) *events.Subscription {
	return bus.Subscribe("watchdog", events.EventCompleted, func(ctx context.Context, e *events.Event) error {
		if res := l.Handle(ctx, e); errors.ShouldFailBuild(res.Err) {
			return res.Err
		}
		return nil
	})
}

// Classify maps a terminal status to the reported outcome. Only a
// successful build is true.
func Classify(status build.Status) bool {
	return status == build.StatusSuccess
}

// Handle processes one completion event. The notifier step is resolved once
// from the event and reused; at most one delivery is attempted. Handle never
// panics and never returns an error: the build's own result is not its
// concern.
func (l *Listener) Handle(ctx context.Context, e *events.Event) (res delivery.Result) {
	console := build.NewConsole(nil)
	if e != nil && e.Console != nil {
		console = e.Console
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("completion handling panicked: %v", r)
			l.log.Error("build report skipped", observability.Err(err))
			console.Printf("%s internal error, build report was not sent", delivery.ConsolePrefix)
			res = delivery.Result{Outcome: delivery.Skipped, Err: err}
		}
	}()

	if e == nil || e.Build == nil {
		l.log.Warn("completion event without build record")
		return delivery.Result{Outcome: delivery.Skipped}
	}
	b := e.Build
	log := l.log.With(observability.String("build", b.Key()))

	if l.seen != nil {
		if err := l.seen.Add(b.Key(), e.Timestamp, cache.DefaultExpiration); err != nil {
			log.Debug("duplicate completion event ignored")
			return delivery.Result{Outcome: delivery.Skipped}
		}
	}

	step, ok := e.Publishers.First(config.CapabilityNotifier)
	notifier, isNotifier := step.(config.Notifier)
	if !ok || !isNotifier {
		log.Debug("no notifier configured")
		console.Printf("%s no notifier configured for job %s, data will not be sent", delivery.ConsolePrefix, b.Job)
		return delivery.Result{Outcome: delivery.Skipped}
	}

	settings := l.snapshot()
	outcome := Classify(b.Status)
	log.Debug("dispatching build report",
		observability.Stringer("status", b.Status),
		observability.Bool("result", outcome),
	)

	start := time.Now()
	res = delivery.NewService(b, console, settings, notifier.Notifier(), l.log).Send(ctx, outcome)
	l.metrics.RecordDelivery(res.Outcome.String(), time.Since(start))
	return res
}

// Forget drops a build key from the dedup window so it can be reported again.
func (l *Listener) Forget(key string) {
	if l.seen != nil {
		l.seen.Delete(key)
	}
}

func (l *Listener) snapshot() *config.Settings {
	if l.settings != nil {
		if s := l.settings.Settings(); s != nil {
			return s
		}
	}
	return &config.Settings{}
}
