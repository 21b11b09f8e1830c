// Copyright 2026 CICD AI Toolkit. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package events is the build lifecycle event source. Listeners subscribe
// explicitly when the process starts and stay subscribed until it exits.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cicd-ai-toolkit/watchdog/pkg/build"
	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
)

// EventType is a build lifecycle phase.
type EventType string

const (
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFinalized EventType = "finalized"
)

// ParseEventType maps a host phase name such as "COMPLETED" to an EventType.
func ParseEventType(phase string) (EventType, bool) {
	switch EventType(strings.ToLower(strings.TrimSpace(phase))) {
	case EventStarted:
		return EventStarted, true
	case EventCompleted:
		return EventCompleted, true
	case EventFinalized:
		return EventFinalized, true
	}
	return "", false
}

// Event is one lifecycle notification for a build. Publishers carries the
// owning job's post-build steps as they were when the event was raised.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	Build      *build.Build
	Publishers config.Steps
	Console    *build.Console
}

// HandlerFunc is called for every published event of the subscribed type.
type HandlerFunc func(ctx context.Context, event *Event) error

// Subscription is a registered handler.
type Subscription struct {
	ID      string
	Name    string
	Event   EventType
	Handler HandlerFunc
}

// Result is the outcome of one handler invocation.
type Result struct {
	SubscriptionID string
	Name           string
	Success        bool
	Error          string
	Duration       time.Duration
}

// Bus dispatches events to subscriptions. Publish may be called from many
// goroutines; handlers for one event run in subscription order on the
// caller's goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]*Subscription
	log  observability.Logger
}

// NewBus creates an empty bus.
func NewBus(log observability.Logger) *Bus {
	if log == nil {
		log = observability.Nop()
	}
	return &Bus{
		subs: make(map[EventType][]*Subscription),
		log:  log,
	}
}

// Subscribe registers handler for eventType and returns the subscription.
func (b *Bus) Subscribe(name string, eventType EventType, handler HandlerFunc) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Name:    name,
		Event:   eventType,
		Handler: handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], sub)

	b.log.Debug("subscribed",
		observability.String("name", name),
		observability.String("event", string(eventType)),
	)
	return sub
}

// Unsubscribe removes a subscription. It reports whether it was found.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subs {
		for i, s := range subs {
			if s.ID != id {
				continue
			}
			filtered := make([]*Subscription, 0, len(subs)-1)
			filtered = append(filtered, subs[:i]...)
			filtered = append(filtered, subs[i+1:]...)
			b.subs[eventType] = filtered
			return true
		}
	}
	return false
}

// Subscriptions returns a copy of the subscriptions for eventType.
func (b *Bus) Subscriptions(eventType EventType) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subs[eventType]
	out := make([]*Subscription, len(subs))
	copy(out, subs)
	return out
}

// Publish runs every handler subscribed to event.Type and returns once all
// of them have returned. A failing or panicking handler does not stop the
// others.
func (b *Bus) Publish(ctx context.Context, event *Event) []*Result {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Console == nil {
		event.Console = build.NewConsole(nil)
	}

	subs := b.Subscriptions(event.Type)
	results := make([]*Result, 0, len(subs))
	for _, sub := range subs {
		results = append(results, b.dispatch(ctx, sub, event))
	}
	return results
}

func (b *Bus) dispatch(ctx context.Context, sub *Subscription, event *Event) (result *Result) {
	start := time.Now()
	result = &Result{SubscriptionID: sub.ID, Name: sub.Name}

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("handler panicked: %v", r)
		}
		result.Duration = time.Since(start)
		result.Success = result.Error == ""
		if !result.Success {
			b.log.Warn("event handler failed",
				observability.String("name", sub.Name),
				observability.String("event", string(event.Type)),
				observability.String("error", result.Error),
			)
		}
	}()

	if sub.Handler == nil {
		result.Error = "no handler"
		return result
	}
	if err := sub.Handler(ctx, event); err != nil {
		result.Error = err.Error()
	}
	return result
}
