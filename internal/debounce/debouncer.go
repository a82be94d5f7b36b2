// Package debounce suppresses duplicate or rapid-fire signals.
package debounce

import (
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// DefaultInterval is the minimum spacing for identical payloads.
const DefaultInterval = time.Second

// Config holds debouncer configuration.
type Config struct {
	DefaultInterval time.Duration            // Used when a category has no override
	Categories      map[string]time.Duration // Per source category, e.g. "short_video": 2s
}

// DefaultConfig returns default debouncer configuration.
func DefaultConfig() Config {
	return Config{
		DefaultInterval: DefaultInterval,
		Categories: map[string]time.Duration{
			"short_video": 2 * time.Second,
		},
	}
}

type entry struct {
	payload string
	at      time.Time
}

// Debouncer remembers the last emitted payload per key.
type Debouncer struct {
	mu      sync.Mutex
	config  Config
	entries map[string]entry
}

// New creates a debouncer.
func New(config Config) *Debouncer {
	if config.DefaultInterval <= 0 {
		config.DefaultInterval = DefaultInterval
	}
	return &Debouncer{
		config:  config,
		entries: make(map[string]entry),
	}
}

// Key builds the default key: event kind plus package id.
func Key(kind domain.EventKind, packageID string) string {
	return string(kind) + "|" + packageID
}

// IntervalFor returns the minimum interval for a category.
func (d *Debouncer) IntervalFor(category string) time.Duration {
	if iv, ok := d.config.Categories[category]; ok && iv > 0 {
		return iv
	}
	return d.config.DefaultInterval
}

// ShouldEmit applies the default interval.
func (d *Debouncer) ShouldEmit(key, payload string, now time.Time) bool {
	return d.ShouldEmitWithin(key, payload, d.config.DefaultInterval, now)
}

// ShouldEmitWithin reports whether payload may be emitted for key at now,
// and records it as emitted if so.
func (d *Debouncer) ShouldEmitWithin(key, payload string, interval time.Duration, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, seen := d.entries[key]
	if seen && last.payload == payload && now.Sub(last.at) < interval {
		return false
	}
	d.entries[key] = entry{payload: payload, at: now}
	return true
}

// Allow filters an activity event. Launch and exit events always pass.
func (d *Debouncer) Allow(event domain.ActivityEvent, category string) bool {
	if event.Kind.IsTransition() {
		return true
	}
	return d.ShouldEmitWithin(Key(event.Kind, event.PackageID), event.Detail,
		d.IntervalFor(category), event.OccurredAt)
}

// Forget drops the memory for a key.
func (d *Debouncer) Forget(key string) {
	d.mu.Lock()
	delete(d.entries, key)
	d.mu.Unlock()
}

// Reset drops all memory.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.entries = make(map[string]entry)
	d.mu.Unlock()
}
