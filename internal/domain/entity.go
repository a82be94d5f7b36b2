// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"time"
)

var (
	// ErrEmptyPackageID is returned when a policy mutation names no package.
	ErrEmptyPackageID = errors.New("empty package id")

	// ErrStoreClosed is returned by persistent stores after Close.
	ErrStoreClosed = errors.New("store closed")
)

// EventKind identifies the type of an activity event.
type EventKind string

const (
	KindAppLaunch      EventKind = "APP_LAUNCH"
	KindAppExit        EventKind = "APP_EXIT"
	KindActivityDetail EventKind = "ACTIVITY_DETAIL"
)

// IsTransition reports whether the kind marks a session boundary.
// Boundaries always carry information and are never debounced.
func (k EventKind) IsTransition() bool {
	return k == KindAppLaunch || k == KindAppExit
}

// SignalSource tells where a foreground signal came from.
type SignalSource string

const (
	SourcePush SignalSource = "push"
	SourcePoll SignalSource = "poll"
)

// Signal is one raw foreground observation.
type Signal struct {
	PackageID string
	Title     string            // Raw title/content text, may be empty
	Elements  map[string]string // Resolvable view elements by id, may be nil
	At        time.Time
	Source    SignalSource
}

// ForegroundRecord is one row of a point-in-time usage query.
type ForegroundRecord struct {
	PackageID    string
	Title        string
	LastActiveAt time.Time // When the package last became foreground
}

// ForegroundSession is one continuous period a single application occupies the foreground.
type ForegroundSession struct {
	PackageID   string
	StartedAt   time.Time
	WindowTitle string
}

// SessionTransition is what the tracker reports for a single observation.
type SessionTransition struct {
	Closed   *ForegroundSession // Superseded session, nil if none
	Opened   *ForegroundSession // New session, nil if the package did not change
	Duration time.Duration      // Length of Closed
	Detail   string             // Detail text observed for the current session
	Events   []ActivityEvent    // Events that passed the debouncer
}

// ActivityEvent is an emitted, already-debounced fact.
type ActivityEvent struct {
	Kind            EventKind
	PackageID       string
	DisplayName     string
	Detail          string
	OccurredAt      time.Time
	FormattedTime   string // HH:mm:ss in the configured location
	DurationSeconds int64  // Set on APP_EXIT only
}

// EnforcementAttempt is the ephemeral per-violation record.
type EnforcementAttempt struct {
	ID              string
	PackageID       string
	Attempts        int
	FirstDetectedAt time.Time
	WarningShown    bool
}

// EnforcementAction captures what a single evaluation did.
type EnforcementAction struct {
	AttemptID      string
	PackageID      string
	TerminateErr   error // Best-effort; nil does not guarantee the process is gone
	Navigated      bool
	WarningShown   bool
	RetryScheduled bool
	At             time.Time
}
