package domain

import (
	"context"
	"time"
)

// ForegroundQuery answers which packages recently became foreground.
// Implementation: xdotool on X11; usage-stats style queries elsewhere.
type ForegroundQuery interface {
	// QueryRecentForeground returns records whose LastActiveAt falls in [start, end].
	QueryRecentForeground(ctx context.Context, start, end time.Time) ([]ForegroundRecord, error)
}

// SignalStream delivers push-style foreground notifications.
type SignalStream interface {
	// Signals returns the notification channel. It is closed when the stream stops.
	Signals() <-chan Signal
}

// Terminator stops a running application.
// Termination is best-effort: some platforms can only background an app.
type Terminator interface {
	// Terminate requests termination of every process of the package.
	Terminate(packageID string) error

	// IsRunning reports whether the package still has a live process.
	IsRunning(packageID string) bool
}

// Navigator returns the user to a neutral surface (home screen, desktop).
type Navigator interface {
	NavigateToNeutral() error
}

// WarningDisplay shows and hides the user-visible blocking warning.
type WarningDisplay interface {
	ShowWarning(text string) error
	HideWarning() error
}

// LabelRegistry maps package identifiers to human-readable labels.
type LabelRegistry interface {
	// ResolveLabel returns the label, or an error if the package is unknown.
	ResolveLabel(packageID string) (string, error)
}

// PolicyStore provides access to the blocked package set.
// All methods must be safe for concurrent use.
type PolicyStore interface {
	// Contains reports whether the package is blocked.
	Contains(packageID string) (bool, error)

	// Add blocks a package.
	Add(packageID string) error

	// Remove unblocks a package.
	Remove(packageID string) error

	// List returns all blocked package IDs, sorted.
	List() ([]string, error)
}

// EventSubscriber receives published activity events.
type EventSubscriber interface {
	Deliver(event ActivityEvent)
}

// Timer is a scheduled callback that can be canceled.
type Timer interface {
	// Stop cancels the callback; it returns false if it already fired or was stopped.
	Stop() bool
}

// Clock abstracts wall time and scheduling so timing logic is testable.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
