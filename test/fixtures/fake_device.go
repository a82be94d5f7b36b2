package fixtures

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// FakeDevice stands in for every platform collaborator of the core:
// foreground query, termination, navigation, warning display and labels.
type FakeDevice struct {
	mu sync.Mutex

	running      map[string]bool
	stubborn     map[string]int // Terminate calls to ignore before the app dies
	labels       map[string]string
	records      []domain.ForegroundRecord
	queryErr     error
	terminateErr error
	navigateErr  error
	showErr      error

	terminateCalls []string
	navigateCalls  int
	shown          []string
	hideCalls      int
	warningVisible bool
}

// NewFakeDevice creates an empty fake device.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		running:  make(map[string]bool),
		stubborn: make(map[string]int),
		labels:   make(map[string]string),
	}
}

// SetRunning marks a package as running or not.
func (d *FakeDevice) SetRunning(packageID string, running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[packageID] = running
}

// SetStubborn makes the next n terminate requests for a package have no effect.
func (d *FakeDevice) SetStubborn(packageID string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stubborn[packageID] = n
}

// SetLabel registers a display label.
func (d *FakeDevice) SetLabel(packageID, label string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.labels[packageID] = label
}

// SetForeground replaces the records returned by the foreground query.
func (d *FakeDevice) SetForeground(records ...domain.ForegroundRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = records
}

// SetQueryError makes the foreground query fail.
func (d *FakeDevice) SetQueryError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryErr = err
}

// SetTerminateError makes Terminate fail without effect.
func (d *FakeDevice) SetTerminateError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminateErr = err
}

// SetNavigateError makes NavigateToNeutral fail.
func (d *FakeDevice) SetNavigateError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigateErr = err
}

// SetShowError makes ShowWarning fail.
func (d *FakeDevice) SetShowError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.showErr = err
}

// QueryRecentForeground returns the configured records inside [start, end].
func (d *FakeDevice) QueryRecentForeground(ctx context.Context, start, end time.Time) ([]domain.ForegroundRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	var out []domain.ForegroundRecord
	for _, r := range d.records {
		if r.LastActiveAt.Before(start) || r.LastActiveAt.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Terminate records the request and stops the package unless it is stubborn.
func (d *FakeDevice) Terminate(packageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminateCalls = append(d.terminateCalls, packageID)
	if d.terminateErr != nil {
		return d.terminateErr
	}
	if d.stubborn[packageID] > 0 {
		d.stubborn[packageID]--
		return nil
	}
	d.running[packageID] = false
	return nil
}

// IsRunning reports the simulated process state.
func (d *FakeDevice) IsRunning(packageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[packageID]
}

// NavigateToNeutral records the request.
func (d *FakeDevice) NavigateToNeutral() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigateCalls++
	return d.navigateErr
}

// ShowWarning records the request.
func (d *FakeDevice) ShowWarning(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.showErr != nil {
		return d.showErr
	}
	d.shown = append(d.shown, text)
	d.warningVisible = true
	return nil
}

// HideWarning records the request.
func (d *FakeDevice) HideWarning() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hideCalls++
	d.warningVisible = false
	return nil
}

// ResolveLabel returns the registered label or an error.
func (d *FakeDevice) ResolveLabel(packageID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if label, ok := d.labels[packageID]; ok {
		return label, nil
	}
	return "", fmt.Errorf("package %s not found", packageID)
}

// Terminations returns how many terminate requests targeted a package.
func (d *FakeDevice) Terminations(packageID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.terminateCalls {
		if p == packageID {
			n++
		}
	}
	return n
}

// Navigations returns how many navigate requests were made.
func (d *FakeDevice) Navigations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.navigateCalls
}

// WarningsShown returns the texts passed to ShowWarning.
func (d *FakeDevice) WarningsShown() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.shown...)
}

// Hides returns how many hide requests were made.
func (d *FakeDevice) Hides() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hideCalls
}

// WarningVisible reports whether the warning is on screen.
func (d *FakeDevice) WarningVisible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.warningVisible
}

// RecordingSubscriber collects delivered events.
type RecordingSubscriber struct {
	mu     sync.Mutex
	events []domain.ActivityEvent
}

// Deliver appends the event.
func (r *RecordingSubscriber) Deliver(event domain.ActivityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything delivered so far.
func (r *RecordingSubscriber) Events() []domain.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ActivityEvent(nil), r.events...)
}

// Count returns how many events of a kind were delivered.
func (r *RecordingSubscriber) Count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Ensure FakeDevice implements the platform interfaces.
var (
	_ domain.ForegroundQuery = (*FakeDevice)(nil)
	_ domain.Terminator      = (*FakeDevice)(nil)
	_ domain.Navigator       = (*FakeDevice)(nil)
	_ domain.WarningDisplay  = (*FakeDevice)(nil)
	_ domain.LabelRegistry   = (*FakeDevice)(nil)
	_ domain.EventSubscriber = (*RecordingSubscriber)(nil)
)
