package usecase

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/debounce"
	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
	"github.com/eliteGoblin/focusd/app_guard/internal/policy"
)

// EventSink accepts activity events without blocking.
type EventSink interface {
	Publish(event domain.ActivityEvent) bool
}

// TrackerConfig holds session tracker configuration.
type TrackerConfig struct {
	IgnoredPackages []string       // Never open or close a session
	Location        *time.Location // Zone for formatted times
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		IgnoredPackages: policy.DefaultIgnoredPackages(),
		Location:        time.Local,
	}
}

// Tracker turns foreground signals into sessions and activity events.
// Push and poll sources share one Tracker; all state sits behind one mutex.
type Tracker struct {
	config    TrackerConfig
	ignored   map[string]struct{}
	enricher  policy.Enricher
	debouncer *debounce.Debouncer
	resolver  *Resolver
	sink      EventSink
	clock     domain.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	current *domain.ForegroundSession
	content string // raw title plus elements last seen for current
}

// NewTracker creates a session tracker.
func NewTracker(
	config TrackerConfig,
	enricher policy.Enricher,
	debouncer *debounce.Debouncer,
	resolver *Resolver,
	sink EventSink,
	clock domain.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Tracker {
	if config.Location == nil {
		config.Location = time.Local
	}
	ignored := make(map[string]struct{}, len(config.IgnoredPackages))
	for _, id := range config.IgnoredPackages {
		ignored[strings.TrimSpace(id)] = struct{}{}
	}
	return &Tracker{
		config:    config,
		ignored:   ignored,
		enricher:  enricher,
		debouncer: debouncer,
		resolver:  resolver,
		sink:      sink,
		clock:     clock,
		metrics:   m,
		logger:    logger,
	}
}

// Observe processes one foreground signal. It returns nil when the signal
// changed nothing: no foreground, an ignored package, or the same package
// with nothing new to report.
func (t *Tracker) Observe(sig domain.Signal) *domain.SessionTransition {
	pkg := strings.TrimSpace(sig.PackageID)
	if pkg == "" {
		return nil
	}
	if _, skip := t.ignored[pkg]; skip {
		return nil
	}

	at := sig.At
	if at.IsZero() {
		at = t.clock.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tr := &domain.SessionTransition{}
	opened := false

	if t.current == nil || t.current.PackageID != pkg {
		if t.current != nil {
			closed := *t.current
			duration := at.Sub(closed.StartedAt)
			if duration < 0 {
				duration = 0
			}
			tr.Closed = &closed
			tr.Duration = duration

			t.emit(tr, domain.ActivityEvent{
				Kind:            domain.KindAppExit,
				PackageID:       closed.PackageID,
				DisplayName:     t.resolver.Resolve(closed.PackageID),
				Detail:          FormatDuration(duration),
				OccurredAt:      at,
				FormattedTime:   FormatClock(at, t.config.Location),
				DurationSeconds: int64(duration / time.Second),
			}, "")
		}

		t.current = &domain.ForegroundSession{PackageID: pkg, StartedAt: at}
		t.content = ""
		t.debouncer.Forget(debounce.Key(domain.KindActivityDetail, pkg))
		t.metrics.SessionOpen.Set(1)
		opened = true

		t.emit(tr, domain.ActivityEvent{
			Kind:          domain.KindAppLaunch,
			PackageID:     pkg,
			DisplayName:   t.resolver.Resolve(pkg),
			Detail:        "Started at " + FormatClock(at, t.config.Location),
			OccurredAt:    at,
			FormattedTime: FormatClock(at, t.config.Location),
		}, "")
	}

	if content := contentKey(sig); content != "" && content != t.content {
		t.content = content
		if raw := strings.TrimSpace(sig.Title); raw != "" {
			t.current.WindowTitle = raw
		}

		// Raw text decides whether something changed; the enriched text
		// is what the debouncer compares.
		detail, category := t.enrich(pkg, sig)
		if detail != "" {
			tr.Detail = detail
			t.emit(tr, domain.ActivityEvent{
				Kind:          domain.KindActivityDetail,
				PackageID:     pkg,
				DisplayName:   t.resolver.Resolve(pkg),
				Detail:        detail,
				OccurredAt:    at,
				FormattedTime: FormatClock(at, t.config.Location),
			}, category)
		}
	}

	if opened {
		session := *t.current
		tr.Opened = &session
	}
	if tr.Closed == nil && tr.Opened == nil && tr.Detail == "" {
		return nil
	}
	return tr
}

// Current returns a copy of the open session, if any.
func (t *Tracker) Current() (domain.ForegroundSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return domain.ForegroundSession{}, false
	}
	return *t.current, true
}

// emit runs the event through the debouncer and forwards it to the sink.
func (t *Tracker) emit(tr *domain.SessionTransition, event domain.ActivityEvent, category string) {
	if !t.debouncer.Allow(event, category) {
		t.metrics.EventsDebounced.WithLabelValues(string(event.Kind)).Inc()
		return
	}
	tr.Events = append(tr.Events, event)
	if t.sink != nil {
		t.sink.Publish(event)
	}
}

func (t *Tracker) enrich(pkg string, sig domain.Signal) (detail, category string) {
	raw := strings.TrimSpace(sig.Title)
	if t.enricher == nil {
		return raw, ""
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("enrichment panicked, using raw text",
				zap.String("package", pkg),
				zap.Any("panic", r))
			detail, category = raw, ""
		}
	}()

	detail, category, err := t.enricher.Enrich(pkg, sig.Title, sig.Elements)
	if err != nil {
		t.logger.Debug("enrichment failed, using raw text",
			zap.String("package", pkg),
			zap.Error(err))
		return raw, category
	}
	return detail, category
}

// contentKey fingerprints the raw title and view elements of a signal.
// It is empty when the signal carries no content.
func contentKey(sig domain.Signal) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(sig.Title))

	ids := make([]string, 0, len(sig.Elements))
	for id, v := range sig.Elements {
		if strings.TrimSpace(v) != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.WriteString("\x00")
		b.WriteString(id)
		b.WriteString("=")
		b.WriteString(strings.TrimSpace(sig.Elements[id]))
	}
	return b.String()
}

// SelectForeground picks the current foreground from a usage query: the
// record with the latest LastActiveAt, ties going to the lexicographically
// smallest package id. Records without a package id are skipped.
func SelectForeground(records []domain.ForegroundRecord) (domain.ForegroundRecord, bool) {
	var best domain.ForegroundRecord
	found := false
	for _, r := range records {
		if strings.TrimSpace(r.PackageID) == "" {
			continue
		}
		if !found ||
			r.LastActiveAt.After(best.LastActiveAt) ||
			(r.LastActiveAt.Equal(best.LastActiveAt) && r.PackageID < best.PackageID) {
			best = r
			found = true
		}
	}
	return best, found
}
