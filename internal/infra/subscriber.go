package infra

import (
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// WireEvent is the JSON shape of an activity event.
type WireEvent struct {
	Type            string `json:"type"`
	PackageName     string `json:"packageName"`
	AppName         string `json:"appName"`
	Details         string `json:"details"`
	Timestamp       int64  `json:"timestamp"` // Unix milliseconds
	FormattedTime   string `json:"formattedTime"`
	DurationSeconds int64  `json:"durationSeconds,omitempty"`
}

// NewWireEvent converts a domain event to its wire form.
func NewWireEvent(event domain.ActivityEvent) WireEvent {
	return WireEvent{
		Type:            string(event.Kind),
		PackageName:     event.PackageID,
		AppName:         event.DisplayName,
		Details:         event.Detail,
		Timestamp:       event.OccurredAt.UnixMilli(),
		FormattedTime:   event.FormattedTime,
		DurationSeconds: event.DurationSeconds,
	}
}

// JSONLineSubscriber writes each event as one JSON line.
type JSONLineSubscriber struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger *zap.Logger
}

// NewJSONLineSubscriber creates a subscriber writing to w.
func NewJSONLineSubscriber(w io.Writer, logger *zap.Logger) *JSONLineSubscriber {
	return &JSONLineSubscriber{enc: json.NewEncoder(w), logger: logger}
}

// Deliver encodes the event. Write errors are logged, not returned.
func (s *JSONLineSubscriber) Deliver(event domain.ActivityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(NewWireEvent(event)); err != nil {
		s.logger.Warn("failed to write activity event",
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

// Ensure JSONLineSubscriber implements domain.EventSubscriber.
var _ domain.EventSubscriber = (*JSONLineSubscriber)(nil)
