package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
)

// DefaultBufferSize is the number of events the publisher holds before dropping.
const DefaultBufferSize = 256

type subscription struct {
	sub domain.EventSubscriber
}

// Publisher hands activity events to at most one subscriber on its own
// goroutine. Publish never blocks the detection path.
type Publisher struct {
	events     chan domain.ActivityEvent
	subscriber atomic.Pointer[subscription]
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewPublisher creates a publisher with the given buffer size.
func NewPublisher(bufferSize int, m *metrics.Metrics, logger *zap.Logger) *Publisher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Publisher{
		events:  make(chan domain.ActivityEvent, bufferSize),
		metrics: m,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe replaces the current subscriber. Passing nil unsubscribes.
func (p *Publisher) Subscribe(sub domain.EventSubscriber) {
	if sub == nil {
		p.subscriber.Store(nil)
		return
	}
	p.subscriber.Store(&subscription{sub: sub})
}

// Publish enqueues an event. It returns false when the event was dropped
// because the buffer is full or the publisher is closed.
func (p *Publisher) Publish(event domain.ActivityEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.metrics.EventsDropped.Inc()
		return false
	}

	select {
	case p.events <- event:
		p.metrics.EventsPublished.WithLabelValues(string(event.Kind)).Inc()
		return true
	default:
		p.metrics.EventsDropped.Inc()
		p.logger.Debug("event buffer full, dropping",
			zap.String("kind", string(event.Kind)),
			zap.String("package", event.PackageID))
		return false
	}
}

// Start launches the delivery goroutine. It stops when ctx is canceled or
// Close is called. Calling Start more than once has no effect.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Close stops delivery and waits for the goroutine to exit.
// Events still buffered are delivered first, even when the context
// passed to Start was already canceled.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	close(p.stop)
	p.mu.Unlock()

	if started {
		<-p.done
		// The loop may have left on ctx.Done while Publish still had the
		// buffer; nothing publishes once closed is set.
		p.drain()
	}
}

func (p *Publisher) loop(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-p.stop:
			p.drain()
			return
		case event := <-p.events:
			p.deliver(event)
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case event := <-p.events:
			p.deliver(event)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(event domain.ActivityEvent) {
	s := p.subscriber.Load()
	if s == nil {
		p.metrics.EventsDropped.Inc()
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("subscriber panicked",
				zap.String("kind", string(event.Kind)),
				zap.Any("panic", r))
		}
	}()
	s.sub.Deliver(event)
}
