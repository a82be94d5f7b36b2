package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
	"github.com/eliteGoblin/focusd/app_guard/test/fixtures"
)

type blockingSubscriber struct {
	release chan struct{}
}

func (b *blockingSubscriber) Deliver(domain.ActivityEvent) { <-b.release }

// panicOnce panics on the first delivery and records the rest.
type panicOnce struct {
	fixtures.RecordingSubscriber
	panicked bool
}

func (p *panicOnce) Deliver(event domain.ActivityEvent) {
	if !p.panicked {
		p.panicked = true
		panic("boom")
	}
	p.RecordingSubscriber.Deliver(event)
}

func launch(pkg string) domain.ActivityEvent {
	return domain.ActivityEvent{Kind: domain.KindAppLaunch, PackageID: pkg}
}

func TestPublisher_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := NewPublisher(8, metrics.NewNop(), zap.NewNop())
	sub := &fixtures.RecordingSubscriber{}
	p.Subscribe(sub)
	p.Start(context.Background())

	require.True(t, p.Publish(launch("a")))
	require.True(t, p.Publish(launch("b")))
	p.Close()

	events := sub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].PackageID)
	assert.Equal(t, "b", events[1].PackageID)
}

func TestPublisher_NeverBlocksWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := metrics.NewNop()
	p := NewPublisher(1, m, zap.NewNop())
	sub := &blockingSubscriber{release: make(chan struct{})}
	p.Subscribe(sub)
	p.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			p.Publish(launch("a"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}

	assert.Greater(t, testutil.ToFloat64(m.EventsDropped), float64(0))

	close(sub.release)
	p.Close()
}

func TestPublisher_SubscribeSupersedes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := NewPublisher(8, metrics.NewNop(), zap.NewNop())
	first := &fixtures.RecordingSubscriber{}
	second := &fixtures.RecordingSubscriber{}

	p.Subscribe(first)
	p.Subscribe(second)
	p.Start(context.Background())
	p.Publish(launch("a"))
	p.Close()

	assert.Empty(t, first.Events())
	assert.Len(t, second.Events(), 1)
}

func TestPublisher_NoSubscriberCountsDrop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := metrics.NewNop()
	p := NewPublisher(8, m, zap.NewNop())
	p.Start(context.Background())
	p.Publish(launch("a"))
	p.Close()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsDropped))
}

func TestPublisher_SurvivesSubscriberPanic(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := NewPublisher(8, metrics.NewNop(), zap.NewNop())
	sub := &panicOnce{}
	p.Subscribe(sub)
	p.Start(context.Background())
	p.Publish(launch("a"))
	p.Publish(launch("b"))
	p.Close()

	events := sub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].PackageID)
}

func TestPublisher_PublishAfterClose(t *testing.T) {
	p := NewPublisher(8, metrics.NewNop(), zap.NewNop())
	p.Start(context.Background())
	p.Close()
	p.Close()

	assert.False(t, p.Publish(launch("a")))
}

func TestPublisher_CloseAfterCancelDeliversBuffered(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPublisher(8, metrics.NewNop(), zap.NewNop())
	release := make(chan struct{})
	sub := &gatedSubscriber{release: release}
	p.Subscribe(sub)
	p.Start(ctx)

	// The first event holds the loop inside Deliver while the rest queue up.
	require.True(t, p.Publish(launch("a")))
	require.Eventually(t, func() bool { return sub.started() }, time.Second, time.Millisecond)
	require.True(t, p.Publish(launch("b")))
	cancel()
	require.True(t, p.Publish(launch("c")))
	close(release)

	p.Close()

	events := sub.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[2].PackageID)
}

// gatedSubscriber blocks its first delivery until release is closed.
type gatedSubscriber struct {
	fixtures.RecordingSubscriber
	release chan struct{}
	entered atomic.Bool
}

func (g *gatedSubscriber) Deliver(event domain.ActivityEvent) {
	if g.entered.CompareAndSwap(false, true) {
		<-g.release
	}
	g.RecordingSubscriber.Deliver(event)
}

func (g *gatedSubscriber) started() bool { return g.entered.Load() }
