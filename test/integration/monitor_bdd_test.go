//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/daemon"
	"github.com/eliteGoblin/focusd/app_guard/internal/debounce"
	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/infra"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
	"github.com/eliteGoblin/focusd/app_guard/internal/policy"
	"github.com/eliteGoblin/focusd/app_guard/internal/usecase"
	"github.com/eliteGoblin/focusd/app_guard/test/fixtures"
)

var start = time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)

type pushStream struct {
	ch chan domain.Signal
}

func (s *pushStream) Signals() <-chan domain.Signal { return s.ch }

// lockedBuffer lets the publisher goroutine write while the test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

// fanout delivers every event to several subscribers.
type fanout []domain.EventSubscriber

func (f fanout) Deliver(event domain.ActivityEvent) {
	for _, s := range f {
		s.Deliver(event)
	}
}

var _ = Describe("Foreground monitor", func() {
	var (
		dataDir   string
		key       []byte
		store     *infra.EncryptedPolicyStore
		device    *fixtures.FakeDevice
		clock     *fixtures.FakeClock
		recorder  *fixtures.RecordingSubscriber
		wire      *lockedBuffer
		publisher *usecase.Publisher
		enforcer  *usecase.Enforcer
		monitor   *daemon.Monitor
		stream    *pushStream
		m         *metrics.Metrics
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		dataDir = GinkgoT().TempDir()
		key, err = infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		store, err = infra.NewEncryptedPolicyStore(dataDir, key)
		Expect(err).NotTo(HaveOccurred())

		device = fixtures.NewFakeDevice()
		device.SetLabel("firefox", "Firefox")
		device.SetLabel("steam", "Steam")
		clock = fixtures.NewFakeClock(start)
		m = metrics.NewNop()
		logger := zap.NewNop()

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		recorder = &fixtures.RecordingSubscriber{}
		wire = &lockedBuffer{}
		publisher = usecase.NewPublisher(usecase.DefaultBufferSize, m, logger)
		publisher.Subscribe(fanout{recorder, infra.NewJSONLineSubscriber(wire, logger)})
		publisher.Start(ctx)

		rules, err := policy.NewRuleSet(policy.DefaultRules()...)
		Expect(err).NotTo(HaveOccurred())
		trackerConfig := usecase.DefaultTrackerConfig()
		trackerConfig.Location = time.UTC

		tracker := usecase.NewTracker(
			trackerConfig,
			rules,
			debounce.New(debounce.DefaultConfig()),
			usecase.NewResolver(device, logger),
			publisher,
			clock,
			m,
			logger,
		)
		enforcer = usecase.NewEnforcer(
			usecase.DefaultEnforcerConfig(),
			store,
			device, device, device,
			clock, m, logger,
		)
		stream = &pushStream{ch: make(chan domain.Signal, 8)}
		monitor = daemon.NewMonitor(daemon.DefaultMonitorConfig(), device, stream, tracker, enforcer, store, clock, m, logger)
	})

	AfterEach(func() {
		monitor.Stop()
		cancel()
		publisher.Close()
		Expect(store.Close()).To(Succeed())
	})

	Describe("session logging", func() {
		It("emits launch and exit events with the wire format", func() {
			monitor.Handle(domain.Signal{PackageID: "firefox", At: start})
			clock.Advance(75 * time.Second)
			monitor.Handle(domain.Signal{PackageID: "code", At: start.Add(75 * time.Second)})

			Eventually(func() int { return len(recorder.Events()) }).Should(Equal(3))

			events := recorder.Events()
			Expect(events[0].Kind).To(Equal(domain.KindAppLaunch))
			Expect(events[0].Detail).To(Equal("Started at 14:30:00"))
			Expect(events[0].DisplayName).To(Equal("Firefox"))
			Expect(events[1].Kind).To(Equal(domain.KindAppExit))
			Expect(events[1].Detail).To(Equal("1 minutes 15 seconds"))
			Expect(events[2].PackageID).To(Equal("code"))
			Expect(events[2].DisplayName).To(Equal("code"))

			Eventually(func() int { return len(wire.Lines()) }).Should(Equal(3))
			var exit infra.WireEvent
			Expect(json.Unmarshal([]byte(wire.Lines()[1]), &exit)).To(Succeed())
			Expect(exit.Type).To(Equal("APP_EXIT"))
			Expect(exit.PackageName).To(Equal("firefox"))
			Expect(exit.DurationSeconds).To(Equal(int64(75)))
		})
	})

	Describe("blocking", func() {
		BeforeEach(func() {
			Expect(store.Add("steam")).To(Succeed())
			device.SetRunning("steam", true)
		})

		Context("when a blocked app comes to the foreground", func() {
			It("terminates it, navigates away and shows the warning", func() {
				_, action := monitor.Handle(domain.Signal{PackageID: "steam", At: start})
				Expect(action).NotTo(BeNil())
				Expect(action.PackageID).To(Equal("steam"))
				Expect(action.Navigated).To(BeTrue())
				Expect(action.WarningShown).To(BeTrue())

				Expect(device.Terminations("steam")).To(Equal(1))
				Expect(device.Navigations()).To(Equal(1))
				Expect(device.WarningsShown()).To(Equal([]string{"This app has been blocked"}))

				clock.Advance(100 * time.Millisecond)
				Expect(device.Terminations("steam")).To(Equal(1), "no retry once the app is gone")
				Expect(enforcer.Pending()).To(BeZero())

				clock.Advance(3 * time.Second)
				Expect(device.WarningVisible()).To(BeFalse())
			})

			It("still logs the session", func() {
				monitor.Handle(domain.Signal{PackageID: "steam", At: start})
				Eventually(func() int { return recorder.Count(domain.KindAppLaunch) }).Should(Equal(1))
			})
		})

		Context("when the app ignores termination", func() {
			It("retries exactly once and reports the incomplete outcome", func() {
				device.SetStubborn("steam", 5)

				monitor.Handle(domain.Signal{PackageID: "steam", At: start})
				clock.Advance(100 * time.Millisecond)
				Expect(device.Terminations("steam")).To(Equal(2))

				clock.Advance(100 * time.Millisecond)
				Expect(device.Terminations("steam")).To(Equal(2))
				Expect(testutil.ToFloat64(m.EnforcementIncomplete)).To(Equal(float64(1)))
				Expect(enforcer.Pending()).To(BeZero())
			})
		})

		Context("when the app is unblocked", func() {
			It("leaves it alone", func() {
				Expect(store.Remove("steam")).To(Succeed())

				_, action := monitor.Handle(domain.Signal{PackageID: "steam", At: start})
				Expect(action).To(BeNil())
				Expect(device.Terminations("steam")).To(BeZero())
			})
		})
	})

	Describe("policy shared with the CLI", func() {
		It("picks up packages blocked by another process after reload", func() {
			cli, err := infra.NewEncryptedPolicyStore(dataDir, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(cli.Add("dota2")).To(Succeed())
			Expect(cli.Close()).To(Succeed())

			_, action := monitor.Handle(domain.Signal{PackageID: "dota2", At: start})
			Expect(action).To(BeNil(), "not visible before reload")

			Expect(store.Reload()).To(Succeed())
			clock.Advance(time.Second)
			_, action = monitor.Handle(domain.Signal{PackageID: "dota2"})
			Expect(action).NotTo(BeNil())
		})

		It("applies config blocked list changes", func() {
			added, removed := policy.Diff([]string{"steam"}, []string{"dota2"})
			Expect(store.Add("steam")).To(Succeed())
			Expect(policy.Apply(store, added, removed)).To(Succeed())

			Expect(store.List()).To(Equal([]string{"dota2"}))
		})
	})

	Describe("running loop", func() {
		It("enforces push signals until the context ends", func() {
			Expect(store.Add("steam")).To(Succeed())
			device.SetRunning("steam", true)

			ctx, stop := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() { errCh <- monitor.Run(ctx) }()

			stream.ch <- domain.Signal{PackageID: "steam", Source: domain.SourcePush}
			Eventually(func() int { return device.Terminations("steam") }).Should(BeNumerically(">=", 1))

			stop()
			Eventually(errCh).Should(Receive(MatchError(context.Canceled)))
		})

		It("tracks the foreground app by polling", func() {
			device.SetForeground(domain.ForegroundRecord{PackageID: "firefox", LastActiveAt: start})

			ctx, stop := context.WithCancel(context.Background())
			defer stop()
			go func() { _ = monitor.Run(ctx) }()

			Eventually(func() int { return recorder.Count(domain.KindAppLaunch) }, 3*time.Second).Should(Equal(1))
			Consistently(func() int { return recorder.Count(domain.KindAppLaunch) }, time.Second).Should(Equal(1))
		})
	})
})
