package infra

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// ErrNoActiveWindow is returned when X11 reports no focused window.
var ErrNoActiveWindow = errors.New("no active window")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// x11Client resolves X11 windows to packages with xdotool.
type x11Client struct {
	run     CommandRunner
	pidName func(pid int32) (string, error)
}

func newX11Client(run CommandRunner) x11Client {
	if run == nil {
		run = ExecRunner
	}
	return x11Client{run: run, pidName: ProcessName}
}

func (c x11Client) activeWindow(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "xdotool", "getactivewindow")
	if err != nil {
		return "", fmt.Errorf("xdotool getactivewindow: %w", err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" || id == "0" {
		return "", ErrNoActiveWindow
	}
	return id, nil
}

// describe returns the package id and title of a window.
func (c x11Client) describe(ctx context.Context, windowID string) (pkg, title string, err error) {
	if out, err := c.run(ctx, "xdotool", "getwindowname", windowID); err == nil {
		title = strings.TrimSpace(string(out))
	}

	out, err := c.run(ctx, "xdotool", "getwindowpid", windowID)
	if err != nil {
		return "", title, fmt.Errorf("xdotool getwindowpid %s: %w", windowID, err)
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 32)
	if err != nil {
		return "", title, fmt.Errorf("parse pid of window %s: %w", windowID, err)
	}
	pkg, err = c.pidName(int32(pid))
	if err != nil {
		return "", title, err
	}
	return pkg, title, nil
}

// X11ForegroundQuery implements domain.ForegroundQuery for X11 desktops.
// X11 keeps no usage history, so the answer is the focused window as of now.
type X11ForegroundQuery struct {
	client x11Client
	clock  domain.Clock
}

// NewX11ForegroundQuery creates a poll source. A nil runner uses os/exec.
func NewX11ForegroundQuery(run CommandRunner, clock domain.Clock) *X11ForegroundQuery {
	return &X11ForegroundQuery{client: newX11Client(run), clock: clock}
}

// QueryRecentForeground returns the focused window if now falls inside [start, end].
func (q *X11ForegroundQuery) QueryRecentForeground(ctx context.Context, start, end time.Time) ([]domain.ForegroundRecord, error) {
	windowID, err := q.client.activeWindow(ctx)
	if errors.Is(err, ErrNoActiveWindow) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	pkg, title, err := q.client.describe(ctx, windowID)
	if err != nil {
		return nil, err
	}

	now := q.clock.Now()
	if now.Before(start) || now.After(end) {
		return nil, nil
	}
	return []domain.ForegroundRecord{{PackageID: pkg, Title: title, LastActiveAt: now}}, nil
}

// X11FocusStream implements domain.SignalStream by following
// _NET_ACTIVE_WINDOW changes with "xprop -root -spy". The focused window's
// _NET_WM_NAME is followed as well, so a tab or document switch inside one
// window still reaches the tracker.
type X11FocusStream struct {
	client   x11Client
	clock    domain.Clock
	logger   *zap.Logger
	spy      func(ctx context.Context) (io.ReadCloser, func() error, error)
	titleSpy func(ctx context.Context, windowID string) (io.ReadCloser, func() error, error)

	signals chan domain.Signal

	// titleMu orders title signals against focus changes: a follower whose
	// window lost focus never emits after the new window's signal.
	titleMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewX11FocusStream creates a push source. A nil runner uses os/exec.
func NewX11FocusStream(run CommandRunner, clock domain.Clock, bufferSize int, logger *zap.Logger) *X11FocusStream {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &X11FocusStream{
		client:   newX11Client(run),
		clock:    clock,
		logger:   logger,
		spy:      xpropSpy,
		titleSpy: xpropTitleSpy,
		signals:  make(chan domain.Signal, bufferSize),
	}
}

func xpropSpy(ctx context.Context) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, "xprop", "-root", "-spy", "_NET_ACTIVE_WINDOW")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start xprop: %w", err)
	}
	return stdout, cmd.Wait, nil
}

func xpropTitleSpy(ctx context.Context, windowID string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, "xprop", "-id", windowID, "-spy", "_NET_WM_NAME")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start xprop: %w", err)
	}
	return stdout, cmd.Wait, nil
}

// Signals returns the notification channel. It is closed when the stream stops.
func (s *X11FocusStream) Signals() <-chan domain.Signal {
	return s.signals
}

// Start launches xprop and the reader goroutine.
func (s *X11FocusStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("focus stream already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	r, wait, err := s.spy(ctx)
	if err != nil {
		cancel()
		return err
	}

	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		defer close(s.signals)
		s.consume(ctx, r)
		r.Close()
		if err := wait(); err != nil && ctx.Err() == nil {
			s.logger.Warn("xprop exited", zap.Error(err))
		}
	}()

	s.logger.Info("x11 focus stream started")
	return nil
}

// Stop terminates xprop and waits for the reader to exit.
func (s *X11FocusStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// consume turns xprop lines into signals until r ends or ctx is canceled.
func (s *X11FocusStream) consume(ctx context.Context, r io.Reader) {
	var followers sync.WaitGroup
	stopFollow := func() {}
	defer func() {
		s.titleMu.Lock()
		stopFollow()
		s.titleMu.Unlock()
		followers.Wait()
	}()

	scanner := bufio.NewScanner(r)
	last := ""
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		windowID, ok := parseActiveWindow(scanner.Text())
		if !ok || windowID == last {
			continue
		}
		last = windowID

		s.titleMu.Lock()
		stopFollow()
		stopFollow = func() {}
		s.titleMu.Unlock()

		pkg, title, err := s.client.describe(ctx, windowID)
		if err != nil {
			s.logger.Debug("cannot resolve focused window",
				zap.String("window", windowID),
				zap.Error(err))
			continue
		}
		s.emit(domain.Signal{
			PackageID: pkg,
			Title:     title,
			At:        s.clock.Now(),
			Source:    domain.SourcePush,
		})
		stopFollow = s.followTitle(ctx, &followers, windowID, pkg, title)
	}
}

// followTitle emits a signal whenever the window's name changes. The
// returned func stops following; call it with titleMu held.
func (s *X11FocusStream) followTitle(ctx context.Context, wg *sync.WaitGroup, windowID, pkg, title string) func() {
	ctx, cancel := context.WithCancel(ctx)
	r, wait, err := s.titleSpy(ctx, windowID)
	if err != nil {
		s.logger.Debug("cannot follow window title",
			zap.String("window", windowID),
			zap.Error(err))
		return cancel
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			r.Close()
			_ = wait()
		}()

		last := title
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			name, ok := parseWindowName(scanner.Text())
			if !ok || name == last {
				continue
			}
			last = name

			s.titleMu.Lock()
			if ctx.Err() != nil {
				s.titleMu.Unlock()
				return
			}
			s.emit(domain.Signal{
				PackageID: pkg,
				Title:     name,
				At:        s.clock.Now(),
				Source:    domain.SourcePush,
			})
			s.titleMu.Unlock()
		}
	}()
	return cancel
}

// emit sends without blocking; a slow consumer loses signals, not the reader.
func (s *X11FocusStream) emit(sig domain.Signal) {
	select {
	case s.signals <- sig:
	default:
		s.logger.Debug("signal channel full, dropping", zap.String("package", sig.PackageID))
	}
}

// parseActiveWindow extracts the window id from a line such as
// "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007".
func parseActiveWindow(line string) (string, bool) {
	idx := strings.LastIndex(line, "#")
	if idx == -1 {
		return "", false
	}
	hexID := strings.TrimSpace(line[idx+1:])
	if i := strings.IndexByte(hexID, ','); i != -1 {
		hexID = hexID[:i]
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(hexID, "0x"), 16, 64)
	if err != nil || id == 0 {
		return "", false
	}
	return strconv.FormatUint(id, 10), true
}

// parseWindowName extracts the title from a line such as
// `_NET_WM_NAME(UTF8_STRING) = "Inbox - Mail"`.
func parseWindowName(line string) (string, bool) {
	idx := strings.Index(line, " = ")
	if idx == -1 {
		return "", false
	}
	value := strings.TrimSpace(line[idx+3:])
	if name, err := strconv.Unquote(value); err == nil {
		value = name
	} else {
		value = strings.Trim(value, `"`)
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// X11Navigator implements domain.Navigator by minimizing the focused window,
// which reveals the desktop.
type X11Navigator struct {
	run     CommandRunner
	timeout time.Duration
}

// NewX11Navigator creates a navigator. A nil runner uses os/exec.
func NewX11Navigator(run CommandRunner) *X11Navigator {
	if run == nil {
		run = ExecRunner
	}
	return &X11Navigator{run: run, timeout: 2 * time.Second}
}

// NavigateToNeutral minimizes the active window.
func (n *X11Navigator) NavigateToNeutral() error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if _, err := n.run(ctx, "xdotool", "getactivewindow", "windowminimize"); err != nil {
		return fmt.Errorf("minimize active window: %w", err)
	}
	return nil
}

// Ensure the X11 types implement their domain interfaces.
var (
	_ domain.ForegroundQuery = (*X11ForegroundQuery)(nil)
	_ domain.SignalStream    = (*X11FocusStream)(nil)
	_ domain.Navigator       = (*X11Navigator)(nil)
)
