// Package screenshot captures periodic screen grabs at random offsets inside
// each capture window, so samples are spread out rather than clustered. The
// actual grabbing is behind a provider interface; platforms without a real
// backend run the stub and the subsystem stays disabled.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrUnavailable is returned by providers that cannot grab the screen on
// this platform.
var ErrUnavailable = errors.New("screenshot: capture backend unavailable")

// Capture is one grabbed frame.
type Capture struct {
	PNG        []byte
	CapturedAt time.Time
}

// Provider grabs the current screen contents.
type Provider interface {
	Grab(ctx context.Context) (Capture, error)
}

// ProviderFunc adapts a function literal to the Provider interface.
type ProviderFunc func(ctx context.Context) (Capture, error)

func (f ProviderFunc) Grab(ctx context.Context) (Capture, error) { return f(ctx) }

// StubProvider always reports the backend as unavailable.
type StubProvider struct{}

func (StubProvider) Grab(context.Context) (Capture, error) { return Capture{}, ErrUnavailable }

// Options configure the scheduler.
type Options struct {
	Dir       string
	Window    time.Duration
	PerWindow int
	Provider  Provider
	Logger    *slog.Logger
	Clock     func() time.Time
	Rand      *rand.Rand
}

// Scheduler spreads PerWindow captures randomly inside each Window.
type Scheduler struct {
	dir       string
	window    time.Duration
	perWindow int
	provider  Provider
	logger    *slog.Logger
	clock     func() time.Time
	rng       *rand.Rand
}

// NewScheduler validates options and ensures the output directory exists.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Dir == "" {
		return nil, errors.New("screenshot: directory must not be empty")
	}
	if opts.Window <= 0 {
		return nil, errors.New("screenshot: window must be positive")
	}
	if opts.PerWindow <= 0 {
		return nil, errors.New("screenshot: captures per window must be positive")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot directory: %w", err)
	}
	provider := opts.Provider
	if provider == nil {
		provider = StubProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		dir:       opts.Dir,
		window:    opts.Window,
		perWindow: opts.PerWindow,
		provider:  provider,
		logger:    logger,
		clock:     clock,
		rng:       rng,
	}, nil
}

// Run captures until ctx is cancelled. An unavailable provider shuts the
// subsystem down quietly; grab failures are logged and skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		windowStart := s.clock()
		for _, offset := range s.offsets() {
			if err := sleepUntil(ctx, windowStart.Add(offset), s.clock); err != nil {
				return nil
			}
			capture, err := s.provider.Grab(ctx)
			if err != nil {
				if errors.Is(err, ErrUnavailable) {
					s.logger.Info("screenshot backend unavailable, disabling captures")
					return nil
				}
				s.logger.Warn("screenshot capture failed", "error", err)
				continue
			}
			if err := s.write(capture); err != nil {
				s.logger.Warn("screenshot write failed", "error", err)
			}
		}
		if err := sleepUntil(ctx, windowStart.Add(s.window), s.clock); err != nil {
			return nil
		}
	}
}

// offsets picks perWindow distinct sorted instants inside the window.
func (s *Scheduler) offsets() []time.Duration {
	offsets := make([]time.Duration, s.perWindow)
	for i := range offsets {
		offsets[i] = time.Duration(s.rng.Int63n(int64(s.window)))
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

func (s *Scheduler) write(capture Capture) error {
	ts := capture.CapturedAt
	if ts.IsZero() {
		ts = s.clock()
	}
	name := "screenshot_" + ts.UTC().Format("20060102T150405.000000Z") + ".png"
	return os.WriteFile(filepath.Join(s.dir, name), capture.PNG, 0o644)
}

func sleepUntil(ctx context.Context, target time.Time, clock func() time.Time) error {
	wait := target.Sub(clock())
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
