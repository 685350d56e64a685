package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vincentbai/activity-agent/internal/models"
)

// WindowInfo describes the currently focused window.
type WindowInfo struct {
	Title       string
	ProcessName string
}

// ActiveWindowFunc reports the focused window. Platform backends supply the
// real implementation; tests inject fakes.
type ActiveWindowFunc func() (WindowInfo, error)

// ErrNoActiveWindow signals that no window currently has focus; the poller
// treats it as a quiet tick rather than a failure.
var ErrNoActiveWindow = errors.New("source: no active window")

// WindowPoller samples the focused window on a fixed interval and emits a
// WindowFocus record whenever the focus target changes.
type WindowPoller struct {
	pipe     *Pipeline
	interval time.Duration
	probe    ActiveWindowFunc
	clock    func() time.Time
	logger   *slog.Logger

	last    WindowInfo
	hasLast bool
}

// NewWindowPoller builds a poller. The probe is mandatory; interval must be
// positive.
func NewWindowPoller(pipe *Pipeline, probe ActiveWindowFunc, interval time.Duration, logger *slog.Logger, clock func() time.Time) (*WindowPoller, error) {
	if probe == nil {
		return nil, errors.New("source: active window probe must be provided")
	}
	if interval <= 0 {
		return nil, errors.New("source: poll interval must be positive")
	}
	if clock == nil {
		clock = time.Now
	}
	return &WindowPoller{
		pipe:     pipe,
		interval: interval,
		probe:    probe,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Run polls until ctx is cancelled. Probe failures are logged and skipped;
// a flaky platform backend must never crash the capture process.
func (w *WindowPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *WindowPoller) poll() {
	info, err := w.probe()
	if err != nil {
		if !errors.Is(err, ErrNoActiveWindow) {
			w.logger.Warn("active window probe failed", "error", err)
		}
		return
	}
	if w.hasLast && info == w.last {
		return
	}
	w.last = info
	w.hasLast = true
	w.pipe.Submit(models.NewRecord(w.clock(), models.WindowFocus{
		Title:       info.Title,
		ProcessName: info.ProcessName,
	}))
}
