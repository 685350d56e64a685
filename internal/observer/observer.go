// Package observer owns the capture lifecycle: it wires the throttle policy,
// buffer, flush controller, window poller, screenshot scheduler and uploader
// together, and tears them down in an order that never drops an accepted
// event. Nothing here is an ambient global; the observer is constructed at
// process start and closed at shutdown.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vincentbai/activity-agent/internal/buffer"
	"github.com/vincentbai/activity-agent/internal/config"
	"github.com/vincentbai/activity-agent/internal/database"
	"github.com/vincentbai/activity-agent/internal/metrics"
	"github.com/vincentbai/activity-agent/internal/models"
	"github.com/vincentbai/activity-agent/internal/screenshot"
	"github.com/vincentbai/activity-agent/internal/source"
	"github.com/vincentbai/activity-agent/internal/spool"
	"github.com/vincentbai/activity-agent/internal/throttle"
	"github.com/vincentbai/activity-agent/internal/upload"
)

// Options configure an observer.
type Options struct {
	Config config.Config
	Logger *slog.Logger

	// ActiveWindow probes the focused window; required unless window
	// polling is effectively disabled by the caller.
	ActiveWindow source.ActiveWindowFunc
	// ScreenshotProvider overrides the stub backend.
	ScreenshotProvider screenshot.Provider
	// Clock is injectable for tests.
	Clock func() time.Time
}

// Observer runs one capture session.
type Observer struct {
	cfg    config.Config
	logger *slog.Logger
	clock  func() time.Time

	activeWindow source.ActiveWindowFunc
	shotProvider screenshot.Provider

	mu        sync.Mutex
	recording bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	session  database.Session
	catalog  *database.Catalog
	counters *metrics.Metrics
	pipe     *source.Pipeline
	mouse    *source.MouseAdapter
	keyboard *source.KeyboardAdapter
}

// New builds an observer from validated configuration.
func New(opts Options) (*Observer, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Observer{
		cfg:          opts.Config,
		logger:       logger,
		clock:        clock,
		activeWindow: opts.ActiveWindow,
		shotProvider: opts.ScreenshotProvider,
	}, nil
}

// Mouse returns the adapter the OS hook should deliver mouse callbacks to.
// Only valid after Start.
func (o *Observer) Mouse() *source.MouseAdapter { return o.mouse }

// Keyboard returns the adapter the OS hook should deliver key callbacks to.
// Only valid after Start.
func (o *Observer) Keyboard() *source.KeyboardAdapter { return o.keyboard }

// Session returns the metadata of the running session.
func (o *Observer) Session() database.Session { return o.session }

// Start brings the whole pipeline up. Calling Start on a running observer
// is a no-op.
func (o *Observer) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.recording {
		return nil
	}

	session, err := newSession(o.clock())
	if err != nil {
		return err
	}
	o.session = session

	if err := os.MkdirAll(o.cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	catalog, err := database.Open(filepath.Join(o.cfg.Paths.DataDir, "catalog.db"))
	if err != nil {
		return err
	}
	if err := catalog.RecordSession(session); err != nil {
		catalog.Close()
		return err
	}
	o.catalog = catalog

	if err := o.writeSessionManifest(); err != nil {
		catalog.Close()
		return err
	}

	writer, err := spool.NewWriter(o.cfg.Paths.SpoolDir)
	if err != nil {
		catalog.Close()
		return err
	}

	o.counters = metrics.New()

	policy := throttle.NewPolicy(throttle.Intervals{
		models.KindMouseMove:   o.cfg.MouseMoveInterval(),
		models.KindMouseScroll: o.cfg.MouseScrollInterval(),
		models.KindMouseClick:  0,
		models.KindKeyPress:    0,
		models.KindWindowFocus: 0,
	})
	buf := buffer.New()

	o.pipe = source.NewPipeline(policy, buf)
	o.pipe.SetHooks(
		func(kind models.Kind) {
			o.counters.EventsAccepted.WithLabelValues(kind.String()).Inc()
		},
		func(kind models.Kind, reason string) {
			o.counters.EventsDropped.WithLabelValues(kind.String(), reason).Inc()
		},
	)
	o.mouse = source.NewMouseAdapter(o.pipe, o.logger, o.clock)
	o.keyboard = source.NewKeyboardAdapter(o.pipe, o.logger, o.clock)

	controller, err := spool.NewController(spool.Options{
		Buffer:          buf,
		Writer:          writer,
		Logger:          o.logger,
		Interval:        o.cfg.FlushInterval(),
		SizeThreshold:   o.cfg.Flush.SizeThreshold,
		MaxWriteRetries: uint64(o.cfg.Flush.MaxWriteRetries),
		Clock:           o.clock,
		OnFlush:         o.onFlush,
		OnFlushError:    func(error) { o.counters.FlushFailures.Inc() },
	})
	if err != nil {
		catalog.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := controller.Run(ctx); err != nil {
			o.logger.Error("flush controller stopped", "error", err)
		}
	}()

	if o.activeWindow != nil {
		poller, err := source.NewWindowPoller(o.pipe, o.activeWindow, o.cfg.WindowPollInterval(), o.logger, o.clock)
		if err != nil {
			cancel()
			o.wg.Wait()
			catalog.Close()
			return err
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			_ = poller.Run(ctx)
		}()
	}

	if o.cfg.Screens.Enabled {
		scheduler, err := screenshot.NewScheduler(screenshot.Options{
			Dir:       filepath.Join(o.cfg.Paths.DataDir, "screenshots"),
			Window:    o.cfg.FlushInterval(),
			PerWindow: o.cfg.Screens.PerWindow,
			Provider:  o.shotProvider,
			Logger:    o.logger,
			Clock:     o.clock,
		})
		if err != nil {
			cancel()
			o.wg.Wait()
			catalog.Close()
			return err
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			_ = scheduler.Run(ctx)
		}()
	}

	if o.cfg.Upload.Enabled {
		uploader, err := upload.New(upload.Options{
			Catalog:           catalog,
			SpoolDir:          o.cfg.Paths.SpoolDir,
			BackendURL:        o.cfg.Upload.BackendURL,
			SessionID:         session.ID,
			Username:          session.Username,
			Logger:            o.logger,
			Interval:          o.cfg.UploadInterval(),
			PollMode:          o.cfg.Upload.PollMode,
			DeleteAfterUpload: o.cfg.Upload.DeleteAfterUpload,
		})
		if err != nil {
			cancel()
			o.wg.Wait()
			catalog.Close()
			return err
		}
		uploader.OnUploaded = o.counters.Uploads.Inc
		uploader.OnFailed = o.counters.UploadFailures.Inc
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			_ = uploader.Run(ctx)
		}()
	}

	if o.cfg.Metrics.Address != "" {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.counters.Serve(ctx, o.cfg.Metrics.Address, o.logger); err != nil {
				o.logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	o.recording = true
	o.logger.Info("observer started",
		"session_id", session.ID,
		"hostname", session.Hostname,
		"username", session.Username,
		"os", session.OS,
		"spool_dir", o.cfg.Paths.SpoolDir)
	return nil
}

// Stop shuts the pipeline down: intake closes first, then the controller's
// final drain+flush runs, then everything else winds down. Stopping a
// stopped observer is a no-op.
func (o *Observer) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.recording {
		return nil
	}

	o.pipe.Close()
	o.cancel()
	o.wg.Wait()
	o.recording = false

	files, events, err := o.catalog.SessionStats(o.session.ID)
	if err != nil {
		o.logger.Warn("cannot read session stats", "error", err)
	} else {
		o.logger.Info("observer stopped", "session_id", o.session.ID, "files", files, "events", events)
	}
	return o.catalog.Close()
}

// Recording reports whether a session is active.
func (o *Observer) Recording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recording
}

func (o *Observer) onFlush(result spool.Result) {
	o.counters.Flushes.Inc()
	o.counters.FlushedEvents.Add(float64(result.EventCount))
	if err := o.catalog.RecordFlush(database.FlushFile{
		SessionID:   o.session.ID,
		Path:        result.Path,
		WindowStart: result.WindowStart,
		EventCount:  result.EventCount,
		Bytes:       result.Bytes,
	}); err != nil {
		o.logger.Error("cannot catalog flush file", "file", result.Path, "error", err)
	}
}

// writeSessionManifest drops a small JSON description of the session next to
// the data, so offline tooling can attribute spool files without the
// catalog.
func (o *Observer) writeSessionManifest() error {
	manifest := struct {
		SessionID string `json:"session_id"`
		StartedAt string `json:"started_at"`
		Hostname  string `json:"hostname"`
		Username  string `json:"username"`
		OS        string `json:"os"`
		SpoolDir  string `json:"spool_dir"`
	}{
		SessionID: o.session.ID,
		StartedAt: o.session.StartedAt.UTC().Format(time.RFC3339Nano),
		Hostname:  o.session.Hostname,
		Username:  o.session.Username,
		OS:        o.session.OS,
		SpoolDir:  o.cfg.Paths.SpoolDir,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session manifest: %w", err)
	}
	path := filepath.Join(o.cfg.Paths.DataDir, "session_"+o.session.ID+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write session manifest: %w", err)
	}
	return nil
}

func newSession(now time.Time) (database.Session, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	username := "unknown"
	if current, err := user.Current(); err == nil && current.Username != "" {
		username = current.Username
	}
	id := uuid.NewString()
	if id == "" {
		return database.Session{}, errors.New("generate session id")
	}
	return database.Session{
		ID:        id,
		StartedAt: now.UTC(),
		Hostname:  hostname,
		Username:  username,
		OS:        runtime.GOOS + "/" + runtime.GOARCH,
	}, nil
}
