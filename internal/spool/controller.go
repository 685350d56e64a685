package spool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"

	"github.com/vincentbai/activity-agent/internal/buffer"
	"github.com/vincentbai/activity-agent/internal/models"
)

// sizePollInterval is how often the controller checks the buffer against the
// size threshold between timer flushes.
const sizePollInterval = 250 * time.Millisecond

// Result describes one successfully written flush window.
type Result struct {
	Path        string
	WindowStart time.Time
	EventCount  int
	Bytes       int64
}

// Options configure the flush controller.
type Options struct {
	Buffer *buffer.Buffer
	Writer *Writer
	Logger *slog.Logger

	// Interval is the rotation period; a flush fires whenever it elapses.
	Interval time.Duration
	// SizeThreshold triggers an early flush once the buffer holds at least
	// this many records. Zero disables the size trigger.
	SizeThreshold int
	// MaxWriteRetries bounds the backoff retry loop around a failing write.
	MaxWriteRetries uint64
	// OnFlush, when set, observes each successful flush (catalog, metrics).
	OnFlush func(Result)
	// OnFlushError, when set, observes each failed flush window.
	OnFlushError func(error)
	// Clock is injectable for tests.
	Clock func() time.Time
}

// Controller periodically drains the buffer and rotates batches into spool
// files: Idle -> Draining -> Serializing -> Writing -> Idle. A batch whose
// write ultimately fails is retained in memory and prepended to the next
// flush window rather than discarded.
type Controller struct {
	buf        *buffer.Buffer
	writer     *Writer
	logger     *slog.Logger
	interval   time.Duration
	threshold  int
	maxRetries uint64
	onFlush    func(Result)
	onError    func(error)
	clock      func() time.Time

	mu          sync.Mutex
	retained    []models.Record
	windowStart time.Time
}

// NewController validates options and returns an idle controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Buffer == nil {
		return nil, errors.New("spool: buffer must be provided")
	}
	if opts.Writer == nil {
		return nil, errors.New("spool: writer must be provided")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("spool: flush interval must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	retries := opts.MaxWriteRetries
	if retries == 0 {
		retries = 3
	}
	return &Controller{
		buf:         opts.Buffer,
		writer:      opts.Writer,
		logger:      logger,
		interval:    opts.Interval,
		threshold:   opts.SizeThreshold,
		maxRetries:  retries,
		onFlush:     opts.OnFlush,
		onError:     opts.OnFlushError,
		clock:       clock,
		windowStart: clock().UTC(),
	}, nil
}

// Run drives the rotation loop until ctx is cancelled, then performs one
// final flush so no accepted event is silently dropped at shutdown.
func (c *Controller) Run(ctx context.Context) error {
	rotate := time.NewTicker(c.interval)
	defer rotate.Stop()
	poll := time.NewTicker(sizePollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.Flush(); err != nil {
				return fmt.Errorf("final flush: %w", err)
			}
			return nil
		case <-rotate.C:
			if err := c.Flush(); err != nil {
				c.logger.Error("flush window failed, batch retained", "error", err)
			}
		case <-poll.C:
			if c.threshold > 0 && c.buf.Len() >= c.threshold {
				if err := c.Flush(); err != nil {
					c.logger.Error("size-triggered flush failed, batch retained", "error", err)
				}
				rotate.Reset(c.interval)
			}
		}
	}
}

// Flush drains the buffer and writes the batch, merging in any batch
// retained from a previously failed window. An empty drain writes nothing.
func (c *Controller) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	drainedAt := c.clock().UTC()
	batch := c.buf.Drain()
	if len(c.retained) > 0 {
		batch = append(c.retained, batch...)
		c.retained = nil
	}
	if len(batch) == 0 {
		c.windowStart = drainedAt
		return nil
	}

	windowStart := c.windowStart

	var path string
	var bytes int64
	write := func() error {
		var err error
		path, bytes, err = c.writer.Write(windowStart, batch)
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	if err := backoff.Retry(write, policy); err != nil {
		// Hold the batch for the next cycle; the retained slice is
		// exclusively owned here, producers keep filling the fresh one.
		c.retained = batch
		err = fmt.Errorf("write flush window %s: %w", FileName(windowStart), err)
		if c.onError != nil {
			c.onError(err)
		}
		return err
	}

	c.windowStart = drainedAt
	c.logger.Info("flushed window",
		"file", path,
		"events", len(batch),
		"size", humanize.Bytes(uint64(bytes)))
	if c.onFlush != nil {
		c.onFlush(Result{Path: path, WindowStart: windowStart, EventCount: len(batch), Bytes: bytes})
	}
	return nil
}

// Retained reports how many records are currently held back from a failed
// window, for diagnostics.
func (c *Controller) Retained() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.retained)
}
