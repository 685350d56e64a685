// Package source adapts raw OS input notifications into typed records and
// routes them through the throttle policy into the shared buffer. Adapters
// run on whatever callback or polling context the OS hook supplies and never
// block on I/O; the only blocking points are the throttle and buffer
// critical sections.
package source

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vincentbai/activity-agent/internal/buffer"
	"github.com/vincentbai/activity-agent/internal/models"
	"github.com/vincentbai/activity-agent/internal/throttle"
)

// Pipeline is the submission path shared by all adapters: throttle first,
// then append. Accept/drop hooks let the observer attach counters without
// the adapters knowing about metrics.
type Pipeline struct {
	policy   *throttle.Policy
	buf      *buffer.Buffer
	closed   atomic.Bool
	onAccept func(models.Kind)
	onDrop   func(models.Kind, string)
}

// NewPipeline wires a throttle policy to a buffer.
func NewPipeline(policy *throttle.Policy, buf *buffer.Buffer) *Pipeline {
	return &Pipeline{policy: policy, buf: buf}
}

// SetHooks installs optional accept/drop observers. Must be called before
// any adapter starts submitting.
func (p *Pipeline) SetHooks(onAccept func(models.Kind), onDrop func(models.Kind, string)) {
	p.onAccept = onAccept
	p.onDrop = onDrop
}

// Close stops the intake: every later Submit is rejected. Called at the
// start of shutdown, before the final drain, so no event accepted earlier
// can be dropped and no event arriving later can leak into a dead buffer.
func (p *Pipeline) Close() {
	p.closed.Store(true)
}

// Submit runs one candidate record through the throttle and, when accepted,
// appends it to the buffer. Reports whether the record was accepted.
func (p *Pipeline) Submit(rec models.Record) bool {
	if p.closed.Load() {
		p.drop(rec.Kind, "closed")
		return false
	}
	if !p.policy.ShouldAccept(rec.Kind, rec.Timestamp) {
		if p.onDrop != nil {
			p.onDrop(rec.Kind, "throttled")
		}
		return false
	}
	p.buf.Append(rec)
	if p.onAccept != nil {
		p.onAccept(rec.Kind)
	}
	return true
}

func (p *Pipeline) drop(kind models.Kind, reason string) {
	if p.onDrop != nil {
		p.onDrop(kind, reason)
	}
}

// MouseAdapter receives mouse callbacks from the OS hook.
type MouseAdapter struct {
	pipe   *Pipeline
	clock  func() time.Time
	logger *slog.Logger
}

// NewMouseAdapter builds the mouse callback receiver.
func NewMouseAdapter(pipe *Pipeline, logger *slog.Logger, clock func() time.Time) *MouseAdapter {
	if clock == nil {
		clock = time.Now
	}
	return &MouseAdapter{pipe: pipe, clock: clock, logger: logger}
}

// OnMove handles a cursor movement notification.
func (a *MouseAdapter) OnMove(x, y int) {
	a.pipe.Submit(models.NewRecord(a.clock(), models.MouseMove{X: x, Y: y}))
}

// OnClick handles a button press or release.
func (a *MouseAdapter) OnClick(x, y int, button string, pressed bool) {
	if button == "" {
		a.logger.Warn("dropping malformed mouse click", "reason", "empty button")
		a.pipe.drop(models.KindMouseClick, "malformed")
		return
	}
	a.pipe.Submit(models.NewRecord(a.clock(), models.MouseClick{X: x, Y: y, Button: button, Pressed: pressed}))
}

// OnScroll handles a scroll wheel notification.
func (a *MouseAdapter) OnScroll(x, y, dx, dy int) {
	a.pipe.Submit(models.NewRecord(a.clock(), models.MouseScroll{X: x, Y: y, DX: dx, DY: dy}))
}

// KeyboardAdapter receives key press/release callbacks from the OS hook.
type KeyboardAdapter struct {
	pipe   *Pipeline
	clock  func() time.Time
	logger *slog.Logger
}

// NewKeyboardAdapter builds the keyboard callback receiver.
func NewKeyboardAdapter(pipe *Pipeline, logger *slog.Logger, clock func() time.Time) *KeyboardAdapter {
	if clock == nil {
		clock = time.Now
	}
	return &KeyboardAdapter{pipe: pipe, clock: clock, logger: logger}
}

// OnKey handles a key press or release. A key name is required; an empty one
// is a malformed notification and is dropped, never propagated.
func (a *KeyboardAdapter) OnKey(key string, pressed bool) {
	if key == "" {
		a.logger.Warn("dropping malformed key event", "reason", "empty key")
		a.pipe.drop(models.KindKeyPress, "malformed")
		return
	}
	a.pipe.Submit(models.NewRecord(a.clock(), models.KeyPress{Key: key, Pressed: pressed}))
}
