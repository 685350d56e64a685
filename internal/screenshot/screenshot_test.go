package screenshot

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOffsetsStayInsideWindow(t *testing.T) {
	s, err := NewScheduler(Options{
		Dir:       t.TempDir(),
		Window:    time.Hour,
		PerWindow: 6,
		Logger:    quietLogger(),
		Rand:      rand.New(rand.NewSource(42)),
	})
	require.NoError(t, err)

	offsets := s.offsets()
	require.Len(t, offsets, 6)
	for i, offset := range offsets {
		assert.GreaterOrEqual(t, offset, time.Duration(0))
		assert.Less(t, offset, time.Hour)
		if i > 0 {
			assert.GreaterOrEqual(t, offset, offsets[i-1], "offsets must be sorted")
		}
	}
}

func TestRunWritesCapturesPerWindow(t *testing.T) {
	dir := t.TempDir()

	var grabs atomic.Int32
	provider := ProviderFunc(func(context.Context) (Capture, error) {
		grabs.Add(1)
		return Capture{PNG: []byte("png-bytes"), CapturedAt: time.Now()}, nil
	})

	s, err := NewScheduler(Options{
		Dir:       dir,
		Window:    50 * time.Millisecond,
		PerWindow: 2,
		Provider:  provider,
		Logger:    quietLogger(),
		Rand:      rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.GreaterOrEqual(t, grabs.Load(), int32(2), "the first window's captures should have fired")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, entry := range entries {
		assert.True(t, strings.HasPrefix(entry.Name(), "screenshot_"))
		assert.True(t, strings.HasSuffix(entry.Name(), ".png"))
	}
}

func TestRunStopsWhenProviderUnavailable(t *testing.T) {
	s, err := NewScheduler(Options{
		Dir:       t.TempDir(),
		Window:    10 * time.Millisecond,
		PerWindow: 1,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err, "stub provider must end the run cleanly")
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop with the stub provider")
	}
}

func TestNewSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(Options{Window: time.Second, PerWindow: 1})
	require.Error(t, err)
	_, err = NewScheduler(Options{Dir: t.TempDir(), PerWindow: 1})
	require.Error(t, err)
	_, err = NewScheduler(Options{Dir: t.TempDir(), Window: time.Second})
	require.Error(t, err)
}
