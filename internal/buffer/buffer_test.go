package buffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/activity-agent/internal/models"
)

func TestAppendDrainOrder(t *testing.T) {
	buf := New()
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	buf.Append(models.NewRecord(ts, models.MouseMove{X: 1, Y: 1}))
	buf.Append(models.NewRecord(ts, models.KeyPress{Key: "a", Pressed: true}))
	buf.Append(models.NewRecord(ts, models.WindowFocus{Title: "editor", ProcessName: "code"}))

	drained := buf.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, models.KindMouseMove, drained[0].Kind)
	assert.Equal(t, models.KindKeyPress, drained[1].Kind)
	assert.Equal(t, models.KindWindowFocus, drained[2].Kind)
}

func TestDrainEmptyIsIdempotent(t *testing.T) {
	buf := New()
	assert.Empty(t, buf.Drain())
	assert.Empty(t, buf.Drain(), "second drain with no appends must also be empty")
	assert.Zero(t, buf.Len())
}

func TestDrainResetsBuffer(t *testing.T) {
	buf := New()
	buf.Append(models.NewRecord(time.Now(), models.MouseClick{Button: "left", Pressed: true}))

	first := buf.Drain()
	require.Len(t, first, 1)
	assert.Empty(t, buf.Drain(), "drained records must never reappear in a later batch")
}

func TestConcurrentAppendsPreservePerProducerOrder(t *testing.T) {
	buf := New()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				key := fmt.Sprintf("%d:%d", producer, i)
				buf.Append(models.NewRecord(time.Now(), models.KeyPress{Key: key, Pressed: true}))
			}
		}(p)
	}
	wg.Wait()

	drained := buf.Drain()
	require.Len(t, drained, producers*perProducer, "no append may be lost or duplicated")

	// Within a producer the sequence numbers must be strictly increasing,
	// whatever the cross-producer interleaving was.
	lastSeq := make(map[int]int)
	for _, rec := range drained {
		var producer, seq int
		_, err := fmt.Sscanf(rec.Payload.(models.KeyPress).Key, "%d:%d", &producer, &seq)
		require.NoError(t, err)
		if prev, ok := lastSeq[producer]; ok {
			require.Greater(t, seq, prev, "producer %d order violated", producer)
		}
		lastSeq[producer] = seq
	}
}

func TestDrainDuringConcurrentAppends(t *testing.T) {
	buf := New()

	const producers = 4
	const perProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				buf.Append(models.NewRecord(time.Now(), models.MouseMove{X: i, Y: i}))
			}
		}()
	}

	// Drain repeatedly while producers are running; the union of all
	// batches plus the final drain must be exactly what was appended.
	total := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			total += len(buf.Drain())
			time.Sleep(time.Millisecond)
		}
	}()

	wg.Wait()
	<-done
	total += len(buf.Drain())

	assert.Equal(t, producers*perProducer, total)
}

func TestLenTracksAppends(t *testing.T) {
	buf := New()
	for i := 0; i < 10; i++ {
		buf.Append(models.NewRecord(time.Now(), models.MouseScroll{DY: -1}))
	}
	assert.Equal(t, 10, buf.Len())
	buf.Drain()
	assert.Zero(t, buf.Len())
}
