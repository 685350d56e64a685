// Package buffer holds accepted records between flushes. Producers append
// from input callbacks; the flush controller is the sole drainer.
package buffer

import (
	"sync"

	"github.com/vincentbai/activity-agent/internal/models"
)

// Buffer is an append-only holding area shared by all producers. One mutex
// guards the slice reference; Drain holds it only long enough to swap in a
// fresh slice, so producers never wait on disk I/O.
type Buffer struct {
	mu      sync.Mutex
	records []models.Record
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds rec to the tail in acceptance order. It blocks only for the
// critical section.
func (b *Buffer) Append(rec models.Record) {
	b.mu.Lock()
	b.records = append(b.records, rec)
	b.mu.Unlock()
}

// Drain atomically swaps the current contents out for a fresh empty slice
// and hands the drained records to the caller, which then owns them
// exclusively. Every append that completed before Drain began is included;
// appends starting after the swap land in the next batch. An empty drain
// returns nil and is not an error.
func (b *Buffer) Drain() []models.Record {
	b.mu.Lock()
	drained := b.records
	b.records = nil
	b.mu.Unlock()
	return drained
}

// Len reports the number of buffered records, used for the size-threshold
// flush trigger.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
