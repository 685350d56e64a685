package database

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	catalog, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func testSession() Session {
	return Session{
		ID:        "11111111-2222-3333-4444-555555555555",
		StartedAt: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
		Hostname:  "workstation",
		Username:  "vincent",
		OS:        "linux 6.8",
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	catalog := setupTestCatalog(t)
	require.NotNil(t, catalog)

	// Reopening against the same file must be a no-op.
	require.NoError(t, catalog.RecordSession(testSession()))
}

func TestRecordSessionValidation(t *testing.T) {
	catalog := setupTestCatalog(t)
	err := catalog.RecordSession(Session{})
	require.Error(t, err)
}

func TestRecordFlushValidation(t *testing.T) {
	catalog := setupTestCatalog(t)
	session := testSession()
	require.NoError(t, catalog.RecordSession(session))

	tests := []struct {
		name string
		file FlushFile
	}{
		{"empty session", FlushFile{Path: "/spool/a.json", EventCount: 1, Bytes: 10}},
		{"empty path", FlushFile{SessionID: session.ID, EventCount: 1, Bytes: 10}},
		{"zero events", FlushFile{SessionID: session.ID, Path: "/spool/a.json", Bytes: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, catalog.RecordFlush(tt.file))
		})
	}
}

func TestPendingUploadsLifecycle(t *testing.T) {
	catalog := setupTestCatalog(t)
	session := testSession()
	require.NoError(t, catalog.RecordSession(session))

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	// Inserted newest-first; PendingUploads must come back oldest-first.
	for i := 2; i >= 0; i-- {
		require.NoError(t, catalog.RecordFlush(FlushFile{
			SessionID:   session.ID,
			Path:        fmt.Sprintf("/spool/window_%d.json", i),
			WindowStart: base.Add(time.Duration(i) * time.Hour),
			EventCount:  10 + i,
			Bytes:       1024,
		}))
	}

	pending, err := catalog.PendingUploads(10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.True(t, pending[0].WindowStart.Before(pending[1].WindowStart))
	assert.True(t, pending[1].WindowStart.Before(pending[2].WindowStart))

	require.NoError(t, catalog.MarkUploaded(pending[0].ID, time.Now()))

	pending, err = catalog.PendingUploads(10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, catalog.MarkUploaded(pending[0].ID, time.Now()))
	// Double-marking the same file, or marking an unknown one, is an error.
	assert.Error(t, catalog.MarkUploaded(pending[0].ID, time.Now()))
	assert.Error(t, catalog.MarkUploaded(pending[1].ID+100, time.Now()))
}

func TestSessionStats(t *testing.T) {
	catalog := setupTestCatalog(t)
	session := testSession()
	require.NoError(t, catalog.RecordSession(session))

	require.NoError(t, catalog.RecordFlush(FlushFile{
		SessionID: session.ID, Path: "/spool/a.json",
		WindowStart: time.Now(), EventCount: 7, Bytes: 512,
	}))
	require.NoError(t, catalog.RecordFlush(FlushFile{
		SessionID: session.ID, Path: "/spool/b.json",
		WindowStart: time.Now(), EventCount: 5, Bytes: 256,
	}))

	files, events, err := catalog.SessionStats(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, 12, events)
}
