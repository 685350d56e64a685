package observer

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/activity-agent/internal/config"
	"github.com/vincentbai/activity-agent/internal/database"
	"github.com/vincentbai/activity-agent/internal/models"
	"github.com/vincentbai/activity-agent/internal/source"
	"github.com/vincentbai/activity-agent/internal/spool"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(root, "data")
	cfg.Paths.SpoolDir = filepath.Join(root, "spool")
	// Long interval so the only flush is the final one at Stop.
	cfg.Flush.IntervalSeconds = 300
	return cfg
}

func TestObserverCapturesAndFlushesOnStop(t *testing.T) {
	cfg := testConfig(t)

	obs, err := New(Options{Config: cfg, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, obs.Start())
	require.True(t, obs.Recording())

	faker := gofakeit.New(7)
	for i := 0; i < 5; i++ {
		obs.Keyboard().OnKey(faker.LetterN(1), true)
		obs.Mouse().OnClick(faker.Number(0, 1920), faker.Number(0, 1080), "left", true)
	}

	require.NoError(t, obs.Stop())
	require.False(t, obs.Recording())

	entries, err := os.ReadDir(cfg.Paths.SpoolDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "all events land in the single final flush file")
	assert.True(t, strings.HasPrefix(entries[0].Name(), "events_"))

	records, err := spool.Read(filepath.Join(cfg.Paths.SpoolDir, entries[0].Name()))
	require.NoError(t, err)
	require.Len(t, records, 10)

	catalog, err := database.Open(filepath.Join(cfg.Paths.DataDir, "catalog.db"))
	require.NoError(t, err)
	defer catalog.Close()

	files, events, err := catalog.SessionStats(obs.Session().ID)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Equal(t, 10, events)

	pending, err := catalog.PendingUploads(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, obs.Session().ID, pending[0].SessionID)
}

func TestObserverWritesSessionManifest(t *testing.T) {
	cfg := testConfig(t)

	obs, err := New(Options{Config: cfg, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, obs.Start())
	defer func() { require.NoError(t, obs.Stop()) }()

	session := obs.Session()
	assert.NotEmpty(t, session.ID)
	assert.NotEmpty(t, session.Hostname)
	assert.NotEmpty(t, session.OS)

	manifest := filepath.Join(cfg.Paths.DataDir, "session_"+session.ID+".json")
	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Contains(t, string(data), session.ID)
	assert.Contains(t, string(data), session.Hostname)
}

func TestObserverCapturesWindowFocus(t *testing.T) {
	cfg := testConfig(t)

	probe := func() (source.WindowInfo, error) {
		return source.WindowInfo{Title: "Terminal", ProcessName: "zsh"}, nil
	}
	obs, err := New(Options{Config: cfg, Logger: quietLogger(), ActiveWindow: probe})
	require.NoError(t, err)
	require.NoError(t, obs.Start())
	// Give the poller's immediate probe a moment to land before shutdown.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, obs.Stop())

	entries, err := os.ReadDir(cfg.Paths.SpoolDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	records, err := spool.Read(filepath.Join(cfg.Paths.SpoolDir, entries[0].Name()))
	require.NoError(t, err)
	require.Len(t, records, 1, "the immediate poll records the initial focus once")
	assert.Equal(t, models.KindWindowFocus, records[0].Kind)
	assert.Equal(t, "Terminal", records[0].Payload.(models.WindowFocus).Title)
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	cfg := testConfig(t)

	obs, err := New(Options{Config: cfg, Logger: quietLogger()})
	require.NoError(t, err)

	require.NoError(t, obs.Start())
	first := obs.Session().ID
	require.NoError(t, obs.Start())
	assert.Equal(t, first, obs.Session().ID, "second Start must not open a new session")

	require.NoError(t, obs.Stop())
	require.NoError(t, obs.Stop())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.SpoolDir = ""
	_, err := New(Options{Config: cfg, Logger: quietLogger()})
	require.Error(t, err)
}
