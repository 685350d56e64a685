// Package upload ships completed spool files to a backend. It watches the
// spool directory for new files, asks the backend for a presigned URL,
// uploads a gzip-compressed copy, and marks the catalog row on success. It
// never touches the in-memory capture pipeline; a dead backend only means
// files accumulate locally.
package upload

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"github.com/vincentbai/activity-agent/internal/database"
)

// Options configure the uploader.
type Options struct {
	Catalog    *database.Catalog
	SpoolDir   string
	BackendURL string
	SessionID  string
	Username   string
	Logger     *slog.Logger

	// Interval is the periodic sweep cadence; fsnotify events trigger
	// sweeps early, the ticker catches anything missed.
	Interval time.Duration
	// PollMode skips fsnotify entirely (e.g. network filesystems).
	PollMode bool
	// DeleteAfterUpload removes the local file once the backend has it.
	DeleteAfterUpload bool
	// MaxRetries bounds the backoff loop per file and sweep.
	MaxRetries uint64
	// HTTPClient is injectable for tests.
	HTTPClient *http.Client
}

// Uploader drains the catalog's pending flush files.
type Uploader struct {
	catalog    *database.Catalog
	spoolDir   string
	backendURL string
	sessionID  string
	username   string
	logger     *slog.Logger
	interval   time.Duration
	pollMode   bool
	deleteOK   bool
	maxRetries uint64
	client     *http.Client

	// OnUploaded and OnFailed observe outcomes (metrics).
	OnUploaded func()
	OnFailed   func()
}

// New validates options and returns an uploader.
func New(opts Options) (*Uploader, error) {
	if opts.Catalog == nil {
		return nil, errors.New("upload: catalog must be provided")
	}
	if strings.TrimSpace(opts.BackendURL) == "" {
		return nil, errors.New("upload: backend URL must be provided")
	}
	if opts.SpoolDir == "" {
		return nil, errors.New("upload: spool directory must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	retries := opts.MaxRetries
	if retries == 0 {
		retries = 3
	}
	return &Uploader{
		catalog:    opts.Catalog,
		spoolDir:   opts.SpoolDir,
		backendURL: opts.BackendURL,
		sessionID:  opts.SessionID,
		username:   opts.Username,
		logger:     logger,
		interval:   interval,
		pollMode:   opts.PollMode,
		deleteOK:   opts.DeleteAfterUpload,
		maxRetries: retries,
		client:     client,
	}, nil
}

// Run sweeps pending files until ctx is cancelled. A final sweep runs on
// shutdown so files flushed at exit still get a chance to ship.
func (u *Uploader) Run(ctx context.Context) error {
	u.Sweep(ctx)

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	var notify chan struct{}
	if !u.pollMode {
		notify = make(chan struct{}, 1)
		watcherCtx, stopWatcher := context.WithCancel(ctx)
		defer stopWatcher()
		go u.watchSpool(watcherCtx, notify)
	}

	for {
		select {
		case <-ctx.Done():
			u.Sweep(context.Background())
			return nil
		case <-ticker.C:
			u.Sweep(ctx)
		case <-notify:
			u.Sweep(ctx)
		}
	}
}

// watchSpool nudges the sweep loop whenever a new .json file lands. Watch
// failures degrade to ticker-only operation.
func (u *Uploader) watchSpool(ctx context.Context, notify chan<- struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		u.logger.Warn("spool watcher unavailable, falling back to polling", "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(u.spoolDir); err != nil {
		u.logger.Warn("cannot watch spool directory", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) || !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			select {
			case notify <- struct{}{}:
			default:
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Sweep uploads every pending catalog entry, oldest window first. Failures
// are logged and left pending for the next sweep.
func (u *Uploader) Sweep(ctx context.Context) {
	pending, err := u.catalog.PendingUploads(0)
	if err != nil {
		u.logger.Error("list pending uploads", "error", err)
		return
	}
	for _, file := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := u.uploadOne(ctx, file); err != nil {
			u.logger.Warn("upload failed, will retry next sweep",
				"file", filepath.Base(file.Path), "error", err)
			if u.OnFailed != nil {
				u.OnFailed()
			}
			continue
		}
		if u.OnUploaded != nil {
			u.OnUploaded()
		}
	}
}

func (u *Uploader) uploadOne(ctx context.Context, file database.FlushFile) error {
	data, err := os.ReadFile(file.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// The file vanished out from under us; nothing to ship, but
			// the catalog row must not stay pending forever.
			u.logger.Warn("spool file missing, marking uploaded", "file", filepath.Base(file.Path))
			return u.catalog.MarkUploaded(file.ID, time.Now())
		}
		return fmt.Errorf("read spool file: %w", err)
	}

	compressed, err := compress(data)
	if err != nil {
		return fmt.Errorf("compress spool file: %w", err)
	}

	attempt := func() error {
		url, err := u.presignedURL(ctx, filepath.Base(file.Path))
		if err != nil {
			return err
		}
		return u.put(ctx, url, compressed)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), u.maxRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return err
	}

	if err := u.catalog.MarkUploaded(file.ID, time.Now()); err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}
	if u.deleteOK {
		if err := os.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			u.logger.Warn("cannot remove uploaded spool file", "file", filepath.Base(file.Path), "error", err)
		}
	}
	u.logger.Info("uploaded spool file",
		"file", filepath.Base(file.Path),
		"events", file.EventCount,
		"size", humanize.Bytes(uint64(len(compressed))))
	return nil
}

type presignRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	FileName  string `json:"file_name"`
}

type presignResponse struct {
	UploadURL string `json:"upload_url"`
}

// presignedURL asks the backend where to put the file.
func (u *Uploader) presignedURL(ctx context.Context, fileName string) (string, error) {
	body, err := json.Marshal(presignRequest{
		UserID:    u.username,
		SessionID: u.sessionID,
		FileName:  fileName,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.backendURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request presigned URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("presign request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed presignResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode presign response: %w", err)
	}
	if parsed.UploadURL == "" {
		return "", errors.New("presign response missing upload_url")
	}
	return parsed.UploadURL, nil
}

func (u *Uploader) put(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(data))

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload returned %d", resp.StatusCode)
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
