// Package shipper forwards recorded audit entries to external destinations.
// Forwarding is intentionally separate from the database write: the change_log
// table is the system of record, while shipped copies feed SIEMs and log
// aggregators that have their own consumers and retention policies. The
// package supports a webhook destination (with optional batching) and an
// NDJSON file destination (with size-based rotation), fanned out through
// MultiShipper. A shipping failure never affects recording.
package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/changetrail/changetrail/internal/config"
	"github.com/changetrail/changetrail/internal/db/models"
)

// Shipper sends one audit entry to a destination.
type Shipper interface {
	Ship(ctx context.Context, entry *models.LogEntry) error
	Close() error
}

// MultiShipper fans an entry out to every configured destination.
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// New builds a MultiShipper from the shipping configuration. Destinations
// that are disabled are skipped; an enabled destination that cannot be
// constructed is an error (bad shipping config should fail startup, not
// silently drop entries later).
func New(cfg config.ShippingConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}

	if cfg.Webhook.Enabled {
		ws, err := NewWebhookShipper(cfg.Webhook)
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook shipper: %w", err)
		}
		ms.shippers = append(ms.shippers, ws)
	}

	if cfg.File.Enabled {
		fs, err := NewFileShipper(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file shipper: %w", err)
		}
		ms.shippers = append(ms.shippers, fs)
	}

	return ms, nil
}

// Active reports whether any destination is configured.
func (ms *MultiShipper) Active() bool {
	return len(ms.shippers) > 0
}

// Ship sends an entry to all destinations. One failing destination does not
// stop delivery to the others; the last error is returned.
func (ms *MultiShipper) Ship(ctx context.Context, entry *models.LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			lastErr = err
			slog.Warn("audit entry shipping failed", "error", err)
		}
	}
	return lastErr
}

// Close closes all destinations, flushing anything still batched.
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WebhookShipper POSTs entries as JSON to an HTTP endpoint. With BatchSize > 0
// entries are queued and delivered as a JSON array, either when the batch
// fills or on the flush interval; a full queue falls back to direct delivery
// so entries are never dropped on the sending side.
type WebhookShipper struct {
	cfg       config.WebhookShippingConfig
	client    *http.Client
	batchCh   chan *models.LogEntry
	batch     []*models.LogEntry
	batchMu   sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewWebhookShipper(cfg config.WebhookShippingConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook shipper requires a url")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		batchCh: make(chan *models.LogEntry, 1000),
		closeCh: make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		go ws.processBatches()
	}

	return ws, nil
}

func (ws *WebhookShipper) processBatches() {
	flushInterval := ws.cfg.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, entry)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			if len(ws.batch) > 0 {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			ws.batchMu.Lock()
			if len(ws.batch) > 0 {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the current batch. Caller holds batchMu.
func (ws *WebhookShipper) flushBatch() {
	data, err := json.Marshal(ws.batch)
	if err != nil {
		slog.Warn("failed to marshal shipping batch", "error", err)
		ws.batch = ws.batch[:0]
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout)
	defer cancel()

	if err := ws.sendRequest(ctx, data); err != nil {
		slog.Warn("failed to send shipping batch", "entries", len(ws.batch), "error", err)
	}

	ws.batch = ws.batch[:0]
}

func (ws *WebhookShipper) Ship(ctx context.Context, entry *models.LogEntry) error {
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- entry:
			return nil
		default:
			// Queue full, send directly.
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	return ws.sendRequest(ctx, data)
}

func (ws *WebhookShipper) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if ws.cfg.AuthHeader != "" {
		req.Header.Set("Authorization", ws.cfg.AuthHeader)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes any batched entries and stops the batch processor.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	return nil
}

// FileShipper appends entries as NDJSON to a local file, rotating by size.
type FileShipper struct {
	cfg  config.FileShippingConfig
	file *os.File
	mu   sync.Mutex
}

func NewFileShipper(cfg config.FileShippingConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open shipping file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

func (fs *FileShipper) Ship(_ context.Context, entry *models.LogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.Warn("failed to rotate shipping file", "path", fs.cfg.Path, "error", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// rotate closes the current file, shifts backups, and opens a fresh one.
// Caller holds mu.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
