package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/reader-relay/internal/domain"
)

const (
	walFileName = "queue.wal"
	filePerm    = 0644
)

// WALRepository implements domain.WALRepository as a single append-only
// newline-delimited JSON file with a total-size cap. It only holds events
// while Redis is down, so segmentation is not worth the machinery.
type WALRepository struct {
	path        string
	maxDiskSize int64
	logger      *slog.Logger

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewWALRepository creates (or reopens) the WAL file under dir.
func NewWALRepository(dir string, maxDiskSize int64, logger *slog.Logger) (*WALRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", dir, err)
	}

	w := &WALRepository{
		path:        filepath.Join(dir, walFileName),
		maxDiskSize: maxDiskSize,
		logger:      logger.With("component", "wal_repository"),
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WALRepository) open() error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open WAL file %s: %w", w.path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat WAL file: %w", err)
	}
	w.file = f
	w.size = stat.Size()
	return nil
}

// Write appends a queued event to the WAL.
func (w *WALRepository) Write(ctx context.Context, item domain.QueuedEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queued event for WAL: %w", err)
	}
	data = append(data, '\n')

	if w.size+int64(len(data)) > w.maxDiskSize {
		return fmt.Errorf("WAL max disk size exceeded (%d bytes)", w.maxDiskSize)
	}

	n, err := w.file.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	w.size += int64(n)
	return nil
}

// Replay reads the WAL oldest-first and calls the handler for each event.
func (w *WALRepository) Replay(ctx context.Context, handler func(item domain.QueuedEvent) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		w.logger.Warn("failed to sync WAL before replay", "error", err)
	}

	file, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("failed to open WAL for replay: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var item domain.QueuedEvent
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			w.logger.Warn("skipping malformed WAL line", "error", err)
			continue
		}
		if err := handler(item); err != nil {
			return fmt.Errorf("replay handler failed: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning WAL: %w", err)
	}

	w.logger.Info("WAL replay completed")
	return nil
}

// Truncate discards all replayed entries.
func (w *WALRepository) Truncate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove WAL file: %w", err)
	}

	w.logger.Info("WAL truncated")
	return w.open()
}

// Close releases the underlying file handle.
func (w *WALRepository) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
