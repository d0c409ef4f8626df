// Package storage persists timer snapshots and message history.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"stagetimer/pkg/snapshot"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// Document names, used as file names locally and object keys in the bucket.
const (
	StateKey   = "timer_state.json"
	HistoryKey = "message_history.json"
)

// Store handles snapshot persistence on local disk or in Cloud Storage.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new storage handler. A non-empty localPath selects the local
// backend; otherwise client and bucket are used.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// LocalPath returns the local storage directory, empty in bucket mode.
func (s *Store) LocalPath() string {
	return s.localPath
}

// SaveState writes the timer snapshot.
func (s *Store) SaveState(ctx context.Context, st *snapshot.State) error {
	data, err := snapshot.EncodeState(st)
	if err != nil {
		return err
	}
	return s.put(ctx, StateKey, data)
}

// LoadState reads the timer snapshot. When the document exists but is
// partly or wholly unreadable, the decoded state (with defaults filled in)
// is returned together with the decode error.
func (s *Store) LoadState(ctx context.Context) (*snapshot.State, error) {
	data, err := s.get(ctx, StateKey)
	if err != nil {
		return nil, err
	}
	return snapshot.DecodeState(data)
}

// SaveHistory writes the message history list.
func (s *Store) SaveHistory(ctx context.Context, items []string) error {
	data, err := snapshot.EncodeHistory(items)
	if err != nil {
		return err
	}
	return s.put(ctx, HistoryKey, data)
}

// LoadHistory reads the message history list.
func (s *Store) LoadHistory(ctx context.Context) ([]string, error) {
	data, err := s.get(ctx, HistoryKey)
	if err != nil {
		return nil, err
	}
	return snapshot.DecodeHistory(data)
}

func (s *Store) put(ctx context.Context, key string, data []byte) error {
	s.logger.Debug("Saving document", "key", key, "bytes", len(data))

	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := writeFileAtomic(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Debug("Document saved to local storage", "path", filePath)
		return nil
	}

	// Cloud Storage objects only become visible once Close succeeds, so a
	// failed write never replaces the previous generation.
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Debug("Document saved", "bucket", s.bucket, "key", key)
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		data, err := os.ReadFile(filePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, snapshot.ErrNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	var missing bool
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					missing = true
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if missing {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}
