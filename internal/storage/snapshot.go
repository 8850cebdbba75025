// Package storage persists a service's whole state as a single snapshot.
//
// Each save appends the new snapshot to a write-ahead log and truncates
// everything before it, so the log always holds exactly one live record and
// a crash mid-save leaves the previous snapshot readable.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"grantfed/internal/metrics"

	"github.com/tidwall/wal"
)

const walFolder = "wal"

var ErrUnexpectedRecord = errors.New("unexpected record type")

type SnapshotStore struct {
	mu  sync.Mutex
	dir string
	log *wal.Log
}

func Open(dir string, noSync bool) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	opts := *wal.DefaultOptions
	opts.NoSync = noSync
	log, err := wal.Open(filepath.Join(dir, walFolder), &opts)
	if err != nil {
		return nil, fmt.Errorf("wal.Open: %w", err)
	}

	return &SnapshotStore{dir: dir, log: log}, nil
}

// Save replaces the stored snapshot with v.
func (s *SnapshotStore) Save(v any) error {
	start := time.Now()

	payload, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	record := marshalRecord(recordTypeSnapshot, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.log.LastIndex()
	if err != nil {
		return fmt.Errorf("wal.LastIndex: %w", err)
	}
	idx := last + 1
	if err := s.log.Write(idx, record); err != nil {
		return fmt.Errorf("wal.Write(%d): %w", idx, err)
	}
	if idx > 1 {
		if err := s.log.TruncateFront(idx); err != nil {
			return fmt.Errorf("wal.TruncateFront: %w", err)
		}
	}

	metrics.SnapshotWritesTotal.Inc()
	metrics.SnapshotSize.Set(float64(len(payload)))
	metrics.SnapshotWriteDuration.Observe(time.Since(start).Seconds())
	slog.Debug("snapshot saved", "dir", s.dir, "index", idx, "bytes", len(payload))
	return nil
}

// Load decodes the stored snapshot into v. It reports false when nothing
// has been saved yet, leaving v untouched.
func (s *SnapshotStore) Load(v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	empty, err := s.log.IsEmpty()
	if err != nil {
		return false, fmt.Errorf("wal.IsEmpty: %w", err)
	}
	if empty {
		return false, nil
	}

	last, err := s.log.LastIndex()
	if err != nil {
		return false, fmt.Errorf("wal.LastIndex: %w", err)
	}
	data, err := s.log.Read(last)
	if err != nil {
		return false, fmt.Errorf("wal.Read(%d): %w", last, err)
	}

	recType, payload, err := unmarshalRecord(data)
	if err != nil {
		return false, fmt.Errorf("unmarshal record %d: %w", last, err)
	}
	if recType != recordTypeSnapshot {
		return false, fmt.Errorf("%w: %d", ErrUnexpectedRecord, recType)
	}

	if err := Unmarshal(payload, v); err != nil {
		return false, fmt.Errorf("decode snapshot: %w", err)
	}
	return true, nil
}

func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Close()
}
