// Package storage contains the in-memory persistence layer used when no
// database is configured and in tests.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/ScanVault/internal/model"
)

// ErrNotFound aliases the domain sentinel so callers can use errors.Is with
// either name.
var ErrNotFound = model.ErrNotFound

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock replaces time.Now, letting tests create equal timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryStore) { m.now = now }
}

type scanEntry struct {
	record model.ScanRecord
	seq    int64
}

// MemoryStore keeps scan records behind an RWMutex. Readers take snapshots so
// List and Get never block on each other, and uploads only hold the write lock
// for the map insert.
type MemoryStore struct {
	mu    sync.RWMutex
	scans map[string]*scanEntry
	seq   int64
	now   func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	m := &MemoryStore{
		scans: make(map[string]*scanEntry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Insert assigns an id and upload time and stores the record.
func (m *MemoryStore) Insert(ctx context.Context, draft model.ScanDraft) (*model.ScanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("insert scan: %w", err)
	}
	if draft.ImageAddress == "" {
		return nil, fmt.Errorf("image address is required: %w", model.ErrInvalidScan)
	}
	rec := model.ScanRecord{
		ID:           uuid.NewString(),
		PatientName:  draft.PatientName,
		PatientID:    draft.PatientID,
		ScanType:     draft.ScanType,
		Region:       draft.Region,
		ImageAddress: draft.ImageAddress,
		UploadedAt:   m.now().UTC().Truncate(time.Microsecond),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.scans[rec.ID] = &scanEntry{record: rec, seq: m.seq}
	out := rec
	return &out, nil
}

// Get returns a copy of the record.
func (m *MemoryStore) Get(ctx context.Context, id string) (*model.ScanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.scans[id]
	if !ok {
		return nil, fmt.Errorf("scan %q: %w", id, ErrNotFound)
	}
	out := e.record
	return &out, nil
}

// List returns every record, newest upload first. Records uploaded at the same
// instant are ordered newest insertion first.
func (m *MemoryStore) List(ctx context.Context) ([]model.ScanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	m.mu.RLock()
	entries := make([]scanEntry, 0, len(m.scans))
	for _, e := range m.scans {
		entries = append(entries, *e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.record.UploadedAt.Equal(b.record.UploadedAt) {
			return a.record.UploadedAt.After(b.record.UploadedAt)
		}
		return a.seq > b.seq
	})
	out := make([]model.ScanRecord, len(entries))
	for i, e := range entries {
		out[i] = e.record
	}
	return out, nil
}

// Ping always succeeds; it lets the memory store stand in for the database in
// readiness checks.
func (m *MemoryStore) Ping(context.Context) error { return nil }
