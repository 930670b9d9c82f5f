// Package store persists registry snapshots as a versioned, prunable
// history in SQLite.
package store

import (
	"context"
	"time"

	"github.com/wardenhq/warden/internal/registry"
)

// SnapshotRecord is one persisted snapshot's storage metadata.
type SnapshotRecord struct {
	ID      string
	Version int
	TakenAt time.Time
}

// Store defines the snapshot persistence interface for warden.
type Store interface {
	// Save persists a snapshot as a new record.
	Save(ctx context.Context, snap *registry.Snapshot) error

	// LoadLatest returns the most recent snapshot, or (nil, nil) when the
	// store is empty.
	LoadLatest(ctx context.Context) (*registry.Snapshot, error)

	// List returns snapshot records, newest first, without payloads.
	List(ctx context.Context, limit int) ([]SnapshotRecord, error)

	// Prune deletes all but the newest keep snapshots and returns the
	// number removed.
	Prune(ctx context.Context, keep int) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
