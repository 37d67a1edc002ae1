// Package store provides pluggable persistence for job records.
//
// The reconciler serializes updates per job id through its consumer, but
// record creation races the first event, so implementations must make
// PutIfAbsent atomic.
package store

import (
	"context"
	"errors"

	"ttsengine/internal/state"
)

// ErrNotFound is returned when no record exists for a job id.
var ErrNotFound = errors.New("record not found")

// Store holds the canonical record per job id.
type Store interface {
	// Get returns a copy of the record for a job id, or ErrNotFound.
	Get(ctx context.Context, jobID string) (*state.Record, error)

	// Put stores (or replaces) a record.
	Put(ctx context.Context, rec *state.Record) error

	// PutIfAbsent stores a record only if none exists for its job id. It
	// returns true when the record was written. The check and write are
	// atomic so creation can never overwrite a concurrently applied record.
	PutIfAbsent(ctx context.Context, rec *state.Record) (bool, error)

	// Delete evicts a record. Deleting a missing record is a no-op.
	Delete(ctx context.Context, jobID string) error

	// IDs returns the job ids currently held.
	IDs(ctx context.Context) ([]string, error)
}
