package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"

	"ttsengine/internal/state"
)

const recordKeyPrefix = "ttsjob:"

// Redis stores records as JSON values in Redis. Retention is the TTL applied
// on every write; zero means records live until deleted.
type Redis struct {
	rdb       *r.Client
	retention time.Duration
}

// NewRedis creates a Redis-backed store.
func NewRedis(rdb *r.Client, retention time.Duration) *Redis {
	return &Redis{rdb: rdb, retention: retention}
}

func recordKey(jobID string) string {
	return recordKeyPrefix + jobID
}

// Get returns the record for a job id.
func (s *Redis) Get(ctx context.Context, jobID string) (*state.Record, error) {
	data, err := s.rdb.Get(ctx, recordKey(jobID)).Bytes()
	if errors.Is(err, r.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec state.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", jobID, err)
	}
	return &rec, nil
}

// Put stores a record, refreshing the retention TTL.
func (s *Redis) Put(ctx context.Context, rec *state.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.JobID, err)
	}
	if err := s.rdb.Set(ctx, recordKey(rec.JobID), data, s.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// PutIfAbsent stores a record via SETNX so creation and the first applied
// event cannot overwrite each other.
func (s *Redis) PutIfAbsent(ctx context.Context, rec *state.Record) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record %s: %w", rec.JobID, err)
	}
	created, err := s.rdb.SetNX(ctx, recordKey(rec.JobID), data, s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return created, nil
}

// Delete evicts a record.
func (s *Redis) Delete(ctx context.Context, jobID string) error {
	if err := s.rdb.Del(ctx, recordKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// IDs returns the job ids currently held.
func (s *Redis) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, recordKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(recordKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return ids, nil
}

var _ Store = (*Redis)(nil)
