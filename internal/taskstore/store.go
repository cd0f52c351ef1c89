// Package taskstore is the Redis-backed result store. It is the single source
// of truth for task state: records are JSON blobs keyed by task id with a
// per-key TTL, and status transitions go through a value-level compare-and-set
// so the pending->processing hop can act as the mutual-exclusion point between
// workers.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/docpipehq/docpipe/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for the id.
	ErrNotFound = errors.New("taskstore: record not found")
	// ErrAlreadyExists guards against task id reuse.
	ErrAlreadyExists = errors.New("taskstore: record already exists")
)

const (
	taskKeyPrefix  = "docpipe:task:"
	batchKeyPrefix = "docpipe:batch:"
)

// swapScript replaces the record only when the stored bytes still equal the
// bytes the caller last read. ARGV[3] > 0 sets a fresh TTL (terminal writes);
// otherwise the remaining TTL is carried over. A missing key is a CAS miss,
// which is what makes post-delete writes drop silently.
var swapScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return 0 end
if cur ~= ARGV[1] then return 0 end
local ttl = redis.call('PTTL', KEYS[1])
redis.call('SET', KEYS[1], ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
elseif ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// Store holds task and batch records in Redis.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New constructs a Store. ttl bounds how long records are retained; terminal
// writes restart it so expiry counts from completed_at.
func New(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func taskKey(id string) string { return taskKeyPrefix + id }

func encode(rec *model.TaskRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*model.TaskRecord, error) {
	var rec model.TaskRecord
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// Create inserts a new record. The id must be unused; the record gets the
// store TTL immediately so abandoned submissions cannot leak.
func (s *Store) Create(ctx context.Context, rec *model.TaskRecord) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, taskKey(rec.TaskID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Get returns the record for id.
func (s *Store) Get(ctx context.Context, id string) (*model.TaskRecord, error) {
	rec, _, err := s.Load(ctx, id)
	return rec, err
}

// Load returns the record together with the raw stored bytes, which callers
// pass back to Swap as the compare value.
func (s *Store) Load(ctx context.Context, id string) (*model.TaskRecord, []byte, error) {
	data, err := s.rdb.Get(ctx, taskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("get record: %w", err)
	}
	rec, err := decode(data)
	if err != nil {
		return nil, nil, err
	}
	return rec, data, nil
}

// Swap atomically replaces the stored record if it still matches old. It
// returns the written bytes and whether the swap happened; a miss means the
// record changed underneath the caller or was deleted, and the write is
// dropped without side effects. refreshTTL restarts the retention clock and
// is set on terminal transitions only.
func (s *Store) Swap(ctx context.Context, id string, old []byte, next *model.TaskRecord, refreshTTL bool) ([]byte, bool, error) {
	data, err := encode(next)
	if err != nil {
		return nil, false, err
	}
	ttlMillis := int64(0)
	if refreshTTL {
		ttlMillis = s.ttl.Milliseconds()
	}
	n, err := swapScript.Run(ctx, s.rdb, []string{taskKey(id)}, old, data, ttlMillis).Int64()
	if err != nil {
		return nil, false, fmt.Errorf("swap record: %w", err)
	}
	return data, n == 1, nil
}

// Delete removes the record. In-flight processing is not cancelled; its
// eventual Swap will simply miss.
func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, taskKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the Redis connection, used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
