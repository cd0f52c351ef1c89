package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/docpipehq/docpipe/internal/model"
)

func batchKey(id string) string { return batchKeyPrefix + id }

// CreateBatch stores the grouping record for a batch submission. Only the id
// list is stored; aggregate status is always derived from the members.
func (s *Store) CreateBatch(ctx context.Context, batch *model.BatchRecord) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, batchKey(batch.BatchID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// GetBatch returns the stored batch record.
func (s *Store) GetBatch(ctx context.Context, id string) (*model.BatchRecord, error) {
	data, err := s.rdb.Get(ctx, batchKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	var batch model.BatchRecord
	if err := sonic.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &batch, nil
}
