package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"daily-quiz-service/internal/domain"
)

const (
	usageSetKey     = "usage:used"
	usageVersionKey = "usage:version"
	usageResetKey   = "usage:lastreset"
)

// UsageStore keeps the global used-question set in a Redis set guarded by a
// version counter. Mutations run inside WATCH transactions on the version key
// so concurrent generators cannot commit over a state they did not observe.
type UsageStore struct {
	client *redis.Client
}

func NewUsageStore(client *redis.Client) *UsageStore {
	return &UsageStore{client: client}
}

func (s *UsageStore) Usage(ctx context.Context) (domain.Usage, error) {
	ids, err := s.client.SMembers(ctx, usageSetKey).Result()
	if err != nil {
		return domain.Usage{}, fmt.Errorf("load usage set: %w", err)
	}
	version, err := s.client.Get(ctx, usageVersionKey).Int64()
	if err != nil && err != redis.Nil {
		return domain.Usage{}, fmt.Errorf("load usage version: %w", err)
	}

	usage := domain.Usage{
		UsedIDs: make(map[string]struct{}, len(ids)),
		Version: version,
	}
	for _, id := range ids {
		usage.UsedIDs[id] = struct{}{}
	}
	if raw, err := s.client.Get(ctx, usageResetKey).Result(); err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			usage.LastReset = t
		}
	}
	return usage, nil
}

func (s *UsageStore) Add(ctx context.Context, version int64, ids []string) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return s.guarded(ctx, version, func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, usageSetKey, members...)
	})
}

func (s *UsageStore) Reset(ctx context.Context, version int64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.guarded(ctx, version, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, usageSetKey)
		pipe.Set(ctx, usageResetKey, now, 0)
	})
}

// guarded runs mutate plus a version bump iff the stored version still equals
// expected. Returns false on any version conflict.
func (s *UsageStore) guarded(ctx context.Context, expected int64, mutate func(pipe redis.Pipeliner)) (bool, error) {
	conflict := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, usageVersionKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != expected {
			conflict = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			mutate(pipe)
			pipe.Set(ctx, usageVersionKey, strconv.FormatInt(expected+1, 10), 0)
			return nil
		})
		return err
	}, usageVersionKey)
	if err == redis.TxFailedErr {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("usage transaction: %w", err)
	}
	return !conflict, nil
}
