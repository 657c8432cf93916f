package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"daily-quiz-service/internal/domain"
)

// PackStore keeps daily packs in Redis, one JSON value per date. The
// first-writer-wins insert is SETNX on the date key, which gives the
// uniqueness constraint concurrent generators race on.
type PackStore struct {
	client *redis.Client
}

func NewPackStore(client *redis.Client) *PackStore {
	return &PackStore{client: client}
}

func (s *PackStore) Pack(ctx context.Context, date string) (domain.DailyPack, error) {
	raw, err := s.client.Get(ctx, packKey(date)).Bytes()
	if err == redis.Nil {
		return domain.DailyPack{}, domain.ErrPackNotFound
	}
	if err != nil {
		return domain.DailyPack{}, fmt.Errorf("get pack: %w", err)
	}
	var pack domain.DailyPack
	if err := json.Unmarshal(raw, &pack); err != nil {
		return domain.DailyPack{}, fmt.Errorf("unmarshal pack: %w", err)
	}
	return pack, nil
}

func (s *PackStore) Insert(ctx context.Context, pack domain.DailyPack) (domain.DailyPack, bool, error) {
	raw, err := json.Marshal(pack)
	if err != nil {
		return domain.DailyPack{}, false, fmt.Errorf("marshal pack: %w", err)
	}
	ok, err := s.client.SetNX(ctx, packKey(pack.Date), raw, 0).Result()
	if err != nil {
		return domain.DailyPack{}, false, fmt.Errorf("insert pack: %w", err)
	}
	if ok {
		return pack, true, nil
	}
	winner, err := s.Pack(ctx, pack.Date)
	if err == domain.ErrPackNotFound {
		// The winner was deleted between our SETNX and the re-read; one more
		// attempt to claim the slot.
		ok, err := s.client.SetNX(ctx, packKey(pack.Date), raw, 0).Result()
		if err != nil {
			return domain.DailyPack{}, false, fmt.Errorf("insert pack: %w", err)
		}
		if ok {
			return pack, true, nil
		}
		winner, err = s.Pack(ctx, pack.Date)
		if err != nil {
			return domain.DailyPack{}, false, err
		}
		return winner, false, nil
	}
	if err != nil {
		return domain.DailyPack{}, false, err
	}
	return winner, false, nil
}

func (s *PackStore) Delete(ctx context.Context, date string) error {
	if err := s.client.Del(ctx, packKey(date)).Err(); err != nil {
		return fmt.Errorf("delete pack: %w", err)
	}
	return nil
}

func packKey(date string) string {
	return "pack:" + date
}
