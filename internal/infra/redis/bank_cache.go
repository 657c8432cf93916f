package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/domain"
)

// BankCache caches question-bank reads in Redis (one JSON value per query)
// and falls back to a loader on cache miss, so every service instance shares
// one warm copy of the bank. Fills are deduplicated per key.
type BankCache struct {
	client *redis.Client
	loader app.QuestionBank
	ttl    time.Duration
	sf     singleflight.Group
}

func NewBankCache(client *redis.Client, loader app.QuestionBank, ttl time.Duration) *BankCache {
	return &BankCache{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

func (c *BankCache) ActiveTopics(ctx context.Context, minQuestions int) ([]domain.Topic, error) {
	key := fmt.Sprintf("bank:topics:%d", minQuestions)
	var out []domain.Topic
	err := c.cached(ctx, key, &out, func() (interface{}, error) {
		return c.loader.ActiveTopics(ctx, minQuestions)
	})
	return out, err
}

func (c *BankCache) ActiveQuestions(ctx context.Context, topicID string) ([]domain.Question, error) {
	key := "bank:topic:" + topicID
	var out []domain.Question
	err := c.cached(ctx, key, &out, func() (interface{}, error) {
		return c.loader.ActiveQuestions(ctx, topicID)
	})
	return out, err
}

func (c *BankCache) ActiveQuestionIDs(ctx context.Context) ([]string, error) {
	key := "bank:ids"
	var out []string
	err := c.cached(ctx, key, &out, func() (interface{}, error) {
		return c.loader.ActiveQuestionIDs(ctx)
	})
	return out, err
}

// QuestionsByID passes through: the id sets vary per quiz and the loader
// fetches them in a single round trip already.
func (c *BankCache) QuestionsByID(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	return c.loader.QuestionsByID(ctx, ids)
}

// cached reads key into dest, filling it from load on a miss.
func (c *BankCache) cached(ctx context.Context, key string, dest interface{}, load func() (interface{}, error)) error {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(raw, dest)
	}

	filled, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
			return raw, nil
		}
		value, err := load()
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(filled.([]byte), dest)
}

// ttlWithJitter spreads expirations by up to 10%. Fills run on concurrent
// singleflight goroutines, so this uses the locked package-level generator.
func (c *BankCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
