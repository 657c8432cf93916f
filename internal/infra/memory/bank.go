package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/domain"
)

// StaticBank is a question bank backed by in-memory maps (tests/demos).
type StaticBank struct {
	topics    []domain.Topic
	questions map[string]domain.Question
	byTopic   map[string][]string
}

func NewStaticBank(topics []domain.Topic, questions []domain.Question) *StaticBank {
	b := &StaticBank{
		topics:    append([]domain.Topic(nil), topics...),
		questions: make(map[string]domain.Question, len(questions)),
		byTopic:   make(map[string][]string),
	}
	for _, q := range questions {
		b.questions[q.ID] = q
		b.byTopic[q.TopicID] = append(b.byTopic[q.TopicID], q.ID)
	}
	return b
}

func (b *StaticBank) ActiveTopics(_ context.Context, minQuestions int) ([]domain.Topic, error) {
	var out []domain.Topic
	for _, t := range b.topics {
		if !t.Active {
			continue
		}
		active := 0
		for _, id := range b.byTopic[t.ID] {
			if b.questions[id].Active {
				active++
			}
		}
		if active >= minQuestions {
			out = append(out, t)
		}
	}
	return out, nil
}

func (b *StaticBank) ActiveQuestions(_ context.Context, topicID string) ([]domain.Question, error) {
	var out []domain.Question
	for _, id := range b.byTopic[topicID] {
		if q := b.questions[id]; q.Active {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *StaticBank) ActiveQuestionIDs(_ context.Context) ([]string, error) {
	var out []string
	for id, q := range b.questions {
		if q.Active {
			out = append(out, id)
		}
	}
	return out, nil
}

func (b *StaticBank) QuestionsByID(_ context.Context, ids []string) (map[string]domain.Question, error) {
	out := make(map[string]domain.Question, len(ids))
	for _, id := range ids {
		if q, ok := b.questions[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

// BankCache wraps a slower QuestionBank (e.g. the Postgres loader) with a
// TTL'd in-process cache of the topic list and per-topic question sets.
// Cache fills are deduplicated per key.
type BankCache struct {
	loader app.QuestionBank
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.RWMutex
	topics    map[int]cacheEntry[[]domain.Topic]
	questions map[string]cacheEntry[[]domain.Question]
	ids       *cacheEntry[[]string]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func NewBankCache(loader app.QuestionBank, ttl time.Duration) *BankCache {
	return &BankCache{
		loader:    loader,
		ttl:       ttl,
		clock:     time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		topics:    make(map[int]cacheEntry[[]domain.Topic]),
		questions: make(map[string]cacheEntry[[]domain.Question]),
	}
}

func (c *BankCache) ActiveTopics(ctx context.Context, minQuestions int) ([]domain.Topic, error) {
	now := c.clock()

	c.mu.RLock()
	if e, ok := c.topics[minQuestions]; ok && e.expiresAt.After(now) {
		c.mu.RUnlock()
		return e.value, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do("topics", func() (interface{}, error) {
		topics, err := c.loader.ActiveTopics(ctx, minQuestions)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.topics[minQuestions] = cacheEntry[[]domain.Topic]{value: topics, expiresAt: c.clock().Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return topics, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Topic), nil
}

func (c *BankCache) ActiveQuestions(ctx context.Context, topicID string) ([]domain.Question, error) {
	now := c.clock()

	c.mu.RLock()
	if e, ok := c.questions[topicID]; ok && e.expiresAt.After(now) {
		c.mu.RUnlock()
		return e.value, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do("topic:"+topicID, func() (interface{}, error) {
		qs, err := c.loader.ActiveQuestions(ctx, topicID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.questions[topicID] = cacheEntry[[]domain.Question]{value: qs, expiresAt: c.clock().Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Question), nil
}

func (c *BankCache) ActiveQuestionIDs(ctx context.Context) ([]string, error) {
	now := c.clock()

	c.mu.RLock()
	if c.ids != nil && c.ids.expiresAt.After(now) {
		ids := c.ids.value
		c.mu.RUnlock()
		return ids, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do("ids", func() (interface{}, error) {
		ids, err := c.loader.ActiveQuestionIDs(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.ids = &cacheEntry[[]string]{value: ids, expiresAt: c.clock().Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// QuestionsByID is not cached: renders hit it with pack-bound id sets that
// vary per quiz, and the loader already fetches them in one round trip.
func (c *BankCache) QuestionsByID(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	return c.loader.QuestionsByID(ctx, ids)
}

func (c *BankCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
