package memory

import (
	"context"
	"testing"
	"time"

	"daily-quiz-service/internal/domain"
)

func testTopics() []domain.Topic {
	return []domain.Topic{
		{ID: "history", Active: true},
		{ID: "geography", Active: true},
		{ID: "retired", Active: false},
	}
}

func testQuestions() []domain.Question {
	return []domain.Question{
		{ID: "h1", TopicID: "history", Active: true},
		{ID: "h2", TopicID: "history", Active: true},
		{ID: "h3", TopicID: "history", Active: true},
		{ID: "h4", TopicID: "history", Active: false},
		{ID: "g1", TopicID: "geography", Active: true},
		{ID: "r1", TopicID: "retired", Active: true},
	}
}

func TestStaticBankActiveTopics(t *testing.T) {
	bank := NewStaticBank(testTopics(), testQuestions())
	ctx := context.Background()

	topics, err := bank.ActiveTopics(ctx, 3)
	if err != nil {
		t.Fatalf("ActiveTopics: %v", err)
	}
	if len(topics) != 1 || topics[0].ID != "history" {
		t.Fatalf("expected only history to clear the 3-question bar, got %+v", topics)
	}

	topics, err = bank.ActiveTopics(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveTopics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("inactive topic leaked into results: %+v", topics)
	}
}

func TestStaticBankActiveQuestionsSkipsInactive(t *testing.T) {
	bank := NewStaticBank(testTopics(), testQuestions())

	qs, err := bank.ActiveQuestions(context.Background(), "history")
	if err != nil {
		t.Fatalf("ActiveQuestions: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("expected 3 active history questions, got %d", len(qs))
	}
	for _, q := range qs {
		if q.ID == "h4" {
			t.Fatalf("inactive question returned")
		}
	}
}

func TestStaticBankQuestionsByID(t *testing.T) {
	bank := NewStaticBank(testTopics(), testQuestions())

	got, err := bank.QuestionsByID(context.Background(), []string{"h1", "g1", "missing"})
	if err != nil {
		t.Fatalf("QuestionsByID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("unknown id resolved")
	}
}

// countingBank counts loader calls underneath the cache.
type countingBank struct {
	*StaticBank
	topicCalls    int
	questionCalls int
}

func (b *countingBank) ActiveTopics(ctx context.Context, minQuestions int) ([]domain.Topic, error) {
	b.topicCalls++
	return b.StaticBank.ActiveTopics(ctx, minQuestions)
}

func (b *countingBank) ActiveQuestions(ctx context.Context, topicID string) ([]domain.Question, error) {
	b.questionCalls++
	return b.StaticBank.ActiveQuestions(ctx, topicID)
}

func TestBankCacheServesFromCache(t *testing.T) {
	loader := &countingBank{StaticBank: NewStaticBank(testTopics(), testQuestions())}
	cache := NewBankCache(loader, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cache.ActiveTopics(ctx, 3); err != nil {
			t.Fatalf("ActiveTopics: %v", err)
		}
		if _, err := cache.ActiveQuestions(ctx, "history"); err != nil {
			t.Fatalf("ActiveQuestions: %v", err)
		}
	}
	if loader.topicCalls != 1 {
		t.Fatalf("expected 1 topic load, got %d", loader.topicCalls)
	}
	if loader.questionCalls != 1 {
		t.Fatalf("expected 1 question load, got %d", loader.questionCalls)
	}
}

func TestBankCacheExpires(t *testing.T) {
	loader := &countingBank{StaticBank: NewStaticBank(testTopics(), testQuestions())}
	cache := NewBankCache(loader, time.Minute)
	now := time.Now()
	cache.clock = func() time.Time { return now }
	ctx := context.Background()

	if _, err := cache.ActiveTopics(ctx, 3); err != nil {
		t.Fatalf("ActiveTopics: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := cache.ActiveTopics(ctx, 3); err != nil {
		t.Fatalf("ActiveTopics after expiry: %v", err)
	}
	if loader.topicCalls != 2 {
		t.Fatalf("expected a reload after TTL, got %d loads", loader.topicCalls)
	}
}
