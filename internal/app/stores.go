package app

import (
	"context"

	"daily-quiz-service/internal/domain"
)

// QuestionBank reads topic and question content (from cache/backing store).
// The engine never mutates the bank.
type QuestionBank interface {
	// ActiveTopics returns active topics having at least minQuestions active questions.
	ActiveTopics(ctx context.Context, minQuestions int) ([]domain.Topic, error)
	// ActiveQuestions returns all active questions belonging to a topic.
	ActiveQuestions(ctx context.Context, topicID string) ([]domain.Question, error)
	// ActiveQuestionIDs returns the ids of every active question in the bank.
	ActiveQuestionIDs(ctx context.Context) ([]string, error)
	// QuestionsByID fetches questions by id; missing ids are simply absent
	// from the returned map.
	QuestionsByID(ctx context.Context, ids []string) (map[string]domain.Question, error)
}

// PackStore persists daily packs keyed uniquely by date.
type PackStore interface {
	// Pack returns the pack for date or domain.ErrPackNotFound.
	Pack(ctx context.Context, date string) (domain.DailyPack, error)
	// Insert stores pack unless one already exists for its date. It returns
	// the authoritative pack (the winner) and whether this call inserted it.
	Insert(ctx context.Context, pack domain.DailyPack) (domain.DailyPack, bool, error)
	// Delete removes the pack for date (administrative reset). Deleting a
	// missing pack is not an error.
	Delete(ctx context.Context, date string) error
}

// UsageStore holds the global used-question set behind versioned
// compare-and-set updates.
type UsageStore interface {
	Usage(ctx context.Context) (domain.Usage, error)
	// Add merges ids into the used set iff the stored version still equals
	// version. Returns false on a version conflict.
	Add(ctx context.Context, version int64, ids []string) (bool, error)
	// Reset clears the used set iff the stored version still equals version
	// and stamps LastReset. Returns false on a version conflict.
	Reset(ctx context.Context, version int64) (bool, error)
}

// LedgerRecord is the per-(user, date, quiz) state a LedgerStore guards:
// the append-only attempts plus the best-result projection.
type LedgerRecord struct {
	Attempts []domain.Attempt
	Result   *domain.Result
}

// LedgerStore persists attempts and results. Update must serialize writers
// per (user, date, quiz) tuple; distinct tuples proceed independently.
type LedgerStore interface {
	// Record returns the current state for the tuple (zero record if none).
	Record(ctx context.Context, userID, date string, quizIndex int) (LedgerRecord, error)
	// Update atomically applies fn to the tuple's record and persists the
	// outcome. An error from fn aborts the update and is returned as-is.
	Update(ctx context.Context, userID, date string, quizIndex int, fn func(rec *LedgerRecord) error) error
	// ResultsForQuiz returns all results for (date, quizIndex).
	ResultsForQuiz(ctx context.Context, date string, quizIndex int) ([]domain.Result, error)
	// ResultsForDate returns all results for the date across quizzes.
	ResultsForDate(ctx context.Context, date string) ([]domain.Result, error)
}
