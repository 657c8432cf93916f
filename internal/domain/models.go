package domain

import "time"

// Pack shape constants. A daily pack always contains 11 quizzes: indexes 0-9
// are regular quizzes and index 10 is the bonus quiz unlocked after playing
// all regular ones. Every quiz draws 10 topics with 3 questions each.
const (
	QuizzesPerPack     = 11
	BonusQuizIndex     = 10
	TopicsPerQuiz      = 10
	QuestionsPerTopic  = 3
	QuestionsPerQuiz   = TopicsPerQuiz * QuestionsPerTopic
	QuestionsPerPack   = QuizzesPerPack * QuestionsPerQuiz
	MaxAttemptsPerQuiz = 3
)

// KeyUnanswered is the sentinel choice key clients send when the timer ran
// out before the user picked an option. It never matches a correct key.
const KeyUnanswered = "UNANSWERED"

// LocalizedText maps a language code to display text, e.g. {"en": ..., "sk": ...}.
type LocalizedText map[string]string

// Resolve returns the text for lang, falling back to fallback, then to any
// non-empty entry so a partially translated question still renders.
func (t LocalizedText) Resolve(lang, fallback string) string {
	if s, ok := t[lang]; ok && s != "" {
		return s
	}
	if s, ok := t[fallback]; ok && s != "" {
		return s
	}
	for _, s := range t {
		if s != "" {
			return s
		}
	}
	return ""
}

// Topic is a question category. Deactivating a topic stops it from entering
// future packs but leaves already generated packs intact.
type Topic struct {
	ID         string        `json:"id"`
	Name       LocalizedText `json:"name"`
	Active     bool          `json:"active"`
	ImageTopic bool          `json:"imageTopic"` // designated picture-round topic
}

// Option is one of a question's four answers, keyed A-D.
type Option struct {
	Key   string        `json:"key"`
	Label LocalizedText `json:"label"`
}

// Question is an MCQ with exactly one correct option key.
type Question struct {
	ID         string        `json:"id"`
	TopicID    string        `json:"topicId"`
	Text       LocalizedText `json:"text"`
	Options    []Option      `json:"options"`
	CorrectKey string        `json:"correctKey"`
	Active     bool          `json:"active"`
	ImageURL   string        `json:"imageUrl,omitempty"`
}

// QuizSlot is one quiz inside a pack: 10 topics with the 3 question ids bound
// to each topic at generation time. QuestionIDs[i] belongs to TopicIDs[i].
type QuizSlot struct {
	Index       int        `json:"index"`
	TopicIDs    []string   `json:"topicIds"`
	QuestionIDs [][]string `json:"questionIds"`
}

// Questions flattens the slot's bound question ids preserving topic order.
func (s QuizSlot) Questions() []string {
	out := make([]string, 0, QuestionsPerQuiz)
	for _, group := range s.QuestionIDs {
		out = append(out, group...)
	}
	return out
}

// DailyPack is the immutable set of 11 quizzes for one calendar date.
// At most one pack exists per date; the date string (YYYY-MM-DD) is the key.
type DailyPack struct {
	Date        string     `json:"date"`
	Quizzes     []QuizSlot `json:"quizzes"`
	GeneratedAt time.Time  `json:"generatedAt"`
}

// Usage is the global record of question ids consumed by past packs. Version
// guards compare-and-set updates so concurrent generations cannot commit over
// each other's view of the set.
type Usage struct {
	UsedIDs   map[string]struct{}
	Version   int64
	LastReset time.Time
}

// Used reports whether a question id has been consumed by a prior pack.
func (u Usage) Used(id string) bool {
	_, ok := u.UsedIDs[id]
	return ok
}

// Answer is a single submitted choice. ChoiceKey may be KeyUnanswered.
type Answer struct {
	QuestionID string `json:"questionId"`
	ChoiceKey  string `json:"choiceKey"`
}

// Attempt is an immutable record of one quiz submission.
type Attempt struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Date         string    `json:"date"`
	QuizIndex    int       `json:"quizIndex"`
	AttemptNum   int       `json:"attemptNum"`
	Answers      []Answer  `json:"answers"`
	CorrectCount int       `json:"correctCount"`
	Percentage   float64   `json:"percentage"`
	TimeMs       int64     `json:"timeMs"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// Result is the best-score projection for one (user, date, quiz) tuple.
// Locked is a one-way flag; once set no further attempts are accepted that day.
type Result struct {
	UserID     string    `json:"userId"`
	Date       string    `json:"date"`
	QuizIndex  int       `json:"quizIndex"`
	BestPct    float64   `json:"bestPct"`
	BestTimeMs int64     `json:"bestTimeMs"`
	Locked     bool      `json:"locked"`
	LockedAt   time.Time `json:"lockedAt,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// OptionView is a rendered option with text resolved to one language.
type OptionView struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// QuestionView is a per-attempt rendering of a question: option order is
// derived from (question id, attempt number) and the correct key is only
// populated in answer-review mode.
type QuestionView struct {
	ID          string       `json:"id"`
	TopicID     string       `json:"topicId"`
	Text        string       `json:"text"`
	Options     []OptionView `json:"options"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	CorrectKey  string       `json:"correctKey,omitempty"`
	UserChoice  string       `json:"userChoice,omitempty"`
	UserCorrect bool         `json:"userCorrect,omitempty"`
}

// RankEntry is one leaderboard row.
type RankEntry struct {
	Rank       int     `json:"rank"`
	UserID     string  `json:"userId"`
	Percentage float64 `json:"percentage"`
	TimeMs     int64   `json:"timeMs"`
}

// ScoreSummary describes the outcome of a scored submission.
type ScoreSummary struct {
	CorrectCount int     `json:"correctCount"`
	Total        int     `json:"total"`
	Percentage   float64 `json:"percentage"`
}

// AttemptResult is returned by SubmitAttempt.
type AttemptResult struct {
	AttemptID         string       `json:"attemptId"`
	AttemptNumber     int          `json:"attemptNumber"`
	Score             ScoreSummary `json:"score"`
	IsBest            bool         `json:"isBest"`
	AttemptsRemaining int          `json:"attemptsRemaining"`
	Locked            bool         `json:"locked"`
}

// Quiz progress states reported in PackView.
const (
	StatusAvailable  = "available"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusLocked     = "locked"
)

// QuizStatus summarizes a user's progress on one quiz of today's pack.
type QuizStatus struct {
	Index        int      `json:"index"`
	TopicIDs     []string `json:"topicIds"`
	AttemptCount int      `json:"attemptCount"`
	Locked       bool     `json:"locked"`
	BestPct      *float64 `json:"bestPct,omitempty"`
	BestTimeMs   *int64   `json:"bestTimeMs,omitempty"`
	Status       string   `json:"status"`
}

// PackView is the today-pack progress overview for one user.
type PackView struct {
	Date          string       `json:"date"`
	Quizzes       []QuizStatus `json:"quizzes"`
	BonusQuiz     QuizStatus   `json:"bonusQuiz"`
	BonusUnlocked bool         `json:"bonusUnlocked"`
}

// DateKey formats t as the pack's natural key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
