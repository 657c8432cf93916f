package domain

import "errors"

var (
	// ErrInsufficientTopics is returned when fewer than 10 active topics have
	// 3+ active questions, making pack construction impossible.
	ErrInsufficientTopics = errors.New("need at least 10 topics with 3+ active questions")
	// ErrInvalidQuizIndex is returned for quiz indexes outside 0-10.
	ErrInvalidQuizIndex = errors.New("quiz index must be between 0 and 10")
	// ErrAttemptLimitExceeded is returned on a 4th submission for the same quiz and day.
	ErrAttemptLimitExceeded = errors.New("maximum 3 attempts reached")
	// ErrQuizLocked is returned once answers have been viewed or the quiz auto-locked.
	ErrQuizLocked = errors.New("quiz is locked")
	// ErrMalformedSubmission is returned when submitted answers do not match
	// the quiz's bound question set.
	ErrMalformedSubmission = errors.New("answers do not match the quiz question set")
	// ErrBonusLocked is returned when the bonus quiz is requested before all
	// regular quizzes have been attempted.
	ErrBonusLocked = errors.New("complete all 10 quizzes to unlock the bonus quiz")
	// ErrTopicNotFound indicates a referenced topic id is unknown.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrQuestionNotFound indicates a referenced question id is unknown.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrPackNotFound indicates no pack is persisted for the requested date.
	ErrPackNotFound = errors.New("pack not found")
)
