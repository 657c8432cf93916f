package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"daily-quiz-service/internal/domain"
)

// BankLoader reads the question bank from Postgres. Localized text and option
// lists are stored as JSONB.
type BankLoader struct {
	pool *pgxpool.Pool
}

func NewBankLoader(pool *pgxpool.Pool) *BankLoader {
	return &BankLoader{pool: pool}
}

func (l *BankLoader) ActiveTopics(ctx context.Context, minQuestions int) ([]domain.Topic, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT t.id, t.name, t.image_topic
		FROM topics t
		WHERE t.active
		  AND (SELECT count(*) FROM questions q WHERE q.topic_id = t.id AND q.active) >= $1
		ORDER BY t.id`, minQuestions)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var out []domain.Topic
	for rows.Next() {
		var (
			t       domain.Topic
			rawName []byte
		)
		if err := rows.Scan(&t.ID, &rawName, &t.ImageTopic); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		if err := json.Unmarshal(rawName, &t.Name); err != nil {
			return nil, fmt.Errorf("unmarshal topic name: %w", err)
		}
		t.Active = true
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *BankLoader) ActiveQuestions(ctx context.Context, topicID string) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, topic_id, text, options, correct_key, COALESCE(image_url, '')
		FROM questions
		WHERE topic_id = $1 AND active
		ORDER BY id`, topicID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()
	return scanQuestions(rows)
}

func (l *BankLoader) ActiveQuestionIDs(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT id FROM questions WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("query question ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan question id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (l *BankLoader) QuestionsByID(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, topic_id, text, options, correct_key, COALESCE(image_url, '')
		FROM questions
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query questions by id: %w", err)
	}
	defer rows.Close()

	questions, err := scanQuestions(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		out[q.ID] = q
	}
	return out, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanQuestions(rows pgxRows) ([]domain.Question, error) {
	var out []domain.Question
	for rows.Next() {
		var (
			q                    domain.Question
			rawText, rawOptions []byte
		)
		if err := rows.Scan(&q.ID, &q.TopicID, &rawText, &rawOptions, &q.CorrectKey, &q.ImageURL); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(rawText, &q.Text); err != nil {
			return nil, fmt.Errorf("unmarshal question text: %w", err)
		}
		if err := json.Unmarshal(rawOptions, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal question options: %w", err)
		}
		q.Active = true
		out = append(out, q)
	}
	return out, rows.Err()
}
