package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/domain"
)

// LedgerStore keeps one JSON record per (user, date, quiz) tuple plus a
// per-(date, quiz) result hash for leaderboard reads. Updates run inside a
// WATCH transaction on the tuple key, which serializes writers on the same
// tuple while leaving other tuples untouched.
type LedgerStore struct {
	client *redis.Client
}

func NewLedgerStore(client *redis.Client) *LedgerStore {
	return &LedgerStore{client: client}
}

func (s *LedgerStore) Record(ctx context.Context, userID, date string, quizIndex int) (app.LedgerRecord, error) {
	raw, err := s.client.Get(ctx, recordKey(userID, date, quizIndex)).Bytes()
	if err == redis.Nil {
		return app.LedgerRecord{}, nil
	}
	if err != nil {
		return app.LedgerRecord{}, fmt.Errorf("get ledger record: %w", err)
	}
	var rec app.LedgerRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return app.LedgerRecord{}, fmt.Errorf("unmarshal ledger record: %w", err)
	}
	return rec, nil
}

func (s *LedgerStore) Update(ctx context.Context, userID, date string, quizIndex int, fn func(rec *app.LedgerRecord) error) error {
	key := recordKey(userID, date, quizIndex)

	run := func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			rec := app.LedgerRecord{}
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil && err != redis.Nil {
				return err
			}
			if err == nil {
				if uerr := json.Unmarshal(raw, &rec); uerr != nil {
					return fmt.Errorf("unmarshal ledger record: %w", uerr)
				}
			}

			if err := fn(&rec); err != nil {
				return err
			}

			out, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal ledger record: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, 0)
				if rec.Result != nil {
					res, merr := json.Marshal(rec.Result)
					if merr != nil {
						return merr
					}
					pipe.HSet(ctx, resultsKey(date, quizIndex), userID, res)
				}
				return nil
			})
			return err
		}, key)
	}

	err := run()
	if err == redis.TxFailedErr {
		// Lost the race on this tuple; retry once against the fresh state.
		err = run()
	}
	if err == redis.TxFailedErr {
		return fmt.Errorf("ledger update: transaction conflict on %s", key)
	}
	return err
}

func (s *LedgerStore) ResultsForQuiz(ctx context.Context, date string, quizIndex int) ([]domain.Result, error) {
	raw, err := s.client.HGetAll(ctx, resultsKey(date, quizIndex)).Result()
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	out := make([]domain.Result, 0, len(raw))
	for _, v := range raw {
		var r domain.Result
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *LedgerStore) ResultsForDate(ctx context.Context, date string) ([]domain.Result, error) {
	var out []domain.Result
	for i := 0; i < domain.QuizzesPerPack; i++ {
		results, err := s.ResultsForQuiz(ctx, date, i)
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}

func recordKey(userID, date string, quizIndex int) string {
	return fmt.Sprintf("ledger:%s:%s:%d", userID, date, quizIndex)
}

func resultsKey(date string, quizIndex int) string {
	return fmt.Sprintf("results:%s:%d", date, quizIndex)
}
