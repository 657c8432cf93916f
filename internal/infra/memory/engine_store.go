package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/domain"
)

// PackStore is an in-memory implementation of app.PackStore.
type PackStore struct {
	mu    sync.RWMutex
	packs map[string]domain.DailyPack
}

func NewPackStore() *PackStore {
	return &PackStore{packs: make(map[string]domain.DailyPack)}
}

func (s *PackStore) Pack(_ context.Context, date string) (domain.DailyPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pack, ok := s.packs[date]
	if !ok {
		return domain.DailyPack{}, domain.ErrPackNotFound
	}
	return pack, nil
}

func (s *PackStore) Insert(_ context.Context, pack domain.DailyPack) (domain.DailyPack, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.packs[pack.Date]; ok {
		return existing, false, nil
	}
	s.packs[pack.Date] = pack
	return pack, true, nil
}

func (s *PackStore) Delete(_ context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.packs, date)
	return nil
}

// UsageStore is an in-memory implementation of app.UsageStore.
type UsageStore struct {
	mu        sync.Mutex
	used      map[string]struct{}
	version   int64
	lastReset time.Time
}

func NewUsageStore() *UsageStore {
	return &UsageStore{used: make(map[string]struct{})}
}

func (s *UsageStore) Usage(_ context.Context) (domain.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.used))
	for id := range s.used {
		ids[id] = struct{}{}
	}
	return domain.Usage{UsedIDs: ids, Version: s.version, LastReset: s.lastReset}, nil
}

func (s *UsageStore) Add(_ context.Context, version int64, ids []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return false, nil
	}
	for _, id := range ids {
		s.used[id] = struct{}{}
	}
	s.version++
	return true, nil
}

func (s *UsageStore) Reset(_ context.Context, version int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return false, nil
	}
	s.used = make(map[string]struct{})
	s.version++
	s.lastReset = time.Now().UTC()
	return true, nil
}

// LedgerStore is an in-memory implementation of app.LedgerStore. Updates are
// serialized per (user, date, quiz) tuple.
type LedgerStore struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	records map[string]*app.LedgerRecord
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		locks:   make(map[string]*sync.Mutex),
		records: make(map[string]*app.LedgerRecord),
	}
}

func ledgerKey(userID, date string, quizIndex int) string {
	return fmt.Sprintf("%s/%s/%d", userID, date, quizIndex)
}

func (s *LedgerStore) tupleLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *LedgerStore) Record(_ context.Context, userID, date string, quizIndex int) (app.LedgerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ledgerKey(userID, date, quizIndex)]
	if !ok {
		return app.LedgerRecord{}, nil
	}
	return copyRecord(rec), nil
}

func (s *LedgerStore) Update(_ context.Context, userID, date string, quizIndex int, fn func(rec *app.LedgerRecord) error) error {
	key := ledgerKey(userID, date, quizIndex)
	l := s.tupleLock(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	stored, ok := s.records[key]
	s.mu.Unlock()

	work := app.LedgerRecord{}
	if ok {
		work = copyRecord(stored)
	}
	if err := fn(&work); err != nil {
		return err
	}

	s.mu.Lock()
	s.records[key] = &work
	s.mu.Unlock()
	return nil
}

func (s *LedgerStore) ResultsForQuiz(_ context.Context, date string, quizIndex int) ([]domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Result
	for _, rec := range s.records {
		if rec.Result != nil && rec.Result.Date == date && rec.Result.QuizIndex == quizIndex {
			out = append(out, *rec.Result)
		}
	}
	return out, nil
}

func (s *LedgerStore) ResultsForDate(_ context.Context, date string) ([]domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Result
	for _, rec := range s.records {
		if rec.Result != nil && rec.Result.Date == date {
			out = append(out, *rec.Result)
		}
	}
	return out, nil
}

func copyRecord(rec *app.LedgerRecord) app.LedgerRecord {
	out := app.LedgerRecord{
		Attempts: append([]domain.Attempt(nil), rec.Attempts...),
	}
	if rec.Result != nil {
		r := *rec.Result
		out.Result = &r
	}
	return out
}
