package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"daily-quiz-service/internal/domain"
)

// Leaderboard is one computed ranking snapshot.
type Leaderboard struct {
	Date      string             `json:"date"`
	QuizIndex int                `json:"quizIndex"` // -1 for the daily overall board
	Entries   []domain.RankEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// OverallQuizIndex marks the aggregate daily leaderboard in Leaderboard.QuizIndex.
const OverallQuizIndex = -1

// LeaderboardService derives rankings from the result ledger and fans fresh
// snapshots out to in-process subscribers (the websocket stream).
type LeaderboardService struct {
	ledger LedgerStore
	clock  func() time.Time

	mu          sync.Mutex
	subscribers map[string]map[chan Leaderboard]struct{}
}

func NewLeaderboardService(ledger LedgerStore) *LeaderboardService {
	return &LeaderboardService{
		ledger:      ledger,
		clock:       time.Now,
		subscribers: make(map[string]map[chan Leaderboard]struct{}),
	}
}

// QuizLeaderboard ranks all results for (date, quizIndex), optionally
// restricted to the given user ids. Percentage descends, time ascends; ties
// on both fall back to earliest improvement then user id so the order is
// reproducible. Ranks are positions, ties included.
func (s *LeaderboardService) QuizLeaderboard(ctx context.Context, date time.Time, quizIndex int, userFilter []string) ([]domain.RankEntry, error) {
	if quizIndex < 0 || quizIndex >= domain.QuizzesPerPack {
		return nil, domain.ErrInvalidQuizIndex
	}
	results, err := s.ledger.ResultsForQuiz(ctx, domain.DateKey(date), quizIndex)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	results = filterResults(results, userFilter)

	sort.Slice(results, func(i, j int) bool {
		if results[i].BestPct != results[j].BestPct {
			return results[i].BestPct > results[j].BestPct
		}
		if results[i].BestTimeMs != results[j].BestTimeMs {
			return results[i].BestTimeMs < results[j].BestTimeMs
		}
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.Before(results[j].UpdatedAt)
		}
		return results[i].UserID < results[j].UserID
	})

	entries := make([]domain.RankEntry, len(results))
	for i, r := range results {
		entries[i] = domain.RankEntry{
			Rank:       i + 1,
			UserID:     r.UserID,
			Percentage: r.BestPct,
			TimeMs:     r.BestTimeMs,
		}
	}
	return entries, nil
}

// DailyOverallLeaderboard aggregates each user's results for the date:
// average percentage descending, then total time ascending, then user id.
func (s *LeaderboardService) DailyOverallLeaderboard(ctx context.Context, date time.Time, userFilter []string) ([]domain.RankEntry, error) {
	results, err := s.ledger.ResultsForDate(ctx, domain.DateKey(date))
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	results = filterResults(results, userFilter)

	type agg struct {
		userID  string
		sumPct  float64
		totalMs int64
		quizzes int
	}
	byUser := make(map[string]*agg)
	order := make([]string, 0)
	for _, r := range results {
		a, ok := byUser[r.UserID]
		if !ok {
			a = &agg{userID: r.UserID}
			byUser[r.UserID] = a
			order = append(order, r.UserID)
		}
		a.sumPct += r.BestPct
		a.totalMs += r.BestTimeMs
		a.quizzes++
	}

	aggs := make([]*agg, 0, len(order))
	for _, id := range order {
		aggs = append(aggs, byUser[id])
	}
	sort.Slice(aggs, func(i, j int) bool {
		ai, aj := aggs[i], aggs[j]
		avgI := ai.sumPct / float64(ai.quizzes)
		avgJ := aj.sumPct / float64(aj.quizzes)
		if avgI != avgJ {
			return avgI > avgJ
		}
		if ai.totalMs != aj.totalMs {
			return ai.totalMs < aj.totalMs
		}
		return ai.userID < aj.userID
	})

	entries := make([]domain.RankEntry, len(aggs))
	for i, a := range aggs {
		entries[i] = domain.RankEntry{
			Rank:       i + 1,
			UserID:     a.userID,
			Percentage: a.sumPct / float64(a.quizzes),
			TimeMs:     a.totalMs,
		}
	}
	return entries, nil
}

// Subscribe returns a channel receiving leaderboard snapshots for (date,
// quizIndex) starting with the current one. The caller must invoke cancel to
// avoid leaks.
func (s *LeaderboardService) Subscribe(ctx context.Context, date time.Time, quizIndex int) (<-chan Leaderboard, func(), error) {
	entries, err := s.QuizLeaderboard(ctx, date, quizIndex, nil)
	if err != nil {
		return nil, nil, err
	}
	key := subKey(domain.DateKey(date), quizIndex)
	ch := make(chan Leaderboard, 8)

	s.mu.Lock()
	subs, ok := s.subscribers[key]
	if !ok {
		subs = make(map[chan Leaderboard]struct{})
		s.subscribers[key] = subs
	}
	subs[ch] = struct{}{}
	s.mu.Unlock()

	ch <- Leaderboard{
		Date:      domain.DateKey(date),
		QuizIndex: quizIndex,
		Entries:   entries,
		UpdatedAt: s.clock().UTC(),
	}

	cancel := func() {
		s.mu.Lock()
		if subs, ok := s.subscribers[key]; ok {
			if _, live := subs[ch]; live {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(s.subscribers, key)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

// ResultChanged implements ResultNotifier: it recomputes the affected board
// and broadcasts it. Slow subscribers have their stale snapshot dropped so a
// stuck client cannot block the ledger path.
func (s *LeaderboardService) ResultChanged(date string, quizIndex int) {
	key := subKey(date, quizIndex)

	s.mu.Lock()
	if len(s.subscribers[key]) == 0 {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return
	}
	entries, err := s.QuizLeaderboard(ctx, day, quizIndex, nil)
	if err != nil {
		return
	}
	lb := Leaderboard{Date: date, QuizIndex: quizIndex, Entries: entries, UpdatedAt: s.clock().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers[key] {
		select {
		case ch <- lb:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}

func subKey(date string, quizIndex int) string {
	return fmt.Sprintf("%s/%d", date, quizIndex)
}

func filterResults(results []domain.Result, userFilter []string) []domain.Result {
	if userFilter == nil {
		return results
	}
	allowed := make(map[string]struct{}, len(userFilter))
	for _, id := range userFilter {
		allowed[id] = struct{}{}
	}
	kept := results[:0]
	for _, r := range results {
		if _, ok := allowed[r.UserID]; ok {
			kept = append(kept, r)
		}
	}
	return kept
}
