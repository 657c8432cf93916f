package app_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/domain"
	"daily-quiz-service/internal/infra/memory"
)

type ledgerFixture struct {
	bank    *memory.StaticBank
	packs   *app.PackService
	ledger  *memory.LedgerStore
	service *app.LedgerService
	date    time.Time
}

func newLedgerFixture(t *testing.T, notifier app.ResultNotifier) *ledgerFixture {
	t.Helper()
	bank := fixtureBank(15, 30)
	packs := app.NewPackService(bank, memory.NewPackStore(), memory.NewUsageStore(), zap.NewNop())
	ledger := memory.NewLedgerStore()
	return &ledgerFixture{
		bank:    bank,
		packs:   packs,
		ledger:  ledger,
		service: app.NewLedgerService(ledger, bank, packs, notifier),
		date:    day("2025-01-15"),
	}
}

// answersFor builds a submission for quizIndex with the requested number of
// correct answers; the rest pick a wrong key. The fixture's correct key is
// always "B".
func (f *ledgerFixture) answersFor(t *testing.T, quizIndex, correct int) []domain.Answer {
	t.Helper()
	pack, err := f.packs.GetOrGeneratePack(context.Background(), f.date)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	ids := pack.Quizzes[quizIndex].Questions()
	answers := make([]domain.Answer, len(ids))
	for i, id := range ids {
		key := "A"
		if i < correct {
			key = "B"
		}
		answers[i] = domain.Answer{QuestionID: id, ChoiceKey: key}
	}
	return answers
}

func TestSubmitAttemptScoresAndNumbers(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)
	answers := f.answersFor(t, 0, 20)

	res, err := f.service.SubmitAttempt(ctx, "alice", f.date, 0, answers, 42000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.AttemptNumber != 1 {
		t.Fatalf("expected attempt 1, got %d", res.AttemptNumber)
	}
	if res.Score.CorrectCount != 20 || res.Score.Total != 30 {
		t.Fatalf("unexpected score %+v", res.Score)
	}
	if res.Score.Percentage != 66.67 {
		t.Fatalf("expected 66.67%%, got %v", res.Score.Percentage)
	}
	if !res.IsBest {
		t.Fatalf("first attempt must set the best result")
	}
	if res.AttemptsRemaining != 2 || res.Locked {
		t.Fatalf("unexpected attempt state %+v", res)
	}
}

func TestAttemptCapAndAutoLock(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)

	for i := 1; i <= 3; i++ {
		res, err := f.service.SubmitAttempt(ctx, "alice", f.date, 0, f.answersFor(t, 0, i*5), int64(60000-i*1000))
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if res.AttemptNumber != i {
			t.Fatalf("attempt %d numbered %d", i, res.AttemptNumber)
		}
		if wantLocked := i == 3; res.Locked != wantLocked {
			t.Fatalf("attempt %d locked=%v", i, res.Locked)
		}
	}

	if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, 0, f.answersFor(t, 0, 30), 1000); err != domain.ErrAttemptLimitExceeded {
		t.Fatalf("expected ErrAttemptLimitExceeded, got %v", err)
	}

	locked, err := f.service.IsLocked(ctx, "alice", f.date, 0)
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatalf("quiz should be locked after the third attempt")
	}
}

func TestCapAndLockPrecedeValidation(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, 0, f.answersFor(t, 0, 10), 30000); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// A 4th submission reports the exhausted cap even when its payload is
	// malformed.
	short := f.answersFor(t, 0, 10)[:5]
	if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, 0, short, 1000); err != domain.ErrAttemptLimitExceeded {
		t.Fatalf("expected ErrAttemptLimitExceeded, got %v", err)
	}

	// Same for a quiz locked by viewing answers.
	if _, err := f.service.SubmitAttempt(ctx, "bob", f.date, 1, f.answersFor(t, 1, 10), 30000); err != nil {
		t.Fatalf("bob attempt: %v", err)
	}
	if _, err := f.service.LockAfterViewing(ctx, "bob", f.date, 1); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := f.service.SubmitAttempt(ctx, "bob", f.date, 1, nil, 0); err != domain.ErrQuizLocked {
		t.Fatalf("expected ErrQuizLocked, got %v", err)
	}
}

func TestSubmitAfterViewingLockRejected(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)

	if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, 2, f.answersFor(t, 2, 10), 30000); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if _, err := f.service.LockAfterViewing(ctx, "alice", f.date, 2); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, 2, f.answersFor(t, 2, 30), 1000); err != domain.ErrQuizLocked {
		t.Fatalf("expected ErrQuizLocked, got %v", err)
	}
}

func TestLockAfterViewingIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)

	if _, err := f.service.SubmitAttempt(ctx, "bob", f.date, 1, f.answersFor(t, 1, 15), 30000); err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if _, err := f.service.LockAfterViewing(ctx, "bob", f.date, 1); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	rec, err := f.ledger.Record(ctx, "bob", domain.DateKey(f.date), 1)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	stamp := rec.Result.LockedAt

	if _, err := f.service.LockAfterViewing(ctx, "bob", f.date, 1); err != nil {
		t.Fatalf("second lock: %v", err)
	}
	rec, err = f.ledger.Record(ctx, "bob", domain.DateKey(f.date), 1)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !rec.Result.LockedAt.Equal(stamp) {
		t.Fatalf("re-locking must not move the lock timestamp")
	}
}

func TestBestResultMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)

	first, err := f.service.SubmitAttempt(ctx, "alice", f.date, 3, f.answersFor(t, 3, 24), 40000)
	if err != nil {
		t.Fatalf("attempt 1: %v", err)
	}
	if !first.IsBest {
		t.Fatalf("attempt 1 must be best")
	}

	// Lower percentage: not best.
	worse, err := f.service.SubmitAttempt(ctx, "alice", f.date, 3, f.answersFor(t, 3, 12), 20000)
	if err != nil {
		t.Fatalf("attempt 2: %v", err)
	}
	if worse.IsBest {
		t.Fatalf("a lower percentage must not replace the best result")
	}

	// Same percentage, faster time: best.
	faster, err := f.service.SubmitAttempt(ctx, "alice", f.date, 3, f.answersFor(t, 3, 24), 35000)
	if err != nil {
		t.Fatalf("attempt 3: %v", err)
	}
	if !faster.IsBest {
		t.Fatalf("an equal percentage with a faster time must replace the best result")
	}

	rec, err := f.ledger.Record(ctx, "alice", domain.DateKey(f.date), 3)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Result.BestPct != 80 || rec.Result.BestTimeMs != 35000 {
		t.Fatalf("unexpected best result %+v", rec.Result)
	}
}

func TestMalformedSubmissions(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)
	good := f.answersFor(t, 0, 30)

	cases := []struct {
		name    string
		answers []domain.Answer
	}{
		{"short", good[:29]},
		{"foreign question", append(append([]domain.Answer(nil), good[:29]...), domain.Answer{QuestionID: "not-in-quiz", ChoiceKey: "A"})},
		{"duplicate question", append(append([]domain.Answer(nil), good[:29]...), good[0])},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, 0, tc.answers, 1000); err != domain.ErrMalformedSubmission {
				t.Fatalf("expected ErrMalformedSubmission, got %v", err)
			}
		})
	}

	if n, err := f.service.AttemptCount(ctx, "alice", f.date, 0); err != nil || n != 0 {
		t.Fatalf("rejected submissions must not consume attempts: n=%d err=%v", n, err)
	}
}

func TestUnansweredNeverScores(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)

	answers := f.answersFor(t, 5, 0)
	for i := range answers {
		answers[i].ChoiceKey = domain.KeyUnanswered
	}
	res, err := f.service.SubmitAttempt(ctx, "alice", f.date, 5, answers, 90000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Score.CorrectCount != 0 || res.Score.Percentage != 0 {
		t.Fatalf("unanswered questions scored: %+v", res.Score)
	}
}

func TestInvalidQuizIndex(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)

	for _, idx := range []int{-1, 11, 99} {
		if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, idx, nil, 0); err != domain.ErrInvalidQuizIndex {
			t.Fatalf("index %d: expected ErrInvalidQuizIndex, got %v", idx, err)
		}
	}
}

func TestBonusUnlockedAfterAllRegulars(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)

	for i := 0; i < domain.BonusQuizIndex; i++ {
		unlocked, err := f.service.BonusUnlocked(ctx, "alice", f.date)
		if err != nil {
			t.Fatalf("BonusUnlocked: %v", err)
		}
		if unlocked {
			t.Fatalf("bonus unlocked after only %d regular quizzes", i)
		}
		if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, i, f.answersFor(t, i, 10), 30000); err != nil {
			t.Fatalf("quiz %d: %v", i, err)
		}
	}

	unlocked, err := f.service.BonusUnlocked(ctx, "alice", f.date)
	if err != nil {
		t.Fatalf("BonusUnlocked: %v", err)
	}
	if !unlocked {
		t.Fatalf("bonus must unlock once every regular quiz is attempted")
	}
	if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, domain.BonusQuizIndex, f.answersFor(t, domain.BonusQuizIndex, 30), 20000); err != nil {
		t.Fatalf("bonus attempt: %v", err)
	}
}

func TestPackOverviewStatuses(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil)
	pack, err := f.packs.GetOrGeneratePack(ctx, f.date)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, 0, f.answersFor(t, 0, 10), 30000); err != nil {
		t.Fatalf("quiz 0 attempt: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, 1, f.answersFor(t, 1, 10), 30000); err != nil {
			t.Fatalf("quiz 1 attempt %d: %v", i, err)
		}
	}

	view, err := f.service.PackOverview(ctx, "alice", f.date, pack)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if got := view.Quizzes[0].Status; got != domain.StatusInProgress {
		t.Fatalf("quiz 0 status %q", got)
	}
	if got := view.Quizzes[1].Status; got != domain.StatusLocked {
		t.Fatalf("quiz 1 status %q, expected locked after 3 attempts", got)
	}
	if got := view.Quizzes[2].Status; got != domain.StatusAvailable {
		t.Fatalf("quiz 2 status %q", got)
	}
	if view.BonusUnlocked {
		t.Fatalf("bonus must stay locked")
	}
	if view.BonusQuiz.Status != domain.StatusLocked {
		t.Fatalf("bonus status %q", view.BonusQuiz.Status)
	}
	if view.Quizzes[0].BestPct == nil || *view.Quizzes[0].BestPct != 33.33 {
		t.Fatalf("quiz 0 best pct %v", view.Quizzes[0].BestPct)
	}
}

type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) ResultChanged(date string, quizIndex int) {
	n.calls = append(n.calls, fmt.Sprintf("%s/%d", date, quizIndex))
}

func TestSubmitAttemptNotifies(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	f := newLedgerFixture(t, notifier)

	if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, 2, f.answersFor(t, 2, 10), 30000); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "2025-01-15/2" {
		t.Fatalf("unexpected notifications %v", notifier.calls)
	}

	// Rejected submissions must not notify.
	if _, err := f.service.SubmitAttempt(ctx, "alice", f.date, 2, nil, 0); err != domain.ErrMalformedSubmission {
		t.Fatalf("expected malformed, got %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("rejected submission triggered a notification")
	}
}
