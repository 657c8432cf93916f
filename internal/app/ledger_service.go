package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"daily-quiz-service/internal/domain"
)

// ResultNotifier is told whenever a (date, quiz) tuple gains a new result,
// e.g. to push fresh leaderboards to websocket subscribers. May be nil.
type ResultNotifier interface {
	ResultChanged(date string, quizIndex int)
}

// LedgerService records attempts, scores them, maintains best results and
// enforces the 3-attempt cap and quiz locking.
type LedgerService struct {
	ledger   LedgerStore
	bank     QuestionBank
	packs    *PackService
	notifier ResultNotifier
	clock    func() time.Time
}

func NewLedgerService(ledger LedgerStore, bank QuestionBank, packs *PackService, notifier ResultNotifier) *LedgerService {
	return &LedgerService{
		ledger:   ledger,
		bank:     bank,
		packs:    packs,
		notifier: notifier,
		clock:    time.Now,
	}
}

// AttemptCount returns how many attempts the user has recorded for the quiz.
func (s *LedgerService) AttemptCount(ctx context.Context, userID string, date time.Time, quizIndex int) (int, error) {
	rec, err := s.ledger.Record(ctx, userID, domain.DateKey(date), quizIndex)
	if err != nil {
		return 0, fmt.Errorf("load ledger record: %w", err)
	}
	return len(rec.Attempts), nil
}

// IsLocked reports whether the quiz is locked for the user today.
func (s *LedgerService) IsLocked(ctx context.Context, userID string, date time.Time, quizIndex int) (bool, error) {
	rec, err := s.ledger.Record(ctx, userID, domain.DateKey(date), quizIndex)
	if err != nil {
		return false, fmt.Errorf("load ledger record: %w", err)
	}
	return rec.Result != nil && rec.Result.Locked, nil
}

// LastAttempt returns the user's most recent attempt for the quiz, or nil.
func (s *LedgerService) LastAttempt(ctx context.Context, userID string, date time.Time, quizIndex int) (*domain.Attempt, error) {
	rec, err := s.ledger.Record(ctx, userID, domain.DateKey(date), quizIndex)
	if err != nil {
		return nil, fmt.Errorf("load ledger record: %w", err)
	}
	if len(rec.Attempts) == 0 {
		return nil, nil
	}
	last := rec.Attempts[len(rec.Attempts)-1]
	return &last, nil
}

// BonusUnlocked reports whether the user has attempted every regular quiz at
// least once, which unlocks the bonus quiz.
func (s *LedgerService) BonusUnlocked(ctx context.Context, userID string, date time.Time) (bool, error) {
	for i := 0; i < domain.BonusQuizIndex; i++ {
		n, err := s.AttemptCount(ctx, userID, date, i)
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// SubmitAttempt scores answers against the pack's bound questions, records an
// immutable attempt with the next sequential number, and updates the best
// result when (percentage desc, time asc) improves. The 3rd attempt locks the
// quiz automatically.
func (s *LedgerService) SubmitAttempt(ctx context.Context, userID string, date time.Time, quizIndex int, answers []domain.Answer, timeMs int64) (domain.AttemptResult, error) {
	if quizIndex < 0 || quizIndex >= domain.QuizzesPerPack {
		return domain.AttemptResult{}, domain.ErrInvalidQuizIndex
	}

	pack, err := s.packs.GetOrGeneratePack(ctx, date)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	slot := pack.Quizzes[quizIndex]

	dateKey := domain.DateKey(date)
	now := s.clock().UTC()
	var out domain.AttemptResult

	err = s.ledger.Update(ctx, userID, dateKey, quizIndex, func(rec *LedgerRecord) error {
		// Cap and lock take precedence over submission validation, so an
		// exhausted or locked quiz reports that state even for a malformed
		// payload.
		if len(rec.Attempts) >= domain.MaxAttemptsPerQuiz {
			return domain.ErrAttemptLimitExceeded
		}
		if rec.Result != nil && rec.Result.Locked {
			return domain.ErrQuizLocked
		}

		score, err := s.score(ctx, slot, answers)
		if err != nil {
			return err
		}

		attempt := domain.Attempt{
			ID:           uuid.NewString(),
			UserID:       userID,
			Date:         dateKey,
			QuizIndex:    quizIndex,
			AttemptNum:   len(rec.Attempts) + 1,
			Answers:      answers,
			CorrectCount: score.CorrectCount,
			Percentage:   score.Percentage,
			TimeMs:       timeMs,
			FinishedAt:   now,
		}
		rec.Attempts = append(rec.Attempts, attempt)

		isBest := false
		if rec.Result == nil {
			rec.Result = &domain.Result{
				UserID:     userID,
				Date:       dateKey,
				QuizIndex:  quizIndex,
				BestPct:    score.Percentage,
				BestTimeMs: timeMs,
				UpdatedAt:  now,
			}
			isBest = true
		} else if score.Percentage > rec.Result.BestPct ||
			(score.Percentage == rec.Result.BestPct && timeMs < rec.Result.BestTimeMs) {
			rec.Result.BestPct = score.Percentage
			rec.Result.BestTimeMs = timeMs
			rec.Result.UpdatedAt = now
			isBest = true
		}

		if attempt.AttemptNum == domain.MaxAttemptsPerQuiz && !rec.Result.Locked {
			rec.Result.Locked = true
			rec.Result.LockedAt = now
		}

		out = domain.AttemptResult{
			AttemptID:         attempt.ID,
			AttemptNumber:     attempt.AttemptNum,
			Score:             score,
			IsBest:            isBest,
			AttemptsRemaining: domain.MaxAttemptsPerQuiz - attempt.AttemptNum,
			Locked:            rec.Result.Locked,
		}
		return nil
	})
	if err != nil {
		return domain.AttemptResult{}, err
	}

	if s.notifier != nil {
		s.notifier.ResultChanged(dateKey, quizIndex)
	}
	return out, nil
}

// LockAfterViewing marks the quiz locked once the user has viewed answers.
// Idempotent: re-locking succeeds without re-stamping the timestamp. No score
// penalty is applied.
func (s *LedgerService) LockAfterViewing(ctx context.Context, userID string, date time.Time, quizIndex int) (bool, error) {
	if quizIndex < 0 || quizIndex >= domain.QuizzesPerPack {
		return false, domain.ErrInvalidQuizIndex
	}
	dateKey := domain.DateKey(date)
	now := s.clock().UTC()

	err := s.ledger.Update(ctx, userID, dateKey, quizIndex, func(rec *LedgerRecord) error {
		if rec.Result == nil {
			rec.Result = &domain.Result{
				UserID:    userID,
				Date:      dateKey,
				QuizIndex: quizIndex,
				UpdatedAt: now,
			}
		}
		if !rec.Result.Locked {
			rec.Result.Locked = true
			rec.Result.LockedAt = now
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lock quiz: %w", err)
	}
	return true, nil
}

// PackOverview builds the today-pack progress view for one user.
func (s *LedgerService) PackOverview(ctx context.Context, userID string, date time.Time, pack domain.DailyPack) (domain.PackView, error) {
	view := domain.PackView{Date: pack.Date}

	allAttempted := true
	for i := 0; i < domain.BonusQuizIndex; i++ {
		st, err := s.quizStatus(ctx, userID, pack.Date, pack.Quizzes[i])
		if err != nil {
			return domain.PackView{}, err
		}
		if st.AttemptCount == 0 {
			allAttempted = false
		}
		view.Quizzes = append(view.Quizzes, st)
	}

	bonus, err := s.quizStatus(ctx, userID, pack.Date, pack.Quizzes[domain.BonusQuizIndex])
	if err != nil {
		return domain.PackView{}, err
	}
	if !allAttempted && bonus.Status == domain.StatusAvailable {
		bonus.Status = domain.StatusLocked
	}
	view.BonusQuiz = bonus
	view.BonusUnlocked = allAttempted
	return view, nil
}

func (s *LedgerService) quizStatus(ctx context.Context, userID, dateKey string, slot domain.QuizSlot) (domain.QuizStatus, error) {
	rec, err := s.ledger.Record(ctx, userID, dateKey, slot.Index)
	if err != nil {
		return domain.QuizStatus{}, fmt.Errorf("load ledger record: %w", err)
	}

	st := domain.QuizStatus{
		Index:        slot.Index,
		TopicIDs:     slot.TopicIDs,
		AttemptCount: len(rec.Attempts),
	}
	if rec.Result != nil {
		st.Locked = rec.Result.Locked
		pct, ms := rec.Result.BestPct, rec.Result.BestTimeMs
		if len(rec.Attempts) > 0 {
			st.BestPct, st.BestTimeMs = &pct, &ms
		}
	}
	switch {
	case st.Locked:
		st.Status = domain.StatusLocked
	case st.AttemptCount >= domain.MaxAttemptsPerQuiz:
		st.Status = domain.StatusCompleted
	case st.AttemptCount > 0:
		st.Status = domain.StatusInProgress
	default:
		st.Status = domain.StatusAvailable
	}
	return st, nil
}

// score validates answers against the slot's bound question set and counts
// correct choices. The UNANSWERED sentinel never scores.
func (s *LedgerService) score(ctx context.Context, slot domain.QuizSlot, answers []domain.Answer) (domain.ScoreSummary, error) {
	expected := slot.Questions()
	if len(answers) != len(expected) {
		return domain.ScoreSummary{}, domain.ErrMalformedSubmission
	}
	inSlot := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		inSlot[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(answers))
	for _, ans := range answers {
		if _, ok := inSlot[ans.QuestionID]; !ok {
			return domain.ScoreSummary{}, domain.ErrMalformedSubmission
		}
		if _, dup := seen[ans.QuestionID]; dup {
			return domain.ScoreSummary{}, domain.ErrMalformedSubmission
		}
		seen[ans.QuestionID] = struct{}{}
	}

	questions, err := s.bank.QuestionsByID(ctx, expected)
	if err != nil {
		return domain.ScoreSummary{}, fmt.Errorf("load questions: %w", err)
	}

	correct := 0
	for _, ans := range answers {
		q, ok := questions[ans.QuestionID]
		if !ok {
			return domain.ScoreSummary{}, fmt.Errorf("question %s: %w", ans.QuestionID, domain.ErrQuestionNotFound)
		}
		if ans.ChoiceKey != domain.KeyUnanswered && ans.ChoiceKey == q.CorrectKey {
			correct++
		}
	}

	total := len(answers)
	pct := 0.0
	if total > 0 {
		pct = roundPct(float64(correct) / float64(total) * 100)
	}
	return domain.ScoreSummary{CorrectCount: correct, Total: total, Percentage: pct}, nil
}

// roundPct keeps percentages stable across backends that round floats
// differently in transit.
func roundPct(p float64) float64 {
	return math.Round(p*100) / 100
}
