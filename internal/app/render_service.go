package app

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"

	"daily-quiz-service/internal/domain"
)

// RenderService turns a pack slot's pre-bound question ids into per-attempt
// question views: language-resolved text and an option order derived from
// (question id, attempt number), so the same attempt always sees the same
// order while different attempts are shuffled independently.
type RenderService struct {
	bank        QuestionBank
	defaultLang string
}

func NewRenderService(bank QuestionBank, defaultLang string) *RenderService {
	if defaultLang == "" {
		defaultLang = "en"
	}
	return &RenderService{bank: bank, defaultLang: defaultLang}
}

// RenderQuiz resolves quiz quizIndex of pack for one attempt. Views keep slot
// order and, within each topic slot, the bound order of its 3 questions.
// Correct keys are stripped; use RenderAnswers for review mode.
func (s *RenderService) RenderQuiz(ctx context.Context, pack domain.DailyPack, quizIndex, attemptNumber int, lang string) ([]domain.QuestionView, error) {
	return s.render(ctx, pack, quizIndex, attemptNumber, lang, false)
}

// RenderAnswers is the review-mode rendering: correct keys are included and
// option order matches the first attempt.
func (s *RenderService) RenderAnswers(ctx context.Context, pack domain.DailyPack, quizIndex int, lang string) ([]domain.QuestionView, error) {
	return s.render(ctx, pack, quizIndex, 1, lang, true)
}

func (s *RenderService) render(ctx context.Context, pack domain.DailyPack, quizIndex, attemptNumber int, lang string, reveal bool) ([]domain.QuestionView, error) {
	if quizIndex < 0 || quizIndex >= len(pack.Quizzes) {
		return nil, domain.ErrInvalidQuizIndex
	}
	slot := pack.Quizzes[quizIndex]

	ids := slot.Questions()
	questions, err := s.bank.QuestionsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	views := make([]domain.QuestionView, 0, len(ids))
	for _, id := range ids {
		q, ok := questions[id]
		if !ok {
			return nil, fmt.Errorf("question %s: %w", id, domain.ErrQuestionNotFound)
		}
		views = append(views, s.renderQuestion(q, attemptNumber, lang, reveal))
	}
	return views, nil
}

func (s *RenderService) renderQuestion(q domain.Question, attemptNumber int, lang string, reveal bool) domain.QuestionView {
	options := make([]domain.OptionView, len(q.Options))
	for i, opt := range q.Options {
		options[i] = domain.OptionView{
			Key:   opt.Key,
			Label: opt.Label.Resolve(lang, s.defaultLang),
		}
	}

	rng := rand.New(rand.NewSource(optionSeed(q.ID, attemptNumber)))
	rng.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })

	view := domain.QuestionView{
		ID:       q.ID,
		TopicID:  q.TopicID,
		Text:     q.Text.Resolve(lang, s.defaultLang),
		Options:  options,
		ImageURL: q.ImageURL,
	}
	if reveal {
		view.CorrectKey = q.CorrectKey
	}
	return view
}

// optionSeed hashes the question id and attempt number into the permutation
// seed. FNV keeps it stable across processes.
func optionSeed(questionID string, attemptNumber int) int64 {
	h := fnv.New64a()
	h.Write([]byte(questionID))
	h.Write([]byte(":"))
	h.Write([]byte(strconv.Itoa(attemptNumber)))
	return int64(h.Sum64())
}
