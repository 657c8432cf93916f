package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"daily-quiz-service/internal/domain"
)

// PackService generates and serves daily packs. Generation is deterministic
// in its topic shuffle (seeded by the calendar date) and consumes the global
// usage tracker so questions do not repeat across days until the bank is
// exhausted.
type PackService struct {
	bank   QuestionBank
	packs  PackStore
	usage  UsageStore
	logger *zap.Logger
	clock  func() time.Time
}

func NewPackService(bank QuestionBank, packs PackStore, usage UsageStore, logger *zap.Logger) *PackService {
	return &PackService{
		bank:   bank,
		packs:  packs,
		usage:  usage,
		logger: logger,
		clock:  time.Now,
	}
}

// GetOrGeneratePack returns the persisted pack for date, generating and
// persisting one if absent. Concurrent first requests converge on a single
// pack: the insert is first-writer-wins and the loser discards its work,
// including its pending usage additions.
func (s *PackService) GetOrGeneratePack(ctx context.Context, date time.Time) (domain.DailyPack, error) {
	key := domain.DateKey(date)

	pack, err := s.packs.Pack(ctx, key)
	if err == nil {
		return pack, nil
	}
	if err != domain.ErrPackNotFound {
		return domain.DailyPack{}, fmt.Errorf("load pack: %w", err)
	}

	gen, err := s.generate(ctx, date)
	if err != nil {
		return domain.DailyPack{}, err
	}

	winner, inserted, err := s.packs.Insert(ctx, gen.pack)
	if err != nil {
		return domain.DailyPack{}, fmt.Errorf("persist pack: %w", err)
	}
	if !inserted {
		// Another generation finished first; its usage commit is authoritative.
		return winner, nil
	}

	s.commitUsage(ctx, gen)
	return winner, nil
}

// ResetPack deletes the persisted pack for a date so the next request
// regenerates it. Administrative operation.
func (s *PackService) ResetPack(ctx context.Context, date time.Time) error {
	return s.packs.Delete(ctx, domain.DateKey(date))
}

// ResetUsage clears the usage tracker regardless of its content.
// Administrative operation.
func (s *PackService) ResetUsage(ctx context.Context) error {
	for range [2]struct{}{} {
		usage, err := s.usage.Usage(ctx)
		if err != nil {
			return fmt.Errorf("load usage: %w", err)
		}
		ok, err := s.usage.Reset(ctx, usage.Version)
		if err != nil {
			return fmt.Errorf("reset usage: %w", err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("reset usage: version conflict")
}

// generation carries the seeded generator, the shuffled topic pool, the
// per-pack topic counters and the pending newly-used question set through one
// pack build.
type generation struct {
	rng      *rand.Rand
	topics   []domain.Topic
	order    map[string]int // position in the shuffle, breaks counter ties
	counters map[string]int // per-pack topic usage
	usage    domain.Usage   // snapshot taken at the start of the run
	pending  map[string]struct{}
	pack     domain.DailyPack
}

func (s *PackService) generate(ctx context.Context, date time.Time) (*generation, error) {
	topics, err := s.bank.ActiveTopics(ctx, domain.QuestionsPerTopic)
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}
	if len(topics) < domain.TopicsPerQuiz {
		return nil, domain.ErrInsufficientTopics
	}

	usage, err := s.ensureSupply(ctx)
	if err != nil {
		return nil, err
	}

	g := &generation{
		rng:      rand.New(rand.NewSource(dateSeed(date))),
		topics:   append([]domain.Topic(nil), topics...),
		order:    make(map[string]int, len(topics)),
		counters: make(map[string]int, len(topics)),
		usage:    usage,
		pending:  make(map[string]struct{}, domain.QuestionsPerPack),
	}
	g.rng.Shuffle(len(g.topics), func(i, j int) {
		g.topics[i], g.topics[j] = g.topics[j], g.topics[i]
	})
	for i, t := range g.topics {
		g.order[t.ID] = i
	}

	quizzes := make([]domain.QuizSlot, 0, domain.QuizzesPerPack)
	for quizIdx := 0; quizIdx < domain.QuizzesPerPack; quizIdx++ {
		slot, err := s.buildQuiz(ctx, g, quizIdx)
		if err != nil {
			return nil, err
		}
		quizzes = append(quizzes, slot)
	}

	g.pack = domain.DailyPack{
		Date:        domain.DateKey(date),
		Quizzes:     quizzes,
		GeneratedAt: s.clock().UTC(),
	}
	return g, nil
}

// ensureSupply returns a usage snapshot, clearing the tracker first when the
// unused active pool cannot cover a full pack. The reset is a CAS; on a
// conflict the fresh state is re-read rather than retried.
func (s *PackService) ensureSupply(ctx context.Context) (domain.Usage, error) {
	usage, err := s.usage.Usage(ctx)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("load usage: %w", err)
	}

	ids, err := s.bank.ActiveQuestionIDs(ctx)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("count questions: %w", err)
	}
	unused := 0
	for _, id := range ids {
		if !usage.Used(id) {
			unused++
		}
	}
	if unused >= domain.QuestionsPerPack {
		return usage, nil
	}

	s.logger.Info("question pool exhausted, resetting usage tracker",
		zap.Int("unused", unused),
		zap.Int("needed", domain.QuestionsPerPack))
	if _, err := s.usage.Reset(ctx, usage.Version); err != nil {
		return domain.Usage{}, fmt.Errorf("reset usage: %w", err)
	}
	usage, err = s.usage.Usage(ctx)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("reload usage: %w", err)
	}
	return usage, nil
}

func (s *PackService) buildQuiz(ctx context.Context, g *generation, quizIdx int) (domain.QuizSlot, error) {
	slot := domain.QuizSlot{
		Index:       quizIdx,
		TopicIDs:    make([]string, 0, domain.TopicsPerQuiz),
		QuestionIDs: make([][]string, 0, domain.TopicsPerQuiz),
	}
	inQuiz := make(map[string]struct{}, domain.TopicsPerQuiz)

	for topicSlot := 0; topicSlot < domain.TopicsPerQuiz; topicSlot++ {
		var topic domain.Topic
		var questions []string

		// The picture round is pinned to quiz 4's opening slot when a
		// designated topic still has unused questions to give.
		if quizIdx == 4 && topicSlot == 0 {
			if t, qs, ok := s.pickImageTopic(ctx, g, inQuiz); ok {
				topic, questions = t, qs
			}
		}

		if questions == nil {
			t, qs, err := s.pickTopic(ctx, g, inQuiz)
			if err != nil {
				return domain.QuizSlot{}, err
			}
			topic, questions = t, qs
		}

		inQuiz[topic.ID] = struct{}{}
		g.counters[topic.ID]++
		slot.TopicIDs = append(slot.TopicIDs, topic.ID)
		slot.QuestionIDs = append(slot.QuestionIDs, questions)
	}
	return slot, nil
}

// pickTopic selects the least-used eligible topic (ties broken by shuffle
// order), skipping topics already in this quiz or without 3 selectable
// questions. An exhausted candidate pool is reshuffled in place with the same
// generator advanced forward.
func (s *PackService) pickTopic(ctx context.Context, g *generation, inQuiz map[string]struct{}) (domain.Topic, []string, error) {
	skipped := make(map[string]struct{})
	reshuffled := false
	for {
		best := -1
		for i, t := range g.topics {
			if _, ok := inQuiz[t.ID]; ok {
				continue
			}
			if _, ok := skipped[t.ID]; ok {
				continue
			}
			if best == -1 || g.counters[t.ID] < g.counters[g.topics[best].ID] {
				best = i
			}
		}
		if best == -1 {
			if len(skipped) > 0 || reshuffled {
				// Every remaining topic is taken or failed question selection.
				return domain.Topic{}, nil, domain.ErrInsufficientTopics
			}
			reshuffled = true
			g.rng.Shuffle(len(g.topics), func(i, j int) {
				g.topics[i], g.topics[j] = g.topics[j], g.topics[i]
			})
			for i, t := range g.topics {
				g.order[t.ID] = i
			}
			continue
		}

		topic := g.topics[best]
		questions, err := s.selectQuestions(ctx, g, topic.ID)
		if err != nil {
			return domain.Topic{}, nil, err
		}
		if questions == nil {
			skipped[topic.ID] = struct{}{}
			continue
		}
		return topic, questions, nil
	}
}

// pickImageTopic returns the designated image topic when one exists outside
// this quiz and still has 3 unused questions.
func (s *PackService) pickImageTopic(ctx context.Context, g *generation, inQuiz map[string]struct{}) (domain.Topic, []string, bool) {
	for _, t := range g.topics {
		if !t.ImageTopic {
			continue
		}
		if _, ok := inQuiz[t.ID]; ok {
			continue
		}
		all, err := s.bank.ActiveQuestions(ctx, t.ID)
		if err != nil {
			return domain.Topic{}, nil, false
		}
		unused := 0
		for _, q := range all {
			if !g.usage.Used(q.ID) {
				if _, pending := g.pending[q.ID]; !pending {
					unused++
				}
			}
		}
		if unused < domain.QuestionsPerTopic {
			return domain.Topic{}, nil, false
		}
		questions, err := s.selectQuestions(ctx, g, t.ID)
		if err != nil || questions == nil {
			return domain.Topic{}, nil, false
		}
		return t, questions, true
	}
	return domain.Topic{}, nil, false
}

// selectQuestions implements the unused-first policy: partition the topic's
// active questions by the usage snapshot plus this run's pending picks,
// shuffle each partition, and take 3 preferring unused. Returns nil (no
// error) when the topic has fewer than 3 questions in total.
func (s *PackService) selectQuestions(ctx context.Context, g *generation, topicID string) ([]string, error) {
	all, err := s.bank.ActiveQuestions(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("load questions for topic %s: %w", topicID, err)
	}
	if len(all) < domain.QuestionsPerTopic {
		return nil, nil
	}

	var unused, used []string
	for _, q := range all {
		_, pending := g.pending[q.ID]
		if g.usage.Used(q.ID) || pending {
			used = append(used, q.ID)
		} else {
			unused = append(unused, q.ID)
		}
	}
	g.rng.Shuffle(len(unused), func(i, j int) { unused[i], unused[j] = unused[j], unused[i] })
	g.rng.Shuffle(len(used), func(i, j int) { used[i], used[j] = used[j], used[i] })

	picked := append(unused, used...)[:domain.QuestionsPerTopic]
	for _, id := range picked {
		g.pending[id] = struct{}{}
	}
	return picked, nil
}

// commitUsage merges the winning generation's pending picks into the tracker.
// The CAS is retried once against a fresh version; a final failure is logged
// as a policy-tracking anomaly rather than failing the already-persisted pack.
func (s *PackService) commitUsage(ctx context.Context, g *generation) {
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}

	version := g.usage.Version
	for range [2]struct{}{} {
		ok, err := s.usage.Add(ctx, version, ids)
		if err != nil {
			s.logger.Warn("usage tracker update failed after pack insert",
				zap.String("date", g.pack.Date), zap.Error(err))
			return
		}
		if ok {
			return
		}
		fresh, err := s.usage.Usage(ctx)
		if err != nil {
			s.logger.Warn("usage tracker reload failed after version conflict",
				zap.String("date", g.pack.Date), zap.Error(err))
			return
		}
		version = fresh.Version
	}
	s.logger.Warn("usage tracker commit abandoned after repeated version conflicts",
		zap.String("date", g.pack.Date), zap.Int("questions", len(ids)))
}

// dateSeed encodes the calendar date as yyyymmdd so repeated generation for
// the same date shuffles topics identically.
func dateSeed(date time.Time) int64 {
	return int64(date.Year()*10000 + int(date.Month())*100 + date.Day())
}
