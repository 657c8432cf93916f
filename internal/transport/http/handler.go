package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/domain"
)

// Handler exposes the engine over a thin JSON API plus a websocket
// leaderboard stream. Authentication happens upstream; the user id arrives as
// a request field.
type Handler struct {
	packs    *app.PackService
	render   *app.RenderService
	ledger   *app.LedgerService
	boards   *app.LeaderboardService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(packs *app.PackService, render *app.RenderService, ledger *app.LedgerService, boards *app.LeaderboardService, logger *zap.Logger) *Handler {
	return &Handler{
		packs:  packs,
		render: render,
		ledger: ledger,
		boards: boards,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes wires all endpoints into a mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/packs/today", h.todayPack)
	mux.HandleFunc("GET /api/quizzes/{index}", h.getQuiz)
	mux.HandleFunc("POST /api/quizzes/{index}/submit", h.submitQuiz)
	mux.HandleFunc("GET /api/quizzes/{index}/answers", h.quizAnswers)
	mux.HandleFunc("POST /api/quizzes/{index}/lock", h.lockQuiz)
	mux.HandleFunc("GET /api/quizzes/{index}/leaderboard", h.quizLeaderboard)
	mux.HandleFunc("GET /api/leaderboard/daily", h.dailyLeaderboard)
	mux.HandleFunc("POST /api/admin/packs/reset", h.resetPack)
	mux.HandleFunc("POST /api/admin/usage/reset", h.resetUsage)
	mux.HandleFunc("GET /ws/leaderboard", h.leaderboardStream)
	return mux
}

func (h *Handler) todayPack(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	date := h.requestDate(r)

	pack, err := h.packs.GetOrGeneratePack(r.Context(), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.ledger.PackOverview(r.Context(), userID, date, pack)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getQuiz(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	quizIndex, err := quizIndexFromPath(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	date := h.requestDate(r)
	lang := r.URL.Query().Get("lang")

	locked, err := h.ledger.IsLocked(r.Context(), userID, date, quizIndex)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if locked {
		h.writeError(w, domain.ErrQuizLocked)
		return
	}
	count, err := h.ledger.AttemptCount(r.Context(), userID, date, quizIndex)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if count >= domain.MaxAttemptsPerQuiz {
		h.writeError(w, domain.ErrAttemptLimitExceeded)
		return
	}
	if quizIndex == domain.BonusQuizIndex {
		unlocked, err := h.ledger.BonusUnlocked(r.Context(), userID, date)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if !unlocked {
			h.writeError(w, domain.ErrBonusLocked)
			return
		}
	}

	pack, err := h.packs.GetOrGeneratePack(r.Context(), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	attemptNumber := count + 1
	questions, err := h.render.RenderQuiz(r.Context(), pack, quizIndex, attemptNumber, lang)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"quizIndex":         quizIndex,
		"topicIds":          pack.Quizzes[quizIndex].TopicIDs,
		"questions":         questions,
		"attemptNumber":     attemptNumber,
		"attemptsRemaining": domain.MaxAttemptsPerQuiz - attemptNumber,
	})
}

type submitRequest struct {
	UserID  string          `json:"userId"`
	Answers []domain.Answer `json:"answers"`
	TimeMs  int64           `json:"timeMs"`
}

func (h *Handler) submitQuiz(w http.ResponseWriter, r *http.Request) {
	quizIndex, err := quizIndexFromPath(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "invalid submission payload", http.StatusBadRequest)
		return
	}
	date := h.requestDate(r)

	result, err := h.ledger.SubmitAttempt(r.Context(), req.UserID, date, quizIndex, req.Answers, req.TimeMs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) quizAnswers(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	quizIndex, err := quizIndexFromPath(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	date := h.requestDate(r)
	lang := r.URL.Query().Get("lang")

	count, err := h.ledger.AttemptCount(r.Context(), userID, date, quizIndex)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if count < domain.MaxAttemptsPerQuiz {
		http.Error(w, "complete 3 attempts to view answers", http.StatusForbidden)
		return
	}

	pack, err := h.packs.GetOrGeneratePack(r.Context(), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	questions, err := h.render.RenderAnswers(r.Context(), pack, quizIndex, lang)
	if err != nil {
		h.writeError(w, err)
		return
	}

	last, err := h.ledger.LastAttempt(r.Context(), userID, date, quizIndex)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if last != nil {
		choices := make(map[string]string, len(last.Answers))
		for _, ans := range last.Answers {
			choices[ans.QuestionID] = ans.ChoiceKey
		}
		for i := range questions {
			if choice, ok := choices[questions[i].ID]; ok && choice != domain.KeyUnanswered {
				questions[i].UserChoice = choice
				questions[i].UserCorrect = choice == questions[i].CorrectKey
			}
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

type lockRequest struct {
	UserID string `json:"userId"`
}

func (h *Handler) lockQuiz(w http.ResponseWriter, r *http.Request) {
	quizIndex, err := quizIndexFromPath(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "invalid lock payload", http.StatusBadRequest)
		return
	}
	date := h.requestDate(r)

	locked, err := h.ledger.LockAfterViewing(r.Context(), req.UserID, date, quizIndex)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"locked": locked})
}

func (h *Handler) quizLeaderboard(w http.ResponseWriter, r *http.Request) {
	quizIndex, err := quizIndexFromPath(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	date := h.requestDate(r)

	entries, err := h.boards.QuizLeaderboard(r.Context(), date, quizIndex, userFilter(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":        domain.DateKey(date),
		"quizIndex":   quizIndex,
		"leaderboard": entries,
	})
}

func (h *Handler) dailyLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := h.requestDate(r)

	entries, err := h.boards.DailyOverallLeaderboard(r.Context(), date, userFilter(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":        domain.DateKey(date),
		"leaderboard": entries,
	})
}

func (h *Handler) resetPack(w http.ResponseWriter, r *http.Request) {
	date := h.requestDate(r)
	if err := h.packs.ResetPack(r.Context(), date); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

func (h *Handler) resetUsage(w http.ResponseWriter, r *http.Request) {
	if err := h.packs.ResetUsage(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

// leaderboardStream pushes live leaderboard snapshots for one quiz over a
// websocket until the client disconnects.
func (h *Handler) leaderboardStream(w http.ResponseWriter, r *http.Request) {
	quizIndex, err := strconv.Atoi(r.URL.Query().Get("quiz"))
	if err != nil {
		http.Error(w, "missing or invalid quiz", http.StatusBadRequest)
		return
	}
	date := h.requestDate(r)

	updates, cancel, err := h.boards.Subscribe(r.Context(), date, quizIndex)
	if err != nil {
		h.writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Drain reads so close frames and pings are processed.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(update); err != nil {
				h.logger.Warn("ws write failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

// requestDate reads the optional date query parameter, defaulting to today.
func (h *Handler) requestDate(r *http.Request) time.Time {
	if raw := r.URL.Query().Get("date"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t
		}
	}
	return time.Now()
}

func quizIndexFromPath(r *http.Request) (int, error) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx < 0 || idx >= domain.QuizzesPerPack {
		return 0, domain.ErrInvalidQuizIndex
	}
	return idx, nil
}

// userFilter parses the optional comma-separated users parameter (group
// membership resolved upstream).
func userFilter(r *http.Request) []string {
	raw := r.URL.Query().Get("users")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response failed", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuizIndex),
		errors.Is(err, domain.ErrMalformedSubmission):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrAttemptLimitExceeded),
		errors.Is(err, domain.ErrQuizLocked),
		errors.Is(err, domain.ErrBonusLocked):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrPackNotFound),
		errors.Is(err, domain.ErrTopicNotFound),
		errors.Is(err, domain.ErrQuestionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInsufficientTopics):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
