package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/config"
	"daily-quiz-service/internal/domain"
	"daily-quiz-service/internal/infra/memory"
	pgstore "daily-quiz-service/internal/infra/postgres"
	redisstore "daily-quiz-service/internal/infra/redis"
	transport "daily-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daily quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	bankTTL := config.TTLDuration(cfg.Quiz.BankTTL, 10*time.Minute)

	var loader app.QuestionBank
	if pool != nil {
		loader = pgstore.NewBankLoader(pool)
	} else {
		topics, questions := demoBank()
		loader = memory.NewStaticBank(topics, questions)
		logger.Warn("postgres not configured, serving generated demo bank")
	}

	var bank app.QuestionBank
	if redisClient != nil {
		bank = redisstore.NewBankCache(redisClient, loader, bankTTL)
	} else {
		bank = memory.NewBankCache(loader, bankTTL)
	}

	var (
		packStore   app.PackStore
		usageStore  app.UsageStore
		ledgerStore app.LedgerStore
	)
	if redisClient != nil {
		packStore = redisstore.NewPackStore(redisClient)
		usageStore = redisstore.NewUsageStore(redisClient)
		ledgerStore = redisstore.NewLedgerStore(redisClient)
	} else {
		packStore = memory.NewPackStore()
		usageStore = memory.NewUsageStore()
		ledgerStore = memory.NewLedgerStore()
	}

	packs := app.NewPackService(bank, packStore, usageStore, logger)
	boards := app.NewLeaderboardService(ledgerStore)
	ledger := app.NewLedgerService(ledgerStore, bank, packs, boards)
	render := app.NewRenderService(bank, cfg.Quiz.DefaultLanguage)

	handler := transport.NewHandler(packs, render, ledger, boards, logger)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting daily quiz service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// demoBank builds a small generated bank so the engine runs without Postgres;
// swap in the migrated bank for real deployments. 12 topics of 30 questions
// covers one full pack with room to spare.
func demoBank() ([]domain.Topic, []domain.Question) {
	keys := []string{"A", "B", "C", "D"}

	var topics []domain.Topic
	var questions []domain.Question
	for t := 1; t <= 12; t++ {
		topicID := fmt.Sprintf("demo-topic-%02d", t)
		topics = append(topics, domain.Topic{
			ID:         topicID,
			Name:       domain.LocalizedText{"en": fmt.Sprintf("Demo Topic %d", t)},
			Active:     true,
			ImageTopic: t == 1,
		})
		for q := 1; q <= 30; q++ {
			question := domain.Question{
				ID:         fmt.Sprintf("%s-q%02d", topicID, q),
				TopicID:    topicID,
				Text:       domain.LocalizedText{"en": fmt.Sprintf("Demo question %d for topic %d?", q, t)},
				CorrectKey: keys[q%len(keys)],
				Active:     true,
			}
			for _, key := range keys {
				label := fmt.Sprintf("Option %s", key)
				if key == question.CorrectKey {
					label = fmt.Sprintf("Option %s (correct)", key)
				}
				question.Options = append(question.Options, domain.Option{
					Key:   key,
					Label: domain.LocalizedText{"en": label},
				})
			}
			questions = append(questions, question)
		}
	}
	return topics, questions
}
