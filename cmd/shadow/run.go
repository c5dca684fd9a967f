package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chris/shadow/config"
	"github.com/chris/shadow/internal/checkin"
	"github.com/chris/shadow/internal/console"
	"github.com/chris/shadow/internal/db"
	"github.com/chris/shadow/internal/discord"
	"github.com/chris/shadow/internal/llm"
	"github.com/chris/shadow/internal/localtime"
	"github.com/chris/shadow/internal/report"
	"github.com/chris/shadow/internal/scheduler"
	"github.com/chris/shadow/internal/tracker"
	"go.uber.org/zap"
)

// transport is what every component needs from the chat side.
type transport interface {
	checkin.Transport
	report.Transport
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zone, err := localtime.Load(cfg.Timezone)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	priorities, err := config.LoadPriorities(cfg.PrioritiesPath())
	if err != nil {
		return err
	}
	seeded, err := database.SeedPriorities(ctx, priorities.Weights)
	if err != nil {
		return fmt.Errorf("seeding priorities: %w", err)
	}
	if seeded > 0 {
		logger.Info("seeded priorities", zap.Int("count", seeded))
	}

	client, err := newLLMClient(cfg)
	if err != nil {
		return fmt.Errorf("creating LLM client: %w", err)
	}
	rules := priorities.Rules
	if rules == "" {
		rules = llm.DefaultRules
	}
	classifier := llm.NewClassifier(client, database, rules, cfg.ClassifierTimeout, logger.Named("classifier"))

	var (
		out  transport
		bot  *discord.Bot
		term *console.Console
	)
	if cfg.DiscordToken != "" {
		bot, err = discord.NewBot(cfg.DiscordToken, cfg.DiscordWebhook, logger.Named("discord"))
		if err != nil {
			return err
		}
		out = bot
	} else {
		term = console.New(os.Stdin, os.Stdout, filepath.Join(cfg.DataDir, "charts"), logger.Named("console"))
		out = term
	}

	cycles := checkin.New(database, classifier, out, zone,
		checkin.WithTimeout(cfg.CheckInTimeout),
		checkin.WithLogger(logger.Named("checkin")))
	defer cycles.Close()

	composer := report.New(database, report.PieRenderer{}, out, zone, logger.Named("report"))

	sched := scheduler.New(database, cycles, composer, zone, logger.Named("scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	router := tracker.New(cycles, sched, database, composer, out, zone, logger.Named("tracker"))

	logger.Info("tracker running",
		zap.String("timezone", zone.String()),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.Bool("discord", bot != nil))

	if term != nil {
		return term.Run(ctx, router)
	}

	if err := bot.Start(router); err != nil {
		return err
	}
	defer bot.Close()
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	apiKey := cfg.AnthropicKey
	if cfg.LLMProvider == "openai" {
		apiKey = cfg.OpenAIKey
	}
	return llm.NewClient(llm.ProviderConfig{
		Provider:  cfg.LLMProvider,
		APIKey:    apiKey,
		AuthToken: cfg.AnthropicToken,
		Model:     cfg.LLMModel,
		BaseURL:   cfg.LLMBaseURL(),
	})
}
