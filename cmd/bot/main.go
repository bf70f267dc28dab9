package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"report-checker/internal/auth"
	"report-checker/internal/config"
	"report-checker/internal/gateway"
	"report-checker/internal/handler"
	"report-checker/internal/llm"
	"report-checker/internal/logging"
	"report-checker/internal/metrics"
	"report-checker/internal/scheduler"
	"report-checker/internal/session"
	"report-checker/internal/storage"
	"report-checker/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("bot stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	systemPrompt, err := config.LoadSystemPrompt(cfg.SystemPromptPath)
	if err != nil {
		return err
	}
	msgs, err := config.LoadMessages(cfg.MessagesPath)
	if err != nil {
		return err
	}

	llmClient, err := llm.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	logger.WithField("provider", cfg.LLMProvider).Info("llm client ready")

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go m.Serve(ctx, cfg.MetricsAddr, logger)
	}

	gw := gateway.New(llmClient, systemPrompt, cfg.MaxConcurrent,
		gateway.WithObserver(m),
		gateway.WithLogger(logger),
	)

	var rec storage.Recorder
	if cfg.ChecksLogPath != "" {
		fr, err := storage.NewFileRecorder(cfg.ChecksLogPath)
		if err != nil {
			logger.WithError(err).Warn("check audit log disabled")
		} else {
			rec = fr
			defer fr.Close()
		}
	}

	authSvc := auth.New(cfg.AllowedUsers, cfg.AdminUserID)

	bot, err := telegram.New(telegram.Options{
		Token:            cfg.TelegramBotToken,
		Messages:         msgs,
		MaxDownloadBytes: cfg.MaxAttachmentBytes,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	h := handler.New(gw, bot.Notifier(), handler.Options{
		Limits: session.Limits{
			MaxChecks:   cfg.MaxChecks,
			MaxActive:   cfg.MaxActiveSessions,
			IdleTimeout: cfg.IdleTimeout,
		},
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		CheckTimeout:       cfg.CheckTimeout,
		Messages:           msgs,
		Auth:               authSvc,
		Recorder:           rec,
		Metrics:            m,
		Logger:             logger,
	})
	defer h.Registry().CloseAll()

	sched := scheduler.New(logger)
	if err := sched.Add("sweep", cfg.SweepSchedule, scheduler.SweepJob(h.Registry(), logger)); err != nil {
		return err
	}
	if rec != nil && authSvc.AdminID() != 0 {
		notify := func(ctx context.Context, text string) error {
			return bot.Notifier().Notify(ctx, session.ReplyTarget(authSvc.AdminID()), text)
		}
		job := scheduler.DailyReportJob(rec, notify, msgs.DailySummary, nil)
		if err := sched.Add("daily_report", cfg.DailyReportSchedule, job); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	logger.WithFields(logrus.Fields{
		"max_checks":     cfg.MaxChecks,
		"max_active":     cfg.MaxActiveSessions,
		"idle_timeout":   cfg.IdleTimeout.String(),
		"max_concurrent": cfg.MaxConcurrent,
		"scheduled_jobs": sched.IsRunning(),
	}).Info("bot started")
	bot.Run(ctx, h)
	logger.Info("shutting down")
	return nil
}
