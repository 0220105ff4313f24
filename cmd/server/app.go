package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tasksync/pkg/batch"
	"tasksync/pkg/config"
	"tasksync/pkg/logging"
	"tasksync/pkg/notify"
	"tasksync/pkg/providers/googletasks"
	"tasksync/pkg/providers/notion"
	"tasksync/pkg/report"
	"tasksync/pkg/state"
	tsync "tasksync/pkg/sync"
	"tasksync/pkg/task"
)

// app holds the process-wide dependencies shared by every command
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	store     *state.DBStore
	mailer    *notify.Mailer
	auth      *googletasks.AuthHandler
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	logger.Info("opening user store", "driver", cfg.DBDriver)
	store, err := state.NewDBStore(cfg.DBDriver, cfg.DBConnectionString, logger)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to initialize user store: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		logCloser: closer,
		store:     store,
		auth: googletasks.NewAuthHandler(googletasks.OAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		}),
	}

	if cfg.MailjetEnabled() {
		a.mailer, err = notify.NewMailer(notify.Config{
			APIKey:                cfg.MailjetAPIKey,
			SecretKey:             cfg.MailjetSecretKey,
			SyncCompleteTemplate:  cfg.MailjetTemplateID,
			SetupReminderTemplate: cfg.MailjetReminderTemplateID,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Warn("mailjet is not configured, emails are disabled")
	}

	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close user store", "error", err)
	}
	a.logCloser.Close()
}

// reportSink always logs reports and archives them when a bucket is set
func (a *app) reportSink(ctx context.Context) (report.Sink, error) {
	sinks := report.MultiSink{report.NewLogSink(a.logger)}
	if !a.cfg.ReportsEnabled() {
		return sinks, nil
	}

	creds := a.cfg.StorageCredentials()
	client, err := config.NewS3Client(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to create report archive client: %w", err)
	}
	a.logger.Info("archiving sync reports",
		"bucket", a.cfg.ReportBucket,
		"credentials", config.CredentialsSource(creds))
	return append(sinks, report.NewS3Sink(client, a.cfg.ReportBucket, a.cfg.ReportPrefix)), nil
}

func (a *app) orchestrator(ctx context.Context) (*tsync.Orchestrator, error) {
	sink, err := a.reportSink(ctx)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	cfg := a.cfg

	orchestratorConfig := tsync.Config{
		Store: a.store,
		List: func(ctx context.Context, token googletasks.Token) (task.Source, error) {
			client, err := googletasks.NewClient(ctx, googletasks.Config{
				Auth:     a.auth,
				Token:    token,
				Endpoint: cfg.GoogleTasksURL,
				PageSize: cfg.PageSize,
			})
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		DB: func(ctx context.Context, token notion.Token) (tsync.DBConnection, error) {
			client, err := notion.NewClient(notion.Config{
				BaseURL:    cfg.NotionAPIURL,
				Version:    cfg.NotionVersion,
				Token:      token,
				HTTPClient: httpClient,
				PageSize:   int(cfg.PageSize),
			})
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		ListBatch:     batch.Config{RequestsPerSecond: cfg.ListRateLimit, Window: cfg.RateWindow},
		DBBatch:       batch.Config{RequestsPerSecond: cfg.DBRateLimit, Window: cfg.RateWindow},
		Reports:       sink,
		NotifyTimeout: cfg.NotifyTimeout,
		Logger:        a.logger,
	}
	if a.mailer != nil {
		orchestratorConfig.Notifier = a.mailer
	}

	return tsync.NewOrchestrator(orchestratorConfig), nil
}
