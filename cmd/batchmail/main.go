package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.io/infrasutra/batchmail/internal/api"
	"github.io/infrasutra/batchmail/internal/auth"
	"github.io/infrasutra/batchmail/internal/config"
	"github.io/infrasutra/batchmail/internal/job"
	"github.io/infrasutra/batchmail/internal/library"
	"github.io/infrasutra/batchmail/internal/profile"
	"github.io/infrasutra/batchmail/internal/smtpserver"
	"github.io/infrasutra/batchmail/internal/sse"
	"github.io/infrasutra/batchmail/internal/store"
	"github.io/infrasutra/batchmail/internal/transport"
)

const captureInboxLimit = 500

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("batchmail stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newFactory(cfg config.Config, logger *slog.Logger) (transport.Factory, error) {
	switch cfg.Transport {
	case "smtp":
		return transport.NewSMTPFactory(transport.SMTPConfig{
			Host:               cfg.SMTPHost,
			Port:               cfg.SMTPPort,
			Security:           cfg.SMTPSecurity,
			Timeout:            cfg.SMTPTimeout,
			InsecureSkipVerify: cfg.SMTPInsecureSkipVerify,
		}, logger), nil
	case "resend":
		return transport.NewResendFactory(cfg.ResendBaseURL), nil
	case "dryrun":
		return transport.DryRun{}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	authManager, err := auth.New(cfg.AuthSecret, auth.DefaultMaxAge)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET not set; sessions reset on restart")
	}
	if !cfg.AuthRequired {
		logger.Warn("AUTH_REQUIRED disabled; api is open to anyone who can reach it")
	}

	factory, err := newFactory(cfg, logger)
	if err != nil {
		return err
	}
	profiles := profile.NewStore(cfg.SenderVariants, nil)
	orchestrator := job.New(profiles, factory, logger, job.Config{
		BatchPause:      cfg.BatchPause,
		DefaultDelayMs:  cfg.SendDelayMs,
		DefaultJitterMs: cfg.SendJitterMs,
	}, job.WithRecorder(db))

	deps := api.Deps{
		Profiles: profiles,
		Library:  library.Open(cfg.TemplatesDir),
		Jobs:     orchestrator,
		History:  db,
		Auth:     authManager,
		Hub:      sse.NewHub(),
	}

	var capture *smtpserver.Server
	if cfg.CaptureEnabled {
		deps.Inbox = smtpserver.NewInbox(captureInboxLimit)
		capture = smtpserver.New(deps.Inbox, logger, smtpserver.Config{
			Addr: fmt.Sprintf(":%d", cfg.CapturePort),
			Auth: smtpserver.AuthConfig{
				Enabled:  true,
				Username: cfg.CaptureUsername,
				Password: cfg.CapturePassword,
			},
		})
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           api.NewServer(cfg, deps, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", httpAddr, "transport", cfg.Transport)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if capture != nil {
		g.Go(func() error {
			if err := capture.ListenAndServe(); err != nil && gctx.Err() == nil {
				return fmt.Errorf("capture smtp server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown http", "error", err)
		}
		if capture != nil {
			if err := capture.Close(); err != nil {
				logger.Error("shutdown capture smtp", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}
