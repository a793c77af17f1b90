package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ylr9527/mail-wx/internal/api"
	"github.com/ylr9527/mail-wx/internal/config"
	"github.com/ylr9527/mail-wx/internal/dedup"
	"github.com/ylr9527/mail-wx/internal/mailbox"
	"github.com/ylr9527/mail-wx/internal/notify"
	"github.com/ylr9527/mail-wx/internal/poller"
	"github.com/ylr9527/mail-wx/internal/policy"
	"github.com/ylr9527/mail-wx/internal/scheduler"
	"github.com/ylr9527/mail-wx/internal/status"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", "", "optional .env file loaded before reading configuration")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: load env file: %v\n", err)
			os.Exit(1)
		}
	} else {
		// Best-effort .env in the working directory.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("mail-wx starting", "accounts", len(cfg.Accounts), "interval", cfg.Interval())

	st := status.New()
	notifier := notify.New(cfg.WebhookURL, cfg.DisplayTimezone, logger)

	var pollers []*poller.Poller
	for _, acct := range cfg.Accounts {
		p, err := newPoller(cfg, acct, notifier, st, logger)
		if err != nil {
			logger.Error("skipping account", "account", acct.Name, "error", err)
			continue
		}
		pollers = append(pollers, p)
	}
	if len(pollers) == 0 {
		fmt.Fprintln(os.Stderr, "error: no usable accounts configured")
		os.Exit(1)
	}

	sched := scheduler.New(pollers, cfg.Interval(), st, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(cfg.AuthSecret, sched, st, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("control surface listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down, waiting for in-flight cycles...")

	// Force exit on second signal.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	wg.Wait()
	logger.Info("mail-wx stopped")
}

func newPoller(cfg *config.Config, acct config.Account, notifier *notify.Notifier, st *status.Status, logger *slog.Logger) (*poller.Poller, error) {
	trackerPath := ""
	if cfg.DataDir != "" {
		trackerPath = filepath.Join(cfg.DataDir, sanitize(acct.Name)+".seen")
	}
	tracker, err := dedup.NewTracker(trackerPath)
	if err != nil {
		return nil, fmt.Errorf("create seen tracker: %w", err)
	}
	if tracker.Count() > 0 {
		logger.Info("loaded seen state", "account", acct.Name, "seen_count", tracker.Count())
	}

	dialer, err := newDialer(acct, tracker, logger)
	if err != nil {
		return nil, err
	}

	kind, err := policy.ParseKind(acct.Strategy)
	if err != nil {
		return nil, err
	}
	strat := policy.Strategy{Kind: kind, Window: acct.Window()}

	return poller.New(acct, strat, dialer, notifier, tracker, st, logger), nil
}

func newDialer(acct config.Account, tracker *dedup.Tracker, logger *slog.Logger) (mailbox.Dialer, error) {
	switch acct.Protocol {
	case "imap":
		return mailbox.NewIMAP(
			acct.Host, acct.Port,
			acct.Username, acct.Password,
			acct.UseTLS, acct.GetFolder(), logger,
		), nil
	case "pop3":
		return mailbox.NewPOP3(
			acct.Host, acct.Port,
			acct.Username, acct.Password,
			acct.UseTLS, tracker, logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", acct.Protocol)
	}
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func sanitize(name string) string {
	if name == "" {
		return "default"
	}
	out := make([]byte, 0, len(name))
	for _, b := range []byte(name) {
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-' || b == '_' {
			out = append(out, b)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
