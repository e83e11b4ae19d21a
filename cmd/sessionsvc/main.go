package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mkrupp/booksy/internal/infra/config"
	"github.com/mkrupp/booksy/internal/infra/logging"
	"github.com/mkrupp/booksy/internal/infra/metrics"
	"github.com/mkrupp/booksy/internal/infra/transport/http"
	"github.com/mkrupp/booksy/internal/repo/kv"
	"github.com/mkrupp/booksy/internal/svc/avatarsvc"
	"github.com/mkrupp/booksy/internal/svc/sessionsvc"
)

const (
	appName = "booksy"
	svcName = "sessionsvc"
)

type Config struct {
	config.EnvConfig

	Log     logging.LoggerConfig           `envPrefix:"LOG_"`
	Session sessionsvc.SessionConfig       `envPrefix:"SESSION_"`
	HTTP    sessionsvc.HTTPTransportConfig `envPrefix:"HTTP_"`
	Avatar  avatarsvc.AvatarConfig         `envPrefix:"AVATAR_"`
	KV      kv.Config                      `envPrefix:"KV_"`
}

func main() {
	var (
		cfg Config

		configPrefix = strings.ToUpper(strings.Join([]string{appName, svcName}, "_"))
		loggerName   = strings.ToLower(strings.Join([]string{appName, svcName}, "."))
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env"); err != nil {
		panic(err)
	}

	if err := config.Parse(ctx, &cfg, configPrefix); err != nil {
		panic(err)
	}

	logging.Configure(ctx, cfg.Log, loggerName)

	if err := run(ctx, cfg); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, cfg Config) (err error) {
	defer func() {
		log := logging.GetLogger("cmd.sessionsvc")

		if err != nil {
			log.ErrorContext(ctx, "error", "err", err)
			panic(err)
		}

		log.InfoContext(ctx, "shutdown")
	}()

	store, err := kv.NewStoreFactory(cfg.KV)(ctx)
	if err != nil {
		return fmt.Errorf("new %s store: %w", cfg.KV.Backend, err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := metrics.NewCollector(registry)

	sessionSvc, err := sessionsvc.NewSessionService(ctx, store, cfg.Session, sessionsvc.WithMetrics(collector))
	if err != nil {
		return fmt.Errorf("new session service: %w", err)
	}

	if err := sessionSvc.RestoreSession(ctx); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}

	avatarSvc, err := avatarsvc.NewAvatarService(store, cfg.Avatar)
	if err != nil {
		return fmt.Errorf("new avatar service: %w", err)
	}

	httpTransport := sessionsvc.NewHTTPTransport(
		sessionSvc,
		avatarSvc,
		cfg.HTTP,
		sessionsvc.WithHTTPMetrics(collector, registry),
	)

	if err := http.ListenAndServe(ctx, httpTransport, cfg.HTTP.HTTPTransportConfig); err != nil {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}
