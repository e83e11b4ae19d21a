package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkrupp/booksy/internal/infra/config"
	"github.com/mkrupp/booksy/internal/infra/logging"
	"github.com/mkrupp/booksy/internal/repo/kv"
	"github.com/mkrupp/booksy/internal/svc/sessionsvc"
	"github.com/mkrupp/booksy/internal/svc/sessionsvc/sessionclient"
)

const appName = "booksy"

type Config struct {
	config.EnvConfig

	Log     logging.LoggerConfig           `envPrefix:"LOG_"`
	Session sessionsvc.SessionConfig       `envPrefix:"SESSION_"`
	KV      kv.Config                      `envPrefix:"KV_"`
	Client  sessionclient.HTTPClientConfig `envPrefix:"CLIENT_"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := newApp(os.Stdin, os.Stderr)

	err := errors.Join(newRootCmd(a).ExecuteContext(ctx), a.teardown())

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
