package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkrupp/booksy/internal/infra/config"
	"github.com/mkrupp/booksy/internal/infra/logging"
	"github.com/mkrupp/booksy/internal/repo/kv"
	"github.com/mkrupp/booksy/internal/svc/sessionsvc"
	"github.com/mkrupp/booksy/internal/svc/sessionsvc/sessionclient"
)

// connectFunc opens a session client. The returned close function releases its resources.
type connectFunc func(ctx context.Context, cfg Config, server string) (sessionclient.SessionClient, func() error, error)

type app struct {
	cfg     Config
	prompt  *prompter
	connect connectFunc

	envFile string
	server  string

	client sessionclient.SessionClient
	close  func() error
}

func newApp(in io.Reader, promptOut io.Writer) *app {
	return &app{
		prompt:  newPrompter(in, promptOut),
		connect: connect,
	}
}

// connect returns an HTTP client when server is set and a local store client otherwise.
func connect(ctx context.Context, cfg Config, server string) (sessionclient.SessionClient, func() error, error) {
	if server != "" {
		cfg.Client.ServerURL = server

		client := sessionclient.NewHTTPClient(cfg.Client, &http.Client{Timeout: 30 * time.Second})

		return client, func() error { return nil }, nil
	}

	store, err := kv.NewStoreFactory(cfg.KV)(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("new %s store: %w", cfg.KV.Backend, err)
	}

	svc, err := sessionsvc.NewSessionService(ctx, store, cfg.Session)
	if err != nil {
		_ = store.Close()

		return nil, nil, fmt.Errorf("new session service: %w", err)
	}

	client, err := sessionclient.NewLocalClient(ctx, svc)
	if err != nil {
		_ = store.Close()

		return nil, nil, fmt.Errorf("new local client: %w", err)
	}

	return client, store.Close, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Manage booksy accounts and the active session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&a.server, "server", "", "URL of a running session service; the local store is used if empty")

	root.AddCommand(
		newRegisterCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newProfileCmd(a),
	)

	return root
}

func (a *app) setup(ctx context.Context) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err //nolint:wrapcheck
	}

	if err := config.Parse(ctx, &a.cfg, "BOOKSY"); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	logging.Configure(ctx, a.cfg.Log, appName)

	client, closeFn, err := a.connect(ctx, a.cfg, a.server)
	if err != nil {
		return err
	}

	a.client = client
	a.close = closeFn

	return nil
}

// teardown releases the client opened by setup. It is safe to call when setup did not run.
func (a *app) teardown() error {
	if a.close == nil {
		return nil
	}

	closeFn := a.close
	a.close = nil

	if err := closeFn(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	return nil
}
