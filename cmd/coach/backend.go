package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZaguanLabs/coach/internal/client"
	"github.com/ZaguanLabs/coach/internal/coach"
	"github.com/ZaguanLabs/coach/internal/config"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/insights"
	"github.com/ZaguanLabs/coach/internal/logging"
	"github.com/ZaguanLabs/coach/internal/provider"
	"github.com/ZaguanLabs/coach/internal/storage"
)

// app bundles what a client command needs: the loaded configuration and a
// backend that is either the in-process service or a remote server.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	backend coach.Backend
	profile insights.Profile

	// store is nil in remote mode
	store *storage.Store
}

// loadConfig reads the configuration and applies the --server override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if strings.TrimSpace(serverURL) != "" {
		cfg.Server.URL = strings.TrimSpace(serverURL)
	}
	return cfg, nil
}

// openApp builds the backend. Logs go to the configured file, or to logOut
// when no file is set; a nil logOut discards them.
func openApp(ctx context.Context, logOut io.Writer, opts ...provider.GuardOption) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	profile, err := insights.ParseProfile(cfg.Coach.Profile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging, logOut)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, profile: profile}

	if cfg.Server.URL != "" {
		c, err := client.New(cfg.Server.URL, nil)
		if err != nil {
			return nil, err
		}
		a.backend = c
		logger.Debug("remote mode", zap.String("server", cfg.Server.URL))
		return a, nil
	}

	svc, store, err := newService(ctx, cfg, logger, profile, opts...)
	if err != nil {
		return nil, err
	}
	a.backend = svc
	a.store = store
	return a, nil
}

// newService opens storage and the provider and joins them into a Service.
func newService(ctx context.Context, cfg *config.Config, logger *zap.Logger, profile insights.Profile, opts ...provider.GuardOption) (*coach.Service, *storage.Store, error) {
	p, err := provider.New(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	svc, err := coach.New(store, p, coach.Options{
		SystemPrompt:  cfg.Coach.SystemPrompt,
		Temperature:   cfg.Model.Temperature,
		HistoryWindow: cfg.Coach.HistoryWindow,
		Profile:       profile,
		CacheSize:     cfg.Coach.CacheSize,
		Logger:        logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return svc, store, nil
}

// commandContext is the base context for client commands.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// remote reports whether commands talk to a server.
func (a *app) remote() bool { return a.store == nil }

// conversationID resolves an optional positional argument against the
// configured default conversation.
func (a *app) conversationID(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	return a.cfg.Coach.ConversationID
}

func (a *app) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	_ = logging.Sync(a.logger)
	return err
}

// errorText is what the CLI prints for a failed command.
func errorText(err error) string {
	var valErr *coachErrors.ValidationError
	if coachErrors.As(err, &valErr) {
		return valErr.Message()
	}
	if coachErrors.Is(err, coachErrors.ErrConversationBusy) {
		return coachErrors.PublicMessageBusy
	}
	return err.Error()
}
