package main

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/qcs/internal/config"
	"github.com/MarkoPoloResearchLab/qcs/internal/credentials"
	"github.com/MarkoPoloResearchLab/qcs/internal/forest"
	"github.com/MarkoPoloResearchLab/qcs/internal/prompt"
	"github.com/MarkoPoloResearchLab/qcs/internal/render"
	"github.com/MarkoPoloResearchLab/qcs/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the wired client for one command invocation.
type app struct {
	config   config.AuthConfig
	logger   *zap.Logger
	store    *credentials.Store
	service  *forest.Service
	renderer *render.Renderer
	terminal *prompt.Terminal
}

// open resolves configuration and credentials and builds the request stack.
func (state *cliState) open(cmd *cobra.Command, storeOptions ...credentials.Option) (*app, error) {
	homeDir, err := state.runtime.homeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	cfg, err := config.Load(state.viper, homeDir)
	if err != nil {
		return nil, err
	}
	logger := state.logger.With(zap.String("environment", defaultIfEmpty(cfg.Environment, "default")))

	locator := credentials.Locator{
		HomeDir:         cfg.HomeDir,
		Environment:     cfg.Environment,
		UserOverride:    config.ExpandHome(cfg.UserTokenPath, cfg.HomeDir),
		MachineOverride: config.ExpandHome(cfg.MachineTokenPath, cfg.HomeDir),
	}
	options := append([]credentials.Option{
		credentials.WithLogger(logger),
		credentials.WithFallbackIdentity(cfg.UserID),
		credentials.WithHelpURL(cfg.QCSURL),
	}, storeOptions...)
	if cfg.IsTest() {
		options = append(options, credentials.WithoutPresenceCheck())
	}
	store, err := credentials.Open(locator, options...)
	if err != nil {
		return nil, err
	}

	client, err := transport.NewClient(transport.Config{
		BaseURL:    cfg.URL,
		QCSURL:     cfg.QCSURL,
		UserID:     cfg.UserID,
		AdminKey:   cfg.AdminKey,
		UserAgent:  userAgent,
		HTTPClient: state.runtime.httpClient,
		Logger:     logger,
	}, store)
	if err != nil {
		return nil, err
	}
	service, err := forest.NewService(client, forest.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &app{
		config:  cfg,
		logger:  logger,
		store:   store,
		service: service,
		renderer: render.New(cmd.OutOrStdout(), state.format,
			render.WithClock(state.runtime.now),
			render.WithLocation(state.runtime.location),
		),
		terminal: prompt.NewTerminal(cmd.InOrStdin(), cmd.OutOrStdout()),
	}, nil
}
