package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/qcs/internal/forestfake"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagListenAddr    = "listen-addr"
	flagAccessToken   = "access-token"
	flagRefreshToken  = "refresh-token"
	envPrefix         = "FORESTD"
	defaultListenAddr = ":8000"
)

// serverConfig holds the settings for the local fake scheduling service.
type serverConfig struct {
	ListenAddr   string
	AccessToken  string
	RefreshToken string
}

// Validate applies defaults and requires both halves of a token pair when either is set.
func (cfg *serverConfig) Validate() error {
	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	cfg.RefreshToken = strings.TrimSpace(cfg.RefreshToken)
	if (cfg.AccessToken == "") != (cfg.RefreshToken == "") {
		return fmt.Errorf("%s and %s must be supplied together", flagAccessToken, flagRefreshToken)
	}
	return nil
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "forestd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &serverConfig{}
	cmd := &cobra.Command{
		Use:           "forestd",
		Short:         "Local fake of the compute scheduling service for development against FOREST_ENVIRONMENT=test",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			options := []forestfake.Option{forestfake.WithLogger(logger)}
			if cfg.AccessToken != "" {
				options = append(options, forestfake.WithCredentials(forestfake.TokenPair{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken}))
			}
			return forestfake.Run(ctx, cfg.ListenAddr, forestfake.New(options...))
		},
	}

	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAccessToken, "", "access token to accept; leave empty to skip authentication")
	cmd.Flags().String(flagRefreshToken, "", "refresh token to accept when --access-token is set")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *serverConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagListenAddr, flagAccessToken, flagRefreshToken} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = v.GetString(flagListenAddr)
	cfg.AccessToken = v.GetString(flagAccessToken)
	cfg.RefreshToken = v.GetString(flagRefreshToken)
	return cfg.Validate()
}
