package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/internal/config"
	"github.com/MarkoPoloResearchLab/qcs/internal/render"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	flagConfig      = "config"
	flagFormat      = "format"
	flagLogLevel    = "log-level"
	configKeyFormat = "format"
	configKeyLevel  = "log-level"
	envPrefix       = "QCS"
	defaultLogLevel = "warn"
	userAgent       = "qcs-cli"
)

// runtimeOptions carries the process dependencies commands resolve lazily.
type runtimeOptions struct {
	homeDir    func() (string, error)
	httpClient *http.Client
	now        func() time.Time
	location   *time.Location
}

func defaultRuntime() runtimeOptions {
	return runtimeOptions{
		homeDir:  os.UserHomeDir,
		now:      time.Now,
		location: time.Local,
	}
}

// cliState is filled by the root PersistentPreRunE and shared by every subcommand.
type cliState struct {
	runtime runtimeOptions
	viper   *viper.Viper
	format  render.Format
	logger  *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd := newRootCommand(defaultRuntime())
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "qcs: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(runtime runtimeOptions) *cobra.Command {
	state := &cliState{runtime: runtime, logger: zap.NewNop(), format: render.FormatTabular}
	cmd := &cobra.Command{
		Use:           "qcs",
		Short:         "Command-line client for the quantum compute scheduling service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.loadConfig(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = state.logger.Sync()
		},
	}

	cmd.PersistentFlags().String(flagConfig, "", "path to the INI config file (default ~/.qcs_config)")
	cmd.PersistentFlags().String(flagFormat, string(render.FormatTabular), "output format: tabular, json, json-pretty or yaml")
	cmd.PersistentFlags().String(flagLogLevel, defaultLogLevel, "log level written to stderr (debug, info, warn, error)")

	cmd.AddCommand(
		newReservationsCommand(state),
		newReserveCommand(state),
		newCancelCommand(state),
		newLatticesCommand(state),
		newDevicesCommand(state),
		newCreditsCommand(state),
		newQMIsCommand(state),
		newAuthCommand(state),
	)
	return cmd
}

func (state *cliState) loadConfig(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := config.BindEnv(v); err != nil {
		return err
	}
	if err := bindFlags(v, cmd.Flags(), map[string]string{
		config.KeyConfigPath: flagConfig,
		configKeyFormat:      flagFormat,
		configKeyLevel:       flagLogLevel,
	}); err != nil {
		return err
	}

	format, err := render.ParseFormat(v.GetString(configKeyFormat))
	if err != nil {
		return err
	}
	logger, err := newLogger(v.GetString(configKeyLevel), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	state.viper = v
	state.format = format
	state.logger = logger
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, flagName := range keys {
		flag := flags.Lookup(flagName)
		if flag == nil {
			return fmt.Errorf("flag %s is not registered", flagName)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string, out io.Writer) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(defaultIfEmpty(strings.TrimSpace(level), defaultLogLevel))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(out), zapLevel)
	return zap.New(core), nil
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
