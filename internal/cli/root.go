package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ppiankov/callguard/internal/config"
	"github.com/ppiankov/callguard/internal/engine"
	"github.com/ppiankov/callguard/internal/model"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitContract = 2
)

var (
	flagConfig   string
	flagLogLevel string
	flagMode     string
	flagPolicy   string

	runtimeCfg config.Config
	logger     = zerolog.Nop()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config YAML (default ~/.callguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&flagMode, "mode", "", "Guard mode (hermetic|strict)")
	rootCmd.PersistentFlags().StringVar(&flagPolicy, "policy", "", "Path to tool policy YAML (default ~/.callguard/policy.yaml)")
}

var rootCmd = &cobra.Command{
	Use:   "callguard",
	Short: "Authorization gate for agent tool calls",
	Long: "Decides whether a proposed tool call may run: readback token, allowlist,\n" +
		"privilege ring, required args, catalog provenance and argument schema.\n" +
		"Every failed check is reported; nothing is executed by callguard itself.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadRuntime,
}

func loadRuntime(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagMode != "" {
		mode, err := model.ParseMode(flagMode)
		if err != nil {
			return err
		}
		cfg.Mode = mode
	}
	if flagPolicy != "" {
		cfg.PolicyPath = flagPolicy
	}
	runtimeCfg = cfg
	logger = config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, version)
	return nil
}

func openEngine(ctx context.Context) (*engine.Engine, error) {
	e, err := engine.Open(ctx, runtimeCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return e, nil
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, model.ErrContract):
		return exitContract
	default:
		return exitFailure
	}
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	os.Exit(exitCode(err))
}
