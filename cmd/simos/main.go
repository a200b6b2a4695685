package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/brettbedarf/simos/config"
	"github.com/brettbedarf/simos/internal/util"
	"github.com/brettbedarf/simos/kernel"
	"github.com/brettbedarf/simos/shell"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes
const (
	ExitCodeSuccess     = 0
	ExitCodeConfigError = 2
	ExitCodeBootError   = 3
	ExitCodeSaveError   = 4
)

const envPrefix = "SIMOS"

// Setting keys; each is a flag name and, upper-cased with a SIMOS_ prefix, an
// environment variable
const (
	keyConfig          = "config"
	keyEnvFile         = "env-file"
	keyVerbose         = "verbose"
	keyStore           = "store"
	keyFrames          = "frames"
	keyFrameSize       = "frame-size"
	keyEviction        = "eviction"
	keyRecursiveDelete = "recursive-delete"
	keyPriority        = "priority"
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		code := 1
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		os.Exit(code)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "simos",
		Short: "An educational operating system simulator",
		Long: `simos runs a simulated kernel with a process table, a bounded frame pool
and a persistent virtual file system, driven by a line oriented shell.

Commands are read from stdin, one per line. Type 'help' for the list.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("configuration error: "+err.Error()))
				return &exitError{ExitCodeConfigError, err}
			}
			return run(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringP(keyConfig, "c", "", "Config override file (.yaml, .yml, .json or .toml)")
	flags.String(keyEnvFile, ".env", "Dotenv file with SIMOS_* settings; ignored when missing")
	flags.IntP(keyVerbose, "v", config.InfoVerbose, "Log verbosity level between 1 (error) and 5 (trace)")
	flags.StringP(keyStore, "s", config.DefaultStorePath, "File the virtual file system is saved to (.yaml or .json)")
	flags.Int(keyFrames, config.DefaultFrameCount, "Number of physical frames")
	flags.Int(keyFrameSize, config.DefaultFrameSize, "Bytes per frame")
	flags.Bool(keyEviction, config.DefaultEvictionEnabled, "Evict the oldest unpinned allocation when memory runs out")
	flags.Bool(keyRecursiveDelete, config.DefaultRecursiveDelete, "Allow rm on non-empty directories")
	flags.Int(keyPriority, config.DefaultPriority, "Priority of processes started without one")

	return cmd
}

// loadConfig layers defaults, the config file, the dotenv file, SIMOS_*
// environment and explicit flags, later layers winning
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if envFile := v.GetString(keyEnvFile); envFile != "" {
		// Load never overrides variables already set in the environment
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	override := &config.ConfigOverride{}
	if path := v.GetString(keyConfig); path != "" {
		fileOverride, err := config.LoadConfigOverrideFile(path)
		if err != nil {
			return nil, err
		}
		override = fileOverride
	}
	applySettings(v, override)

	cfg := config.NewConfig(override)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySettings copies every setting given by flag or environment onto o
func applySettings(v *viper.Viper, o *config.ConfigOverride) {
	if v.IsSet(keyVerbose) {
		o.LogLvl = util.Pointer(v.GetInt(keyVerbose))
	}
	if v.IsSet(keyStore) {
		o.StorePath = util.Pointer(v.GetString(keyStore))
	}
	if v.IsSet(keyFrames) {
		o.FrameCount = util.Pointer(v.GetInt(keyFrames))
	}
	if v.IsSet(keyFrameSize) {
		o.FrameSize = util.Pointer(v.GetInt(keyFrameSize))
	}
	if v.IsSet(keyEviction) {
		o.EvictionEnabled = util.Pointer(v.GetBool(keyEviction))
	}
	if v.IsSet(keyRecursiveDelete) {
		o.RecursiveDelete = util.Pointer(v.GetBool(keyRecursiveDelete))
	}
	if v.IsSet(keyPriority) {
		o.DefaultPriority = util.Pointer(v.GetInt(keyPriority))
	}
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	util.InitializeLoggerTo(cfg.LogLvl, cmd.ErrOrStderr())
	logger := util.GetLogger("main")
	logger.Info().
		Str("store", cfg.StorePath).
		Int("frames", cfg.FrameCount).
		Bool("eviction", cfg.EvictionEnabled).
		Msg("simos booting")

	k, err := kernel.New(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to boot kernel")
		return &exitError{ExitCodeBootError, err}
	}
	if bootErr := k.BootError(); bootErr != nil {
		msg := "warning: " + bootErr.Error() + "; started with a fresh file system"
		if moved := k.QuarantinedStore(); moved != "" {
			msg += "; the unreadable store was kept as " + moved
		} else {
			msg += "; the store will only be replaced by an explicit save"
		}
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render(msg))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repl := newREPL(shell.New(k), cmd.InOrStdin(), cmd.OutOrStdout(), isTerminal(os.Stdin))
	if err := repl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Failed to read input")
	}

	if err := k.Shutdown(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("error: "+err.Error()))
		return &exitError{ExitCodeSaveError, err}
	}
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
