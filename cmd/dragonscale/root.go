package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent/internal/app"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// skipConfigLoad marks commands that run before a config file exists.
const skipConfigLoad = "skip-config-load"

// cli holds the state shared by every subcommand.
type cli struct {
	configPath string
	verbose    bool
	offline    string
	timeout    time.Duration

	logger *zap.Logger
	cfg    config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "dragonscale",
		Short: "Turn natural-language requests into commands and run them as plans",
		Long: `dragonscale asks a language model for a command, extracts the intent from
whatever shape the model answered in, plans it against the registered tools
and sub-agents, and executes the plan.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logCfg := zap.NewProductionConfig()
			logCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
			if c.verbose {
				logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := logCfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.logger = logger

			if cmd.Annotations[skipConfigLoad] != "" {
				return nil
			}
			cfg, err := config.NewLoader(c.configPath).Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default: "+config.DefaultPath()+")")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&c.offline, "offline-response", "", "Answer every prompt with this text instead of calling a model")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 5*time.Minute, "Overall command timeout")

	root.AddCommand(
		newInterpretCmd(c),
		newProcessCmd(c),
		newRunCmd(c),
		newPlanCmd(c),
		newHistoryCmd(c),
		newCacheCmd(c),
		newConfigCmd(c),
	)
	return root
}

// container builds the application. Commands that never consult the model
// pass needModel=false so no provider credentials are required.
func (c *cli) container(ctx context.Context, needModel bool) (*app.Container, error) {
	opts := app.Options{Logger: c.logger, WithoutModel: !needModel}
	if needModel && c.offline != "" {
		opts.LanguageModel = offlineModel(c.offline)
	}
	return app.Build(ctx, c.cfg, opts)
}

func (c *cli) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
