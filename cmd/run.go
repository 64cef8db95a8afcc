package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adalundhe/rsyncwatch/core/config"
	"github.com/adalundhe/rsyncwatch/core/dispatch"
	"github.com/adalundhe/rsyncwatch/core/logging"
	"github.com/adalundhe/rsyncwatch/core/match"
	"github.com/adalundhe/rsyncwatch/core/shutdown"
	"github.com/adalundhe/rsyncwatch/core/transfer"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync the source, then watch it for changes",
		Long: `Send every matching file to the destination in one transfer, then keep
watching the source and send each changed file as it changes.

Stops on interrupt, terminate, SIGUSR1 or SIGUSR2. Transfers already started
are allowed to finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}
}

// =============================================================================
// Run
// =============================================================================

func runSync(cmd *cobra.Command, opts *options) error {
	logger, err := logging.New(logging.Options{
		Level:  opts.logLevel,
		Format: opts.logFormat,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.Error("configuration error", "config", opts.configPath, "error", err)
		return err
	}

	if opts.dryRun {
		return listMatches(cmd, cfg)
	}

	d, err := dispatch.New(dispatch.Options{
		Config: cfg,
		Invoker: transfer.NewRsync(transfer.Options{
			Program:    cfg.Transfer.Program,
			Flags:      cfg.Transfer.Flags,
			Stdout:     cmd.OutOrStdout(),
			Retries:    cfg.Transfer.Retries,
			RetryDelay: cfg.Transfer.RetryDelay,
			Logger:     logger,
		}),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	return runDispatcher(cmd.Context(), d, logger)
}

// runDispatcher runs d until it fails or a shutdown signal arrives.
func runDispatcher(ctx context.Context, d *dispatch.Dispatcher, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	state := shutdown.New(func() {
		d.Stop()
		d.Wait()
		stats := d.Stats()
		logger.Info("stopped",
			"dispatched", stats.Dispatched,
			"succeeded", stats.Succeeded,
			"failed", stats.Failed,
			"ignored", stats.Ignored,
		)
	})
	defer shutdown.Recover(state)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	shutdown.Listen(ctx, state)

	err := d.Run(ctx)
	state.TriggerOnce()
	if err != nil {
		logger.Error("sync failed", "source", d.Root(), "destination", d.Destination(), "error", err)
	}
	return err
}

// loadConfig layers defaults, the config file, the environment and flags,
// then validates the result.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath, config.DefaultConfig())
	if errors.Is(err, config.ErrConfigNotFound) {
		return nil, fmt.Errorf("%w (run 'rsyncwatch init' to create one)", err)
	}
	if err != nil {
		return nil, err
	}

	config.ApplyEnvironment(cfg)
	config.Merge(cfg, opts.overrides())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func listMatches(cmd *cobra.Command, cfg *config.Config) error {
	var matchOpts []match.Option
	if cfg.Gitignore {
		matchOpts = append(matchOpts, match.WithGitignore(cfg.Source))
	}
	m, err := match.Compile(cfg.Glob, cfg.Ignore, matchOpts...)
	if err != nil {
		return err
	}

	files, err := match.Enumerate(cmd.Context(), cfg.Source, m)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, f := range files {
		fmt.Fprintln(out, f)
	}
	return nil
}
