package cmd

import (
	"fmt"

	"github.com/adalundhe/rsyncwatch/core/config"
	"github.com/spf13/cobra"
)

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write rsync.config.yaml (or the file named by --config) with default
settings. Source, destination and pattern flags are written into the file.
An existing file is never overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}
}

func runInit(cmd *cobra.Command, opts *options) error {
	cfg := config.DefaultConfig()
	config.Merge(cfg, opts.overrides())

	if opts.dryRun {
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	if err := config.Init(opts.configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", opts.configPath)
	return nil
}
