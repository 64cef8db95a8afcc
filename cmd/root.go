// Package cmd provides the rsyncwatch command line.
package cmd

import (
	"time"

	"github.com/adalundhe/rsyncwatch/core/config"
	"github.com/spf13/cobra"
)

// =============================================================================
// Flags
// =============================================================================

// options holds the flag values shared by every command. Unset values leave
// the config file untouched.
type options struct {
	configPath  string
	source      string
	destination string
	glob        string
	ignore      []string
	ssh         string
	gitignore   bool
	debounce    time.Duration
	logLevel    string
	logFormat   string
	dryRun      bool
}

// overrides returns the flag values as a partial config for config.Merge.
func (o *options) overrides() *config.Config {
	return &config.Config{
		Source:      o.source,
		Destination: o.destination,
		Glob:        o.glob,
		Ignore:      o.ignore,
		SSH:         o.ssh,
		Gitignore:   o.gitignore,
		Debounce:    o.debounce,
	}
}

// =============================================================================
// Root Command
// =============================================================================

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "rsyncwatch",
		Short: "Mirror a directory to a local or remote destination with rsync",
		Long: `rsyncwatch copies every matching file under the source directory to the
destination, then watches the source and re-sends each file as it changes.

Settings are read from rsync.config.yaml in the working directory. Flags
override the file; RSYNCWATCH_* environment variables override the file too.

Examples:
  rsyncwatch init                      # Write a default config file
  rsyncwatch                           # Sync, then watch for changes
  rsyncwatch --dry-run                 # List the files the initial sync would send`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultFileName, "Path to the config file")
	flags.StringVarP(&opts.source, "source", "s", "", "Directory to watch")
	flags.StringVarP(&opts.destination, "destination", "d", "", "Destination path")
	flags.StringVarP(&opts.glob, "glob", "g", "", "Include pattern")
	flags.StringSliceVarP(&opts.ignore, "ignore", "i", nil, "Ignore patterns (e.g., 'node_modules/**/*,*.log')")
	flags.StringVar(&opts.ssh, "ssh", "", "Remote host as user@host")
	flags.BoolVar(&opts.gitignore, "gitignore", false, "Also honor .gitignore files under the source")
	flags.DurationVar(&opts.debounce, "debounce", 0, "Window in which repeated changes to one file collapse")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "auto", "Log format (auto, text, json)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Print what would be sent or written, then exit")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newInitCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func Execute() error {
	return rootCmd.Execute()
}
