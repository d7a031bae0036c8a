// Package cli holds the cobra commands of the flowq binary.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ehsaniara/flowq/pkg/config"
	"github.com/ehsaniara/flowq/pkg/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
	jsonOutput bool

	cfg     *config.Config
	cfgFrom string
}

// NewRootCmd builds the full command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "flowq",
		Short: "flowq - priority execution queue with resource-aware admission",
		Long: `flowq runs multi-step plans from per-project priority queues.

Steps are classified as critical (run in declared order) or non-critical
(run concurrently once the preceding critical steps finished). A resource
monitor samples host load, raises rate-limited alerts and can refuse new
work while the host is under critical pressure.

Quick Examples:
  flowq serve                              # Run the daemon
  flowq run -f plan.yml                    # Execute a plan locally
  flowq classify SaveFile RenderChart      # Show how steps would be scheduled
  flowq monitor --samples 5                # Sample host load and print health
  flowq health --addr localhost:50061      # Query a running daemon`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return opts.load()
		},
	}

	addGlobalFlags(rootCmd.PersistentFlags(), opts)

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newClassifyCmd(opts))
	rootCmd.AddCommand(newMonitorCmd(opts))
	rootCmd.AddCommand(newHealthCmd(opts))
	rootCmd.AddCommand(newVersionCmd(opts))
	return rootCmd
}

func Execute() error {
	return NewRootCmd().Execute()
}

func addGlobalFlags(fs *pflag.FlagSet, opts *rootOptions) {
	fs.StringVar(&opts.configPath, "config", "",
		"Path to configuration file (searches common locations if not specified)")
	fs.StringVar(&opts.logLevel, "log-level", "",
		"Override the configured log level (DEBUG, INFO, WARN, ERROR)")
	fs.BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
}

func (o *rootOptions) load() error {
	var err error
	if o.configPath != "" {
		o.cfg, err = config.LoadConfigFromFile(o.configPath)
		o.cfgFrom = o.configPath
	} else {
		o.cfg, o.cfgFrom, err = config.LoadConfig()
	}
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		o.cfg.Logging.Level = o.logLevel
	}
	initializeLogging(o.cfg)
	logger.Debug("configuration loaded", "path", o.cfgFrom)
	return nil
}

func initializeLogging(cfg *config.Config) {
	if level, err := logger.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	} else {
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using INFO\n", cfg.Logging.Level)
		logger.SetLevel(logger.INFO)
	}
	logger.SetFormat(cfg.Logging.Format)

	if cfg.Logging.Output == "stdout" || cfg.Logging.Output == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.Output), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup log file, using stdout: %v\n", err)
		return
	}
	f, err := os.OpenFile(cfg.Logging.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file, using stdout: %v\n", err)
		return
	}
	logger.SetOutput(f)
}
