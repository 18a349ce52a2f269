// Package cli is the meetingagent command line: the stream server and the
// offline summary tool.
package cli

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lexiqai/meeting-agent/internal/config"
	"github.com/lexiqai/meeting-agent/internal/observability"
)

type rootOptions struct {
	envFile string
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "meetingagent",
		Short:        "Voice meeting assistant",
		Long:         "meetingagent listens to a meeting, acts on requests addressed to it by wake phrase and mails a summary when the meeting ends.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load environment variables from this file instead of .env")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newSummarizeCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the configuration and initializes the global logger
func (o *rootOptions) loadConfig() (*config.Config, zerolog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			return nil, zerolog.Logger{}, fmt.Errorf("load env file: %w", err)
		}
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, zerolog.Logger{}, err
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	return cfg, observability.GetLogger(), nil
}
