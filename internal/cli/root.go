// Package cli implements the piiscope command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/straja-ai/piiscope/internal/config"
	"github.com/straja-ai/piiscope/internal/logging"
)

// Version is stamped at build time.
var Version = "dev"

var (
	flagConfig   string
	flagLogLevel string
	flagJSON     bool
)

var rootCmd = &cobra.Command{
	Use:   "piiscope",
	Short: "Detect, score and redact PII and health information in datasets",
	Long: `piiscope finds personally identifiable (PII) and health (HII) information
in CSV datasets, either by mapping well-known columns (tabular data) or by
running an NER model over a free-text column (descriptive data). Every
entity gets a risk score; results can be filtered, redacted, summarized,
exported as an encrypted archive and pushed to a search index.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	addPersistentFlags(rootCmd)
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "piiscope.yaml", "config file (defaults apply when missing)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override logging.level")
	cmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "json output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads, validates and applies the logging section of the config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", flagConfig, err)
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logging.Setup(cfg.Logging)
	return cfg, nil
}

// openInput opens path, or stdin for "-".
func openInput(path string) (io.ReadCloser, error) {
	if path == "" {
		return nil, fmt.Errorf("an input CSV file is required")
	}
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}
