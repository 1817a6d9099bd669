package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/streamrow/streamrow/internal/config"
)

var (
	logLevel string
	width    int
)

var rootCmd = &cobra.Command{
	Use:   "streamrow",
	Short: "Incremental streaming renderer for terminal chat views",
	Long: `streamrow assembles out-of-order content chunks, schedules renders
adaptively and maintains a stable variable-height layout while text is
still arriving.

Examples:
  streamrow sim                     # simulate concurrent streams
  streamrow sim --messages 8        # more of them
  streamrow sim --shuffle           # deliver chunks out of order`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().IntVar(&width, "width", 80, "Render constraint width in columns")
}

func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	log.SetLevel(parsed)
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
