package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/menta2k/paddy-monitor/internal/config"
	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/utils"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "paddy-monitor",
	Short: "Rice paddy growth monitoring backend",
	Long: `paddy-monitor analyzes sets of four paddy photos (drone, 0.5 m close-up,
3 m horizontal and 3 m vertical side views), merges computer-vision measurements
with a vision-model assessment and keeps per-field growth history.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file, YAML or JSON (default "+config.GetConfigPath()+" if present)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, falling back to the per-user config file
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
}
