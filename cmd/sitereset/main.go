package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/sitereset/internal/config"
	"github.com/lyndonlyu/sitereset/internal/logging"
)

const version = "0.3.0"

// errReported ends a command whose failure was already written out.
var errReported = errors.New("reported")

var (
	configPath string
	logLevel   string
	actAs      string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sitereset",
	Short: "Factory reset for a hosted WordPress site",
	Long: "sitereset returns a WordPress site to a fresh install while keeping the site\n" +
		"identity, the acting administrator and the hosting connection.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("sitereset v" + version)
	},
}

func defaultConfigPath() string {
	if p := os.Getenv("SITERESET_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "sitereset.yaml"
	}
	return filepath.Join(home, ".sitereset", "config.yaml")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		c.LogLevel = logLevel
	}
	if err := c.Validate(); err != nil {
		return err
	}
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	cfg = c
	logger = logging.New(os.Stderr, level)
	slog.SetDefault(logger)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&actAs, "as", "", "Act as this site user instead of the operator")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, styleError.Render("Error: "+err.Error()))
		}
		os.Exit(1)
	}
}
