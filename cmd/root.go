package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"wgsession/internal/config"
	"wgsession/internal/storage"
	"wgsession/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath = "config.yml"
	skipConfig = false
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "wgsession",
	Short:        "WireGuard tunnel session manager.",
	Long:         "wgsession brings a WireGuard tunnel up and down from a profile, asks once for permission and reports the running state.",
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// resolveConfig or exit with error. A missing default config file falls
// back to the environment; an explicit --config must exist.
func resolveConfig() *config.Config {
	skip := skipConfig
	if !skip && !rootCmd.PersistentFlags().Changed("config") {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			skip = true
		}
	}

	cfg, err := config.New(configPath, skip)
	if err != nil {
		fmt.Printf("unable to initialize config: %s\n", err.Error())
		os.Exit(1)
	}

	if skipConfig {
		fmt.Fprintln(os.Stderr, "Skipped file-based configuration, using only ENV")
	}

	return cfg
}

// env is what every command works with once config and logging are set up.
type env struct {
	cfg   *config.Config
	store *storage.AppStorage
}

func setup() (*env, error) {
	cfg := resolveConfig()

	store, err := storage.NewAppStorage(cfg.Storage.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	if !filepath.IsAbs(cfg.Logger.Dir) {
		cfg.Logger.Dir = filepath.Join(store.BaseDir(), cfg.Logger.Dir)
	}
	if cfg.Debug {
		cfg.Logger.Level = "debug"
	}
	zap.ReplaceGlobals(logger.New(cfg.Logger).Desugar())
	logger.Logrus(cfg.Logger)

	return &env{cfg: cfg, store: store}, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yml", "path to yml config")
	rootCmd.PersistentFlags().BoolVar(&skipConfig, "skip-config", false, "skips config and uses ENV only")
}
