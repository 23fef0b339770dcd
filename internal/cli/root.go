package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietvoice/prism/internal/config"
	"github.com/quietvoice/prism/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "prism",
	Short: "Temporal state engine for life incidents",
	Long: "Prism tracks significant life incidents mentioned in conversation, scores them,\n" +
		"and decays their relevance over time so a conversational layer knows what still matters.",
}

var configPath string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(incidentsCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(sweepCmd)
}

// loadConfig resolves the effective configuration for a command.
func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openStore opens the configured database, falling back to the default path.
func openStore(cfg *config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	return store.Open(dbPath)
}
