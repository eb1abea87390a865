// Package cli provides the command-line interface for labtree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/noahchander/labtree/internal/config"
	"github.com/noahchander/labtree/internal/db"
	"github.com/noahchander/labtree/internal/llm"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and db client
	cfg        config.Config
	dbClient   *db.Client
	logCleanup func() error
)

var rootCmd = &cobra.Command{
	Use:   "labtree",
	Short: "Extract experiment workflow trees from research documents",
	Long: `Labtree turns structured research documents (papers, protocols,
transcripts) into experiment workflow trees: thematic blocks of atomic
protocol, data, analysis, and result nodes with typed dependencies.

Extracted nodes are stored as proposals awaiting review; nothing is
accepted automatically.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		var logger *slog.Logger
		logger, logCleanup = config.NewLogger(cfg)
		slog.SetDefault(logger)

		ctx := context.Background()
		dbClient, err = db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

// buildChain creates the ordered provider chain from configuration:
// primary first, fallback second when distinct. Configured providers
// whose credentials are absent are skipped; if neither survives, the
// chain is built from whichever keyed backend is available.
func buildChain() (*llm.Chain, error) {
	var names []string
	add := func(name string) {
		if name == "" {
			return
		}
		if !hasCredentials(name) {
			slog.Warn("skipping provider without credentials", "provider", name)
			return
		}
		for _, n := range names {
			if n == name {
				return
			}
		}
		names = append(names, name)
	}

	add(cfg.PrimaryProvider)
	add(cfg.FallbackProvider)
	if len(names) == 0 {
		add(config.ProviderOpenAI)
		add(config.ProviderAnthropic)
	}
	if len(names) == 0 {
		return nil, config.ErrNoCredentials
	}

	var providers []llm.Provider
	for _, name := range names {
		p, err := llm.NewProvider(cfg, name)
		if err != nil {
			return nil, fmt.Errorf("init provider %s: %w", name, err)
		}
		providers = append(providers, p)
	}
	return llm.NewChain(llm.IsRetryable, providers...), nil
}

// hasCredentials reports whether the named backend can authenticate.
// Ollama and Bedrock resolve their credentials outside labtree config.
func hasCredentials(name string) bool {
	switch name {
	case config.ProviderOpenAI:
		return cfg.OpenAIAPIKey != ""
	case config.ProviderAnthropic:
		return cfg.AnthropicAPIKey != ""
	}
	return true
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
