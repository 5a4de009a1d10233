package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"s3indexer/internal/app"
	"s3indexer/internal/config"
	"s3indexer/internal/logger"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "s3indexer",
	Short: "Emit indexer invocations for new objects in fence buckets",
	Long: `Enumerates objects in the data upload bucket (via the indexd database) and in
external buckets (via bucket listings), and writes one shell command per object
that should be indexed to stdout. Attempts are tracked in a local SQLite database
so objects are retried with backoff and eventually given up on.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMode(app.ModeAll),
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Only process the data upload bucket",
	RunE:  runMode(app.ModeUpload),
}

var externalCmd = &cobra.Command{
	Use:   "external",
	Short: "Only process external buckets",
	RunE:  runMode(app.ModeExternal),
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "List every bucket from its saved offset without retry tracking",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndexer(cmd, func(ctx context.Context, ix *app.Indexer) error {
			_, err := ix.Inventory(ctx)
			return err
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <url>...",
	Short: "Show tracked attempts and the current decision for s3:// urls",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndexer(cmd, func(ctx context.Context, ix *app.Indexer) error {
			items, err := ix.Inspect(ctx, args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, item := range items {
				if err := enc.Encode(item); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(uploadCmd, externalCmd, inventoryCmd, inspectCmd)
}

func runMode(mode app.Mode) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withIndexer(cmd, func(ctx context.Context, ix *app.Indexer) error {
			_, err := ix.Run(ctx, mode)
			return err
		})
	}
}

// withIndexer loads the configuration, builds the indexer and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withIndexer(cmd *cobra.Command, fn func(context.Context, *app.Indexer) error) error {
	cfg, warnings, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	for _, w := range warnings {
		log.Warn("Config warning", zap.String("warning", w))
	}

	indexer, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, stopping after the current object")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = fn(ctx, indexer)

	if closeErr := indexer.Close(); closeErr != nil {
		log.Error("Error closing indexer", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
