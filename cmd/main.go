package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"blob2dicomweb/internal/app"
	"blob2dicomweb/internal/config"
	"blob2dicomweb/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "blob2dicomweb",
	Short: "Migrate DICOM files from blob storage to a DICOMweb server",
	Long: `A concurrent migration tool that lists DICOM files in an Azure blob container
or S3 bucket and uploads each one to a DICOMweb server with STOW-RS, retrying
transient failures and reporting throughput.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMigration,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")
	config.RegisterFlags(rootCmd.Flags())
}

func runMigration(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Create application
	migrator, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("Received shutdown signal, gracefully stopping...", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run migration
	err = migrator.Run(ctx)

	// Close migrator resources after migration completes or is cancelled
	if closeErr := migrator.Close(); closeErr != nil {
		log.Error("Error closing migrator", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
