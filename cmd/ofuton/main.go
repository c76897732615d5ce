// Package main is the entry point for the ofuton object storage server and
// its maintenance commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hideki0403/ofuton/internal/cli"
	"github.com/hideki0403/ofuton/internal/config"
	"github.com/hideki0403/ofuton/internal/logging"
	"github.com/hideki0403/ofuton/internal/metadata"
	"github.com/hideki0403/ofuton/internal/metrics"
	"github.com/hideki0403/ofuton/internal/server"
	"github.com/hideki0403/ofuton/internal/storage"
	"github.com/hideki0403/ofuton/internal/telemetry"
)

// shutdownTimeout bounds graceful shutdown after SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

func main() {
	var configPath string
	var assumeYes bool

	rootCmd := &cobra.Command{
		Use:     "ofuton",
		Short:   "S3-compatible object storage service",
		Version: server.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.toml", "path to the configuration file")

	migrateCmd := &cobra.Command{
		Use:   "migrate <OLD_DIR_PATH>",
		Short: "Migrate objects from a legacy directory tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := setup(configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return cli.Migrate(cmd.Context(), store, cfg.Bucket.Path, args[0], assumeYes)
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <METADATA_TSV_PATH>",
		Short: "Import object metadata from a TSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := setup(configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return cli.Import(cmd.Context(), store, args[0], assumeYes)
		},
	}

	for _, cmd := range []*cobra.Command{migrateCmd, importCmd} {
		cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration, configures logging and telemetry, and opens
// the metadata store.
func setup(configPath string) (*config.Config, metadata.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logging.Setup(cfg.Debug.LogLevel, os.Stderr)
	if err := telemetry.Init(cfg.Sentry.DSN, "ofuton@"+server.Version); err != nil {
		return nil, nil, err
	}

	store, err := openMetadataStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

// openMetadataStore opens the metadata store selected by the database
// provider.
func openMetadataStore(cfg *config.Config) (metadata.Store, error) {
	switch cfg.Database.Provider {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating metadata directory: %w", err)
		}
		return metadata.NewSQLiteStore(cfg.Database.SQLite.Path)
	case "sqlite_memory":
		return metadata.NewMemorySQLiteStore()
	case "postgres":
		return metadata.NewPostgresStore(cfg.PostgresDSN())
	}
	return nil, fmt.Errorf("unknown database provider %q", cfg.Database.Provider)
}

// runServe starts the HTTP server and blocks until a shutdown signal or a
// fatal server error.
func runServe(configPath string) error {
	cfg, meta, err := setup(configPath)
	if err != nil {
		return err
	}
	defer meta.Close()
	defer telemetry.Flush()

	blobs, err := storage.NewBlobStore(cfg.Bucket.Path)
	if err != nil {
		return err
	}
	// Multipart sessions do not survive a restart; their part files are
	// garbage from here on.
	if err := blobs.CleanMultipartDir(); err != nil {
		return err
	}

	metrics.Register()

	ttl := time.Duration(cfg.Bucket.RequestExpirationSeconds) * time.Second
	store := storage.New(meta, blobs, ttl)
	srv := server.New(cfg, store)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ofuton listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")
		return nil

	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
