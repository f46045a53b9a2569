// cmd/server/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/participadf/ouvidoria/internal/app"
	"github.com/participadf/ouvidoria/internal/config"
	"github.com/participadf/ouvidoria/internal/storage"
	"github.com/participadf/ouvidoria/internal/utils"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "participa",
	Short: "Participa DF ouvidoria API with the IZA drafting assistant",
	Long: `Serves the manifestation intake API and the IZA assistant, which helps
citizens draft a manifestation through a short conversation.

Run without arguments to start the HTTP server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE:  runMigrate,
}

var izaHealthCmd = &cobra.Command{
	Use:   "iza-health",
	Short: "Check that the configured generator serves the configured model",
	RunE:  runIzaHealth,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(serveCmd, migrateCmd, izaHealthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.DebugMode = true
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := utils.GetLogger()
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "participa.log")); err != nil {
		logger.Warn("file logging disabled", map[string]interface{}{"error": err.Error()})
	}
	defer logger.Sync()

	a, err := app.New(cfg)
	if err != nil {
		logger.Error("startup failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting server", map[string]interface{}{
		"app":      cfg.AppName,
		"port":     cfg.Port,
		"provider": cfg.Generator.Provider,
		"model":    cfg.Generator.Model,
	})
	return a.Run(ctx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// NewSQLiteStore applies the schema
	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "schema up to date: %s\n", cfg.DatabasePath)
	return nil
}

func runIzaHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	status := a.Generator.Health(cmd.Context())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		return err
	}
	if !status.OK {
		return fmt.Errorf("generator not ready: %s", status.Error)
	}
	return nil
}
