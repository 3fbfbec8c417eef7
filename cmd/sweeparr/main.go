// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/sweeparr/internal/buildinfo"
	"github.com/autobrr/sweeparr/internal/config"
	"github.com/autobrr/sweeparr/internal/database"
	"github.com/autobrr/sweeparr/internal/metrics"
	"github.com/autobrr/sweeparr/internal/models"
	"github.com/autobrr/sweeparr/internal/services/cleaner"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "sweeparr",
		Short: "Automated download queue cleanup for Sonarr, Radarr, Lidarr and Readarr",
		Long: `sweeparr - Watches the download queues of your *arr services and removes
failed, stalled and stuck downloads based on configurable rules, with a
strike system that protects slow-but-alive downloads from premature removal.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunCleanCommand())
	rootCmd.AddCommand(RunPreviewCommand())
	rootCmd.AddCommand(RunInstanceCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the cleaner scheduler",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/sweeparr/ or %APPDATA%\\sweeparr\\). For backward compatibility, can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath)
		app.runScheduler()
	}

	return command
}

func RunCleanCommand() *cobra.Command {
	var (
		configDir  string
		dataDir    string
		instanceID int
	)

	command := &cobra.Command{
		Use:   "run",
		Short: "Run the queue cleaner once for an instance",
		Long: `Run one cleaner pass immediately, honoring the instance's dry-run mode,
and print the resulting report as JSON. Disabled instances can still be run
manually this way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(configDir, dataDir)
			if err != nil {
				return err
			}
			defer env.close()

			result, err := env.service.ExecuteQueueCleaner(cmd.Context(), instanceID)
			if result != nil {
				printJSON(cmd, result)
			}
			return err
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files")
	command.Flags().IntVar(&instanceID, "instance", 0, "instance id to clean (required)")
	command.MarkFlagRequired("instance")

	return command
}

func RunPreviewCommand() *cobra.Command {
	var (
		configDir  string
		dataDir    string
		instanceID int
	)

	command := &cobra.Command{
		Use:   "preview",
		Short: "Show what a live cleaner run would do, without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(configDir, dataDir)
			if err != nil {
				return err
			}
			defer env.close()

			result, err := env.service.ExecuteEnhancedPreview(cmd.Context(), instanceID)
			if err != nil {
				return err
			}
			printJSON(cmd, result)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files")
	command.Flags().IntVar(&instanceID, "instance", 0, "instance id to preview (required)")
	command.MarkFlagRequired("instance")

	return command
}

func RunInstanceCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "instance",
		Short: "Manage registered *arr instances",
	}

	command.AddCommand(runInstanceAddCommand())
	command.AddCommand(runInstanceListCommand())
	command.AddCommand(runInstanceRemoveCommand())
	command.AddCommand(runInstanceActiveCommand("enable", true))
	command.AddCommand(runInstanceActiveCommand("disable", false))

	return command
}

func runInstanceAddCommand() *cobra.Command {
	var configDir, dataDir, name, serviceType, host, apiKey string

	command := &cobra.Command{
		Use:   "add",
		Short: "Register a new *arr instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedType, err := models.ParseServiceType(serviceType)
			if err != nil {
				return err
			}

			if apiKey == "" {
				apiKey, err = readSecret("Enter API key: ")
				if err != nil {
					return err
				}
			}

			env, err := newEnvironment(configDir, dataDir)
			if err != nil {
				return err
			}
			defer env.close()

			instance, err := env.instanceStore.Create(cmd.Context(), name, parsedType, host, apiKey)
			if err != nil {
				return fmt.Errorf("failed to create instance: %w", err)
			}

			cmd.Printf("Instance '%s' (%s) created with ID: %d\n", instance.Name, instance.ServiceType, instance.ID)
			cmd.Println("The cleaner starts disabled and in dry-run mode; enable it once the preview looks right.")
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files")
	command.Flags().StringVar(&name, "name", "", "instance display name (required)")
	command.Flags().StringVar(&serviceType, "type", "", "service type: sonarr, radarr, lidarr or readarr (required)")
	command.Flags().StringVar(&host, "host", "", "instance URL, e.g. http://localhost:8989 (required)")
	command.Flags().StringVar(&apiKey, "api-key", "", "instance API key (prompted if not provided)")
	command.MarkFlagRequired("name")
	command.MarkFlagRequired("type")
	command.MarkFlagRequired("host")

	return command
}

func runInstanceListCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "list",
		Short: "List registered *arr instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(configDir, dataDir)
			if err != nil {
				return err
			}
			defer env.close()

			instances, err := env.instanceStore.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list instances: %w", err)
			}

			if len(instances) == 0 {
				cmd.Println("No instances registered. Add one with: sweeparr instance add")
				return nil
			}

			for _, instance := range instances {
				state := "active"
				if !instance.IsActive {
					state = "inactive"
				}
				cmd.Printf("%d\t%s\t%s\t%s\t%s\n", instance.ID, instance.Name, instance.ServiceType, instance.Host, state)
			}
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files")

	return command
}

func runInstanceRemoveCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a registered *arr instance and its cleaner state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid instance id %q", args[0])
			}

			env, err := newEnvironment(configDir, dataDir)
			if err != nil {
				return err
			}
			defer env.close()

			if err := env.instanceStore.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to remove instance: %w", err)
			}

			cmd.Printf("Instance %d removed\n", id)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files")

	return command
}

func runInstanceActiveCommand(use string, active bool) *cobra.Command {
	var configDir, dataDir string

	short := "Enable a registered *arr instance"
	if !active {
		short = "Disable a registered *arr instance"
	}

	command := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid instance id %q", args[0])
			}

			env, err := newEnvironment(configDir, dataDir)
			if err != nil {
				return err
			}
			defer env.close()

			instance, err := env.instanceStore.SetActiveState(cmd.Context(), id, active)
			if err != nil {
				return fmt.Errorf("failed to update instance: %w", err)
			}

			cmd.Printf("Instance '%s' is now %s\n", instance.Name, use+"d")
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files")

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sweeparr",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the scheduler.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/sweeparr/config.toml
- Windows: %APPDATA%\sweeparr\config.toml

You can specify either a directory path or a direct file path:
- Directory: sweeparr generate-config --config-dir /path/to/config/
- File: sweeparr generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func readSecret(prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(secret), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	var secret string
	if _, err := fmt.Scanln(&secret); err != nil {
		return "", fmt.Errorf("failed to read secret from stdin: %w", err)
	}
	return secret, nil
}

func printJSON(cmd *cobra.Command, v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		cmd.PrintErrf("failed to encode output: %v\n", err)
		return
	}
	cmd.Println(string(out))
}

// environment is the shared wiring every CLI command needs: config, database
// and stores, plus the cleaner service on top.
type environment struct {
	cfg           *config.AppConfig
	db            *database.DB
	instanceStore *models.InstanceStore
	configStore   *models.CleanerConfigStore
	strikeStore   *models.StrikeStore
	service       *cleaner.Service
}

func newEnvironment(configDir, dataDir string) (*environment, error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	instanceStore, err := models.NewInstanceStore(db, cfg.GetEncryptionKey())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize instance store: %w", err)
	}

	configStore := models.NewCleanerConfigStore(db)
	strikeStore := models.NewStrikeStore(db)
	service := cleaner.NewService(instanceStore, configStore, strikeStore, cfg.Config.ArrTimeoutSeconds)

	return &environment{
		cfg:           cfg,
		db:            db,
		instanceStore: instanceStore,
		configStore:   configStore,
		strikeStore:   strikeStore,
		service:       service,
	}, nil
}

func (e *environment) close() {
	if e.db != nil {
		e.db.Close()
	}
}

// Application carries the serve command's CLI flag overrides.
type Application struct {
	configDir string
	dataDir   string
	logPath   string
}

func NewApplication(configDir, dataDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
	}
}

func (app *Application) runScheduler() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("SWEEPARR__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("SWEEPARR__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting sweeparr")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	instanceStore, err := models.NewInstanceStore(db, cfg.GetEncryptionKey())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize instance store")
	}
	configStore := models.NewCleanerConfigStore(db)
	strikeStore := models.NewStrikeStore(db)

	service := cleaner.NewService(instanceStore, configStore, strikeStore, cfg.Config.ArrTimeoutSeconds)
	scheduler := cleaner.NewScheduler(service, time.Duration(cfg.Config.CleanerIntervalMins)*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler.Start(ctx)

	errorChannel := make(chan error)

	if cfg.Config.MetricsEnabled {
		go func() {
			metricsServer := metrics.NewServer(cfg.Config.MetricsHost, cfg.Config.MetricsPort)
			errorChannel <- metricsServer.ListenAndServe()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from metrics server")
	}

	cancel()
	os.Exit(0)
}
