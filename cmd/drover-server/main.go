// ABOUTME: Entry point for the drover coordinator server.
// ABOUTME: Wires config, store, registry, dispatcher, runner and HTTP surface together.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/drover-hq/drover/internal/agent"
	"github.com/drover-hq/drover/internal/config"
	"github.com/drover-hq/drover/internal/dispatch"
	"github.com/drover-hq/drover/internal/script"
	"github.com/drover-hq/drover/internal/server"
	"github.com/drover-hq/drover/internal/store"
	"github.com/drover-hq/drover/internal/transfer"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _
  __| |_ __ _____   _____ _ __
 / _' | '__/ _ \ \ / / _ \ '__|
| (_| | | | (_) \ V /  __/ |
 \__,_|_|  \___/ \_/ \___|_|
`

// getConfigPath returns the path to the server config file.
// Priority: DROVER_CONFIG env var > XDG_CONFIG_HOME/drover/server.yaml > ~/.config/drover/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DROVER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "drover", "server.yaml")
}

// getDataPath returns the path to the drover data directory.
// Priority: XDG_DATA_HOME/drover > ~/.local/share/drover
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "drover")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: drover-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the coordinator server")
		fmt.Println("  init      Create a new config file interactively")
		fmt.Println("  agents    List known agents")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "agents":
		err = runAgents(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Listen:   %s\n", cfg.Server.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Base URL: %s\n", cfg.Server.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting drover-server",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"base_url", cfg.Server.BaseURL,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	staging, err := transfer.NewStaging(cfg.Server.BaseURL, cfg.Uploads.Dir, logger)
	if err != nil {
		return fmt.Errorf("creating staging area: %w", err)
	}

	registry := agent.NewRegistry(logger)
	results := dispatch.NewResultStore()
	dispatcher := dispatch.NewDispatcher(registry, logger)
	tracker := script.NewTracker(cfg.Execution.ProgressGrace, logger)

	runner := script.NewRunner(script.RunnerParams{
		Dispatcher:   dispatcher,
		Results:      results,
		Presence:     registry,
		Staging:      staging,
		Tracker:      tracker,
		Store:        st,
		Logger:       logger,
		PollInterval: cfg.Execution.PollInterval,
		MaxAttempts:  cfg.Execution.MaxAttempts,
	})

	srv := server.New(server.Params{
		Registry:   registry,
		Dispatcher: dispatcher,
		Results:    results,
		Runner:     runner,
		Tracker:    tracker,
		Store:      st,
		Staging:    staging,
		AuthToken:  cfg.Auth.AgentToken,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runAgents(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("%s/api/agents", cfg.Server.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("agents check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("drover-server configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "drover.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	listenAddr := prompt(reader, "Listen address", "0.0.0.0:8080")
	baseURL := prompt(reader, "Base URL agents reach the server at", "http://"+listenAddr)

	fmt.Println("\n--- Agent Authentication ---")
	agentToken := prompt(reader, "Agent token", "")
	if agentToken == "" {
		return fmt.Errorf("agent token is required")
	}

	fmt.Println("\n--- Storage ---")
	dbPath := prompt(reader, "Database path", defaultDbPath)
	uploadsDir := prompt(reader, "Uploads directory", "uploads")

	content := fmt.Sprintf(`server:
  listen_addr: %q
  base_url: %q

auth:
  agent_token: %q

database:
  path: %q

uploads:
  dir: %q

execution:
  poll_interval: 500ms
  max_attempts: 60
  progress_grace: 10s

logging:
  level: info
  format: text
`, listenAddr, baseURL, agentToken, dbPath, uploadsDir)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("\nWrote %s\n", outputFile)
	fmt.Println("Start the server with: drover-server serve")
	return nil
}

func prompt(reader *bufio.Reader, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return defaultValue
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	return input
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{out: os.Stdout, level: level}
	}

	return slog.New(handler)
}
