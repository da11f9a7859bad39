// ABOUTME: Entry point for the drover agent.
// ABOUTME: Maintains the persistent coordinator connection and executes commands.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Version is set by goreleaser at build time.
var version = "dev"

// reconnectDelay is the fixed pause between connection attempts.
const reconnectDelay = 5 * time.Second

// agentConfig is the agent's environment-driven configuration.
type agentConfig struct {
	ServerURL string // websocket endpoint, e.g. ws://host:8080/ws
	Token     string
	Alias     string
	DataDir   string
	LogFile   string
	Heartbeat time.Duration
}

func loadConfig() (agentConfig, error) {
	// A .env next to the binary or in the working directory is optional.
	_ = godotenv.Load()

	cfg := agentConfig{
		ServerURL: os.Getenv("DROVER_SERVER_URL"),
		Token:     os.Getenv("DROVER_TOKEN"),
		Alias:     os.Getenv("DROVER_ALIAS"),
		DataDir:   os.Getenv("DROVER_DATA_DIR"),
		LogFile:   os.Getenv("DROVER_LOG_FILE"),
		Heartbeat: 30 * time.Second,
	}

	if cfg.ServerURL == "" {
		return cfg, fmt.Errorf("DROVER_SERVER_URL is required")
	}
	if cfg.Token == "" {
		return cfg, fmt.Errorf("DROVER_TOKEN is required")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "agent.log")
	}
	if v := os.Getenv("DROVER_HEARTBEAT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing DROVER_HEARTBEAT %q: %w", v, err)
		}
		cfg.Heartbeat = d
	}
	return cfg, nil
}

func defaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "drover-agent-data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "drover-agent")
}

// loadAgentID returns the persisted agent identity, minting and persisting
// one on first run. Identity survives restarts so the coordinator sees the
// same agent reconnect, not a new one.
func loadAgentID(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}

	idPath := filepath.Join(dataDir, "agent_id")
	if data, err := os.ReadFile(idPath); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.WriteFile(idPath, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("persisting agent id: %w", err)
	}
	return id, nil
}

func setupLogger(logFile string) *slog.Logger {
	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}
	w := io.MultiWriter(os.Stdout, rotating)
	return slog.New(slog.NewTextHandler(w, nil))
}

// localAddresses returns the machine's non-loopback IP addresses.
func localAddresses() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		out = append(out, ipNet.IP.String())
	}
	return out
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	agentID, err := loadAgentID(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogFile)
	logger.Info("drover-agent starting",
		"version", version,
		"agent_id", agentID,
		"server", cfg.ServerURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for {
		err := runSession(ctx, cfg, agentID, logger)
		switch {
		case errors.Is(err, errRestart):
			logger.Info("exiting for restart after update")
			return
		case errors.Is(err, errAuthRejected):
			logger.Error("registration rejected, not retrying", "error", err)
			os.Exit(1)
		case err != nil:
			logger.Warn("connection lost", "error", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("drover-agent stopping")
			return
		case <-time.After(reconnectDelay):
		}
	}
}
