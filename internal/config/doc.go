// Package config handles configuration loading for drover-server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from DROVER_CONFIG environment variable
//  2. ~/.config/drover/server.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  agent_token: "${DROVER_AGENT_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	execution:
//	  poll_interval: "500ms"
//	  progress_grace: "10s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  listen_addr: "0.0.0.0:8080"                 # Agent and API connections
//	  base_url: "http://drover.example.com:8080"  # Address in transfer URLs
//
// Agent authentication:
//
//	auth:
//	  agent_token: "${DROVER_AGENT_TOKEN}"
//
// Database:
//
//	database:
//	  path: "/var/lib/drover/drover.db"
//
// File staging:
//
//	uploads:
//	  dir: "/var/lib/drover/uploads"
//
// Execution timing:
//
//	execution:
//	  poll_interval: "500ms"   # per-attempt result poll
//	  max_attempts: 60         # attempts before a step times out
//	  progress_grace: "10s"    # finished executions stay visible this long
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/drover/server.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
