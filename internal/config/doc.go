// Package config handles configuration loading for concord-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CONCORD_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	registry:
//	  heartbeat_expiry: "90s"
//	  sweep_interval: "1m"
//	  sweep_grace: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API, agent registry, profiles
//
// Database:
//
//	database:
//	  path: "/var/lib/concord/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${CONCORD_JWT_SECRET}"
//
// Registry timing:
//
//	registry:
//	  heartbeat_expiry: "90s"
//	  sweep_interval: "1m"
//	  sweep_grace: "5m"
//
// Collaboration pipeline:
//
//	collab:
//	  selector_timeout: "5s"
//	  request_deadline: "30s"
//
// Telemetry:
//
//	telemetry:
//	  enabled: false
//	  endpoint: "http://collector:9090/events"
//	  buffer: 256
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/concord/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
