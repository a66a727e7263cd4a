// Package config provides configuration types for mcpguard.
//
// A Config names the servers mcpguard operates on, the rules its proxy
// enforces, and where its audit log is persisted. It is loaded from a
// YAML file, overridden by MCPGUARD_-prefixed environment variables and
// CLI flags, and validated before use.
package config

import (
	"os"
)

// Config is the top-level configuration for mcpguard.
type Config struct {
	// Servers lists the MCP servers mcpguard can scan or proxy to.
	Servers []ServerConfig `yaml:"servers" mapstructure:"servers" validate:"omitempty,dive"`

	// Rules are the proxy's block/rate-limit rules, evaluated in
	// ascending Priority order.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`

	// Audit configures where the proxy's audit log is persisted.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Scan configures the scan orchestrator's concurrency and timeouts.
	Scan ScanConfig `yaml:"scan" mapstructure:"scan"`

	// LogLevel sets the minimum log level: debug, info, warn, or error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// DevMode relaxes validation for local iteration (permits an empty
	// server list, for example).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig identifies one MCP server by the command that spawns it.
type ServerConfig struct {
	// Name is unique within the configuration.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	// Command is the executable to spawn.
	Command string `yaml:"command" mapstructure:"command" validate:"required"`
	// Args are the command-line arguments passed to Command.
	Args []string `yaml:"args" mapstructure:"args"`
	// Environment may include secrets; never logged.
	Environment map[string]string `yaml:"environment" mapstructure:"environment"`
	// TransportKind is "stdio" or "http_sse". Defaults to "stdio".
	TransportKind string `yaml:"transport_kind" mapstructure:"transport_kind" validate:"omitempty,oneof=stdio http_sse"`
}

// RuleConfig defines one proxy rule. Kind "block" denies matching calls
// outright; "rate_limit" denies calls once MaxCalls is exhausted within
// WindowSeconds.
type RuleConfig struct {
	// ID is a version-4 UUID. Generated at load time if omitted.
	ID string `yaml:"id" mapstructure:"id"`
	// Kind is "block" or "rate_limit".
	Kind string `yaml:"kind" mapstructure:"kind" validate:"required,oneof=block rate_limit"`
	// Pattern is a glob over the tool name, anchored at both ends.
	Pattern string `yaml:"pattern" mapstructure:"pattern" validate:"required"`
	// Scope is an optional server-name glob; empty means all servers.
	Scope string `yaml:"scope" mapstructure:"scope"`
	// Priority orders evaluation ascending; ties break by config order.
	Priority int `yaml:"priority" mapstructure:"priority"`
	// Enabled rules alone are considered.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Reason is surfaced in the denial response and audit entry.
	Reason string `yaml:"reason" mapstructure:"reason"`
	// Condition is an optional CEL boolean expression over tool/server/args.
	Condition string `yaml:"condition" mapstructure:"condition"`
	// MaxCalls is the call budget per window for rate_limit rules.
	MaxCalls int `yaml:"max_calls" mapstructure:"max_calls" validate:"omitempty,min=1"`
	// WindowSeconds is the sliding window width for rate_limit rules.
	WindowSeconds int `yaml:"window_seconds" mapstructure:"window_seconds" validate:"omitempty,min=1"`
}

// AuditConfig configures audit log persistence.
type AuditConfig struct {
	// StorePath is the sqlite database file path. Empty means in-memory
	// only (the in-memory store still echoes entries to stdout).
	StorePath string `yaml:"store_path" mapstructure:"store_path"`
	// BufferCapacity bounds the in-memory ring buffer used when
	// StorePath is empty. Defaults to 1000.
	BufferCapacity int `yaml:"buffer_capacity" mapstructure:"buffer_capacity" validate:"omitempty,min=1"`
}

// ScanConfig configures the scan orchestrator.
type ScanConfig struct {
	// Concurrency bounds the number of servers scanned in parallel.
	// Defaults to 4.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"omitempty,min=1"`
	// ServerTimeout bounds one server's entire scan (e.g. "30s").
	// Defaults to "30s".
	ServerTimeout string `yaml:"server_timeout" mapstructure:"server_timeout" validate:"omitempty"`
	// SnapshotDir is the directory the description-drift detector uses
	// to persist prior tool description digests. Defaults to
	// "$HOME/.mcpguard/snapshots".
	SnapshotDir string `yaml:"snapshot_dir" mapstructure:"snapshot_dir"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Audit.BufferCapacity == 0 {
		c.Audit.BufferCapacity = 1000
	}
	if c.Scan.Concurrency == 0 {
		c.Scan.Concurrency = 4
	}
	if c.Scan.ServerTimeout == "" {
		c.Scan.ServerTimeout = "30s"
	}
	if c.Scan.SnapshotDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Scan.SnapshotDir = home + "/.mcpguard/snapshots"
		}
	}
	for i := range c.Servers {
		if c.Servers[i].TransportKind == "" {
			c.Servers[i].TransportKind = "stdio"
		}
	}
}
