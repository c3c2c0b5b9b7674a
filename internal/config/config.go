// Package config handles loading, validating, and writing the GovLedger
// configuration from ~/.govledger/config.yaml.
//
// The config defines:
//   - Server bind address for the live stream (host:port)
//   - Ledger backend (file or memory) and its bounds
//   - Query index toggle
//   - Governance defaults (trust levels)
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level GovLedger configuration. Loaded from
// ~/.govledger/config.yaml, with sensible defaults for fields that are
// not explicitly set.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audit      AuditConfig      `yaml:"audit"`
	Governance GovernanceConfig `yaml:"governance"`
}

// ServerConfig defines where `govledger serve` listens.
// Default: 127.0.0.1:3800 (loopback only — never bind to 0.0.0.0).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuditConfig controls the decision ledger.
//
// Backend "file" persists to ledger.jsonl in the state directory and
// survives restarts. Backend "memory" keeps at most maxRecords entries
// and forgets everything on exit — useful for tests and ephemeral runs.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`

	// MaxRecords bounds the memory backend. Ignored by the file backend.
	MaxRecords int `yaml:"maxRecords"`

	// Index enables the SQLite query index alongside the file ledger.
	Index bool `yaml:"index"`
}

// GovernanceConfig holds defaults for the decision pipeline.
type GovernanceConfig struct {
	// DefaultTrustLevel applies to agents with no explicit assignment
	// (0-5, observer through autonomous).
	DefaultTrustLevel int `yaml:"defaultTrustLevel"`

	// RequiredTrustLevel is demanded of actions that don't specify
	// their own requirement.
	RequiredTrustLevel int `yaml:"requiredTrustLevel"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. Normal on first run before
			// `govledger` setup creates the file.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated and
// a comment header. Used by first-run setup and `govledger config generate`.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# GovLedger Configuration
#
# server:
#   host: Bind address for 'govledger serve' (default: 127.0.0.1, loopback only)
#   port: Listen port (default: 3800)
#
# audit:
#   enabled: false disables the ledger entirely (decisions are not recorded)
#   backend: "file" (persistent, verifiable to genesis) or "memory" (bounded, volatile)
#   maxRecords: retention bound for the memory backend
#   index: maintain a SQLite query index alongside the file ledger
#
# governance:
#   defaultTrustLevel: level for agents without an assignment (0-5)
#   requiredTrustLevel: level demanded of actions without their own requirement

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their defaults.
func applyDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3800,
		},
		Audit: AuditConfig{
			Enabled: true,
			Backend: "file",
			// Only used when backend is switched to memory.
			MaxRecords: 10000,
			Index:      true,
		},
		Governance: GovernanceConfig{
			DefaultTrustLevel:  0,
			RequiredTrustLevel: 2,
		},
	}
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}

	switch cfg.Audit.Backend {
	case "file":
	case "memory":
		if cfg.Audit.MaxRecords <= 0 {
			return fmt.Errorf("audit.maxRecords must be positive for the memory backend")
		}
	default:
		return fmt.Errorf("audit.backend %q unknown (file or memory)", cfg.Audit.Backend)
	}

	if cfg.Governance.DefaultTrustLevel < 0 || cfg.Governance.DefaultTrustLevel > 5 {
		return fmt.Errorf("governance.defaultTrustLevel %d out of range (0-5)", cfg.Governance.DefaultTrustLevel)
	}
	if cfg.Governance.RequiredTrustLevel < 0 || cfg.Governance.RequiredTrustLevel > 5 {
		return fmt.Errorf("governance.requiredTrustLevel %d out of range (0-5)", cfg.Governance.RequiredTrustLevel)
	}

	return nil
}
