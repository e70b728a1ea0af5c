// Package config loads loomd configuration from JSONC files and environment
// variables, and manages the default agent roster.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"
)

// Config holds loomd configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `json:"port"`
	// Hostname is the HTTP listen address.
	Hostname string `json:"hostname"`
	// DataDir is the base directory for session logs. Empty means in-memory
	// logs only.
	DataDir string `json:"dataDir"`
	// AgentsFile optionally names a JSON or YAML file with the default agent
	// roster, hot-reloaded on change.
	AgentsFile string `json:"agentsFile"`
	// ApprovalTimeout bounds how long a tool-use approval may stay pending.
	ApprovalTimeout Duration `json:"approvalTimeout"`
	// LogLevel is DEBUG|INFO|WARN|ERROR.
	LogLevel string `json:"logLevel"`
	// EnableCORS toggles permissive CORS on the HTTP API.
	EnableCORS bool `json:"enableCORS"`
}

// Duration is a time.Duration that unmarshals from Go duration strings
// ("5m") or integer milliseconds.
type Duration time.Duration

// UnmarshalJSON accepts "5m" or 300000.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("config: invalid duration: %w", err)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalJSON writes the Go duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Port:            8080,
		Hostname:        "127.0.0.1",
		ApprovalTimeout: Duration(5 * time.Minute),
		LogLevel:        "INFO",
		EnableCORS:      true,
	}
}

// Load builds the configuration (later sources win):
//  1. built-in defaults
//  2. loom.json / loom.jsonc in dir (when dir is non-empty)
//  3. the file named by LOOM_CONFIG
//  4. environment variables
func Load(dir string) (*Config, error) {
	cfg := Default()

	if dir != "" {
		for _, name := range []string{"loom.json", "loom.jsonc"} {
			if err := loadFile(filepath.Join(dir, name), cfg); err != nil {
				return nil, err
			}
		}
	}
	if path := os.Getenv("LOOM_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// loadFile merges one config file into cfg. A missing file is not an error.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	// Strip JSONC comments, then interpolate {env:VAR} placeholders.
	data = jsonc.ToJSON(data)
	data = interpolate(data)

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate replaces {env:VAR_NAME} placeholders with environment values.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// applyEnv overlays LOOM_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LOOM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("LOOM_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("LOOM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOOM_AGENTS_FILE"); v != "" {
		cfg.AgentsFile = v
	}
	if v := os.Getenv("LOOM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOOM_APPROVAL_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.ApprovalTimeout = Duration(parsed)
		}
	}
}
