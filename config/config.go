package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the daemon configuration loaded from a TOML file.
type Config struct {
	RPCAddress            string `toml:"RPCAddress"`
	DataDir               string `toml:"DataDir"`
	NetworkName           string `toml:"NetworkName"`
	ApproveTimeoutSeconds int64  `toml:"ApproveTimeoutSeconds"`
	TelemetryEndpoint     string `toml:"TelemetryEndpoint"`
	TelemetryTraces       bool   `toml:"TelemetryTraces"`
	TelemetryMetrics      bool   `toml:"TelemetryMetrics"`
	TelemetryInsecure     bool   `toml:"TelemetryInsecure"`
}

const defaultApproveTimeoutSeconds int64 = 7 * 24 * 60 * 60

// Load loads the configuration from the given path. A missing file is
// created with commented defaults so a fresh deployment starts from a
// readable template.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./paylock-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "paylock-local"
	}
	if cfg.ApproveTimeoutSeconds <= 0 {
		cfg.ApproveTimeoutSeconds = defaultApproveTimeoutSeconds
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create default config: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "# paylock daemon configuration"); err != nil {
		return nil, err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}
