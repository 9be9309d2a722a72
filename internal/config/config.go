package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models teamledger.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		// TokenTTLMinutes bounds session token lifetime; 0 means 12h.
		TokenTTLMinutes int `yaml:"token_ttl_minutes"`
		// AllowLegacyUserHeader accepts the reference client's X-User-ID
		// header in place of a bearer token.
		AllowLegacyUserHeader bool `yaml:"allow_legacy_user_header"`
	} `yaml:"auth"`
	Reports ReportsConfig `yaml:"reports"`
}

// ReportsConfig configures the report synthesizer and its text-generation
// backend.
type ReportsConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// Windows are expressed in hours; zero falls back to the defaults
	// (daily 24h, weekly 168h).
	DailyWindowHours  int `yaml:"daily_window_hours"`
	WeeklyWindowHours int `yaml:"weekly_window_hours"`
	// RiskBlockerThreshold flags a project as at-risk when more than this
	// many blocker-bearing logs land within the weekly window.
	RiskBlockerThreshold int `yaml:"risk_blocker_threshold"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Auth.TokenTTLMinutes < 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must not be negative")
	}
	if c.Reports.DailyWindowHours < 0 || c.Reports.WeeklyWindowHours < 0 {
		return fmt.Errorf("config.reports window hours must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "teamledger.yml")
}

// Default returns the default config.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/api"
	cfg.Auth.TokenTTLMinutes = 12 * 60
	cfg.Auth.AllowLegacyUserHeader = true
	cfg.Reports.Model = "gpt-4o"
	cfg.Reports.DailyWindowHours = 24
	cfg.Reports.WeeklyWindowHours = 7 * 24
	cfg.Reports.RiskBlockerThreshold = 3
	return &cfg
}
