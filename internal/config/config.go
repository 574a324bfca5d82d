package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultAccountID names the implicit account backed by the top-level
// device fields when no nested accounts are configured.
const DefaultAccountID = "default"

// Config is the root configuration for the whisplay-im bridge. The five
// device fields live at the top level so a single-device setup needs no
// nesting; accounts.<id> entries override them per account.
type Config struct {
	IP      string `json:"ip,omitempty" yaml:"ip,omitempty"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
	WaitSec int    `json:"waitSec" yaml:"waitSec"`
	Emoji   string `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`

	Accounts map[string]AccountOverride `json:"accounts,omitempty" yaml:"accounts,omitempty"`

	General  GeneralConfig  `json:"general" yaml:"general"`
	Pairing  PairingConfig  `json:"pairing" yaml:"pairing"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
}

// AccountOverride carries the per-account shape under accounts.<id>.
// Pointer fields distinguish "not set, inherit the top-level value" from an
// explicit zero value such as enabled: false.
type AccountOverride struct {
	IP      *string `json:"ip,omitempty" yaml:"ip,omitempty"`
	Token   *string `json:"token,omitempty" yaml:"token,omitempty"`
	WaitSec *int    `json:"waitSec,omitempty" yaml:"waitSec,omitempty"`
	Emoji   *string `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	Enabled *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

// PairingConfig controls the gateway-log scan for pairing alerts.
type PairingConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	LogDir          string `json:"logDir" yaml:"logDir"`
	ScanIntervalSec int    `json:"scanIntervalSec" yaml:"scanIntervalSec"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

// PipelineConfig selects the reply pipeline: "echo" answers locally,
// "webhook" forwards each inbound message to a remote URL.
type PipelineConfig struct {
	Mode         string `json:"mode" yaml:"mode"`
	WebhookURL   string `json:"webhookUrl,omitempty" yaml:"webhookUrl,omitempty"`
	WebhookToken string `json:"webhookToken,omitempty" yaml:"webhookToken,omitempty"`
	TimeoutSec   int    `json:"timeoutSec,omitempty" yaml:"timeoutSec,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.whisplayim).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".whisplayim"
	}
	return filepath.Join(home, ".whisplayim")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := unmarshal(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Pairing.LogDir = ExpandPath(cfg.Pairing.LogDir)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.WaitSec < 1 || cfg.WaitSec > 300 {
		errs = append(errs, "waitSec must be between 1 and 300")
	}
	for id, acct := range cfg.Accounts {
		if acct.WaitSec != nil && (*acct.WaitSec < 1 || *acct.WaitSec > 300) {
			errs = append(errs, fmt.Sprintf("accounts.%s.waitSec must be between 1 and 300", id))
		}
	}

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Pairing.ScanIntervalSec < 1 {
		errs = append(errs, "pairing.scanIntervalSec must be >= 1")
	}
	if cfg.Journal.RetentionDays < 1 {
		errs = append(errs, "journal.retentionDays must be >= 1")
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}

	switch cfg.Pipeline.Mode {
	case "echo", "webhook":
		// valid
	default:
		errs = append(errs, "pipeline.mode must be one of: echo, webhook")
	}
	if cfg.Pipeline.Mode == "webhook" && cfg.Pipeline.WebhookURL == "" {
		errs = append(errs, "pipeline.webhookUrl is required for webhook mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
