package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const ConfigFileName = ".sponsorcoin.json"

// Store backends.
const (
	BackendFile    = "file"
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

// Format is the encoding of a config file, picked from its extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor returns the encoding used for path.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// AccountConfig seeds an account list at startup.
type AccountConfig struct {
	Address string `json:"address" yaml:"address" toml:"address"`
	Role    string `json:"role" yaml:"role" toml:"role"`
}

// Config holds the application settings.
type Config struct {
	WalletRPCURL     string          `json:"wallet_rpc_url" yaml:"wallet_rpc_url" toml:"wallet_rpc_url"`
	BalanceRPCURL    string          `json:"balance_rpc_url,omitempty" yaml:"balance_rpc_url,omitempty" toml:"balance_rpc_url,omitempty"`
	MetadataURL      string          `json:"metadata_url" yaml:"metadata_url" toml:"metadata_url"`
	StoreBackend     string          `json:"store_backend" yaml:"store_backend" toml:"store_backend"`
	StorePath        string          `json:"store_path,omitempty" yaml:"store_path,omitempty" toml:"store_path,omitempty"`
	HydrationTimeout int             `json:"hydration_timeout_seconds" yaml:"hydration_timeout_seconds" toml:"hydration_timeout_seconds"`
	HydrationRate    float64         `json:"hydration_rate_per_second" yaml:"hydration_rate_per_second" toml:"hydration_rate_per_second"`
	HydrationBurst   int             `json:"hydration_burst" yaml:"hydration_burst" toml:"hydration_burst"`
	PollInterval     int             `json:"wallet_poll_interval_seconds" yaml:"wallet_poll_interval_seconds" toml:"wallet_poll_interval_seconds"`
	SwitchTimeout    int             `json:"switch_timeout_seconds" yaml:"switch_timeout_seconds" toml:"switch_timeout_seconds"`
	ServerPort       int             `json:"server_port" yaml:"server_port" toml:"server_port"`
	SupportedChains  []int64         `json:"supported_chains,omitempty" yaml:"supported_chains,omitempty" toml:"supported_chains,omitempty"`
	Accounts         []AccountConfig `json:"accounts,omitempty" yaml:"accounts,omitempty" toml:"accounts,omitempty"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() Config {
	return Config{
		WalletRPCURL:     "http://127.0.0.1:8545",
		MetadataURL:      "http://127.0.0.1:3000/assets/accounts",
		StoreBackend:     BackendFile,
		HydrationTimeout: 5,
		HydrationRate:    10,
		HydrationBurst:   5,
		PollInterval:     2,
		SwitchTimeout:    60,
		ServerPort:       8080,
	}
}

func (c Config) HydrationTimeoutDuration() time.Duration {
	return time.Duration(c.HydrationTimeout) * time.Second
}

func (c Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func (c Config) SwitchTimeoutDuration() time.Duration {
	return time.Duration(c.SwitchTimeout) * time.Second
}

// BalanceURL falls back to the wallet endpoint when no dedicated node is set.
func (c Config) BalanceURL() string {
	if c.BalanceRPCURL != "" {
		return c.BalanceRPCURL
	}
	return c.WalletRPCURL
}

// ResolveStorePath returns StorePath, or a default under the user's home.
func (c Config) ResolveStorePath() (string, error) {
	if c.StorePath != "" {
		return c.StorePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	name := "state.json"
	if c.StoreBackend == BackendLevelDB {
		name = "state.db"
	}
	return filepath.Join(home, ".sponsorcoin", name), nil
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

func LoadConfigFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Defaults(), nil
	}
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	return LoadConfig(f, FormatFor(path))
}

// rawConfig uses pointers so absent keys keep their defaults.
type rawConfig struct {
	WalletRPCURL     *string         `json:"wallet_rpc_url" yaml:"wallet_rpc_url" toml:"wallet_rpc_url"`
	BalanceRPCURL    *string         `json:"balance_rpc_url" yaml:"balance_rpc_url" toml:"balance_rpc_url"`
	MetadataURL      *string         `json:"metadata_url" yaml:"metadata_url" toml:"metadata_url"`
	StoreBackend     *string         `json:"store_backend" yaml:"store_backend" toml:"store_backend"`
	StorePath        *string         `json:"store_path" yaml:"store_path" toml:"store_path"`
	HydrationTimeout *int            `json:"hydration_timeout_seconds" yaml:"hydration_timeout_seconds" toml:"hydration_timeout_seconds"`
	HydrationRate    *float64        `json:"hydration_rate_per_second" yaml:"hydration_rate_per_second" toml:"hydration_rate_per_second"`
	HydrationBurst   *int            `json:"hydration_burst" yaml:"hydration_burst" toml:"hydration_burst"`
	PollInterval     *int            `json:"wallet_poll_interval_seconds" yaml:"wallet_poll_interval_seconds" toml:"wallet_poll_interval_seconds"`
	SwitchTimeout    *int            `json:"switch_timeout_seconds" yaml:"switch_timeout_seconds" toml:"switch_timeout_seconds"`
	ServerPort       *int            `json:"server_port" yaml:"server_port" toml:"server_port"`
	SupportedChains  []int64         `json:"supported_chains" yaml:"supported_chains" toml:"supported_chains"`
	Accounts         []AccountConfig `json:"accounts" yaml:"accounts" toml:"accounts"`
}

func LoadConfig(r io.Reader, format Format) (Config, error) {
	var raw rawConfig
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
			return Config{}, err
		}
	case FormatTOML:
		if _, err := toml.NewDecoder(r).Decode(&raw); err != nil {
			return Config{}, err
		}
	default:
		if err := json.NewDecoder(r).Decode(&raw); err != nil {
			return Config{}, err
		}
	}

	cfg := Defaults()
	setString(&cfg.WalletRPCURL, raw.WalletRPCURL)
	setString(&cfg.BalanceRPCURL, raw.BalanceRPCURL)
	setString(&cfg.MetadataURL, raw.MetadataURL)
	setString(&cfg.StoreBackend, raw.StoreBackend)
	setString(&cfg.StorePath, raw.StorePath)
	setInt(&cfg.HydrationTimeout, raw.HydrationTimeout)
	setInt(&cfg.HydrationBurst, raw.HydrationBurst)
	setInt(&cfg.PollInterval, raw.PollInterval)
	setInt(&cfg.SwitchTimeout, raw.SwitchTimeout)
	setInt(&cfg.ServerPort, raw.ServerPort)
	if raw.HydrationRate != nil {
		cfg.HydrationRate = *raw.HydrationRate
	}
	cfg.SupportedChains = raw.SupportedChains
	cfg.Accounts = raw.Accounts
	return cfg, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

var validRoles = map[string]bool{
	"sponsor":   true,
	"recipient": true,
	"agent":     true,
}

// Validate reports the first problem found in c.
func Validate(c Config) error {
	for name, raw := range map[string]string{
		"wallet_rpc_url": c.WalletRPCURL,
		"metadata_url":   c.MetadataURL,
	} {
		if strings.TrimSpace(raw) == "" {
			return fmt.Errorf("validation failed: %s is empty", name)
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("validation failed: %s %q is not an absolute URL", name, raw)
		}
	}
	switch c.StoreBackend {
	case BackendFile, BackendLevelDB, BackendMemory:
	default:
		return fmt.Errorf("validation failed: unknown store backend %q", c.StoreBackend)
	}
	if c.HydrationTimeout <= 0 || c.PollInterval <= 0 || c.SwitchTimeout <= 0 {
		return fmt.Errorf("validation failed: timeouts and intervals must be positive")
	}
	if c.HydrationRate < 0 || c.HydrationBurst < 0 {
		return fmt.Errorf("validation failed: hydration rate limit must not be negative")
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("validation failed: server port %d out of range", c.ServerPort)
	}
	for i, a := range c.Accounts {
		if !validRoles[strings.ToLower(a.Role)] {
			return fmt.Errorf("validation failed: account at index %d has unknown role %q", i, a.Role)
		}
		if strings.TrimSpace(a.Address) == "" {
			return fmt.Errorf("validation failed: account at index %d has no address", i)
		}
	}
	return nil
}

func encode(c Config, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(c)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.MarshalIndent(c, "", "  ")
	}
}

func SaveConfig(c Config, path string) error {
	if err := Validate(c); err != nil {
		return err
	}

	data, err := encode(c, FormatFor(path))
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded configuration is empty")
	}

	// Create a backup of the existing file
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0644); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}
