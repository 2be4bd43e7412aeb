// Package config stores fieldsync settings and credentials under
// ~/.config/fieldsync: config.json for tunables, auth.json for tokens.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config is the global fieldsync config stored at
// ~/.config/fieldsync/config.json.
type Config struct {
	ServerURL         string `json:"server_url"`
	MaxAttempts       int    `json:"max_attempts,omitempty"`
	UploadConcurrency int    `json:"upload_concurrency,omitempty"`
	SyncInterval      string `json:"sync_interval,omitempty"`  // duration string, default "5m"
	ProbeInterval     string `json:"probe_interval,omitempty"` // duration string, default "30s"
	LogFile           string `json:"log_file,omitempty"`       // daemon log path, default under config dir
}

// AuthCredentials stores authentication state at
// ~/.config/fieldsync/auth.json.
type AuthCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	DeviceID     string `json:"device_id"`
	ServerURL    string `json:"server_url,omitempty"`
}

const defaultServerURL = "http://localhost:8000"

// ConfigDir returns ~/.config/fieldsync, creating it if necessary.
// Overridable with FIELDSYNC_CONFIG_DIR for tests.
func ConfigDir() (string, error) {
	if dir := os.Getenv("FIELDSYNC_CONFIG_DIR"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create config dir: %w", err)
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "fieldsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the config file, returning defaults when it does not exist.
func Load() (Config, error) {
	var cfg Config
	dir, err := ConfigDir()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config file.
func Save(cfg Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// GetServerURL resolves the server URL: env var, then config, then default.
func (c Config) GetServerURL() string {
	if v := os.Getenv("FIELDSYNC_SERVER_URL"); v != "" {
		return v
	}
	if c.ServerURL != "" {
		return c.ServerURL
	}
	return defaultServerURL
}

// GetMaxAttempts resolves the retry threshold, default 5.
func (c Config) GetMaxAttempts() int {
	if v := os.Getenv("FIELDSYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return 5
}

// GetUploadConcurrency resolves the upload parallelism bound, default 3.
func (c Config) GetUploadConcurrency() int {
	if c.UploadConcurrency > 0 {
		return c.UploadConcurrency
	}
	return 3
}

// GetSyncInterval resolves the daemon sync period, default 5m.
func (c Config) GetSyncInterval() time.Duration {
	return c.duration(c.SyncInterval, 5*time.Minute)
}

// GetProbeInterval resolves the connectivity probe period, default 30s.
func (c Config) GetProbeInterval() time.Duration {
	return c.duration(c.ProbeInterval, 30*time.Second)
}

func (Config) duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetLogFile resolves the daemon log path.
func (c Config) GetLogFile() (string, error) {
	if c.LogFile != "" {
		return c.LogFile, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.log"), nil
}

// LoadAuth reads stored credentials, or nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read auth: %w", err)
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse auth: %w", err)
	}
	return &creds, nil
}

// SaveAuth writes credentials with owner-only permissions.
func SaveAuth(creds AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600); err != nil {
		return fmt.Errorf("write auth: %w", err)
	}
	return nil
}

// ClearAuth removes stored credentials.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsAuthenticated reports whether credentials are stored.
func IsAuthenticated() bool {
	creds, err := LoadAuth()
	return err == nil && creds != nil && creds.RefreshToken != ""
}

// GetDeviceID returns the stable device identifier, generating and
// persisting one on first use.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}
	id := uuid.New().String()
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.DeviceID = id
	if err := SaveAuth(*creds); err != nil {
		return "", err
	}
	return id, nil
}
