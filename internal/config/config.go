// Package config handles configuration loading, validation, and hot
// reload for the proof tooling.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/dabhunt/krita-certified-human-made/internal/session"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete tool configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Session bounds recording sessions.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Storage configures the local archive.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configures diagnostic and audit output.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Verify configures proof verification.
	Verify VerifyConfig `toml:"verify" json:"verify" yaml:"verify"`
}

// SessionConfig holds recording session limits.
type SessionConfig struct {
	// MaxEvents caps the event log per session.
	MaxEvents int `toml:"max_events" json:"max_events" yaml:"max_events"`

	// AutoCheckpointThreshold marks a snapshot due every N events.
	AutoCheckpointThreshold int `toml:"auto_checkpoint_threshold" json:"auto_checkpoint_threshold" yaml:"auto_checkpoint_threshold"`

	// PrivacyMode strips stroke coordinates and pressure at record time.
	PrivacyMode bool `toml:"privacy_mode" json:"privacy_mode" yaml:"privacy_mode"`
}

// StorageConfig holds archive paths.
type StorageConfig struct {
	// DataDir holds archive.db and archive.key.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	// ProofDir is where exported proof JSON files are written.
	ProofDir string `toml:"proof_dir" json:"proof_dir" yaml:"proof_dir"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// FilePath directs logs to a file; empty means stderr.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// AuditPath is the JSONL audit trail location.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`
}

// VerifyConfig holds verifier defaults.
type VerifyConfig struct {
	// MaxPerceptualDistance is the Hamming-distance tolerance, in bits,
	// for the perceptual hash check.
	MaxPerceptualDistance int `toml:"max_phash_distance" json:"max_phash_distance" yaml:"max_phash_distance"`

	// TrustedKeysPath points at a known artist public key.
	TrustedKeysPath string `toml:"trusted_keys_path" json:"trusted_keys_path" yaml:"trusted_keys_path"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dataDir := DataDir()
	sess := session.DefaultConfig()
	return &Config{
		Version: Version,
		Session: SessionConfig{
			MaxEvents:               sess.MaxEvents,
			AutoCheckpointThreshold: sess.AutoCheckpointThreshold,
			PrivacyMode:             sess.PrivacyMode,
		},
		Storage: StorageConfig{
			DataDir:  dataDir,
			ProofDir: filepath.Join(dataDir, "proofs"),
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			FilePath:  "",
			AuditPath: filepath.Join(dataDir, "audit.jsonl"),
		},
		Verify: VerifyConfig{
			MaxPerceptualDistance: 8,
			TrustedKeysPath:       "",
		},
	}
}

// DataDir returns the base data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/chm/
//   - Linux:   $XDG_DATA_HOME/chm/ or ~/.local/share/chm/
//   - Windows: %APPDATA%\chm\
//
// CHM_DATA_DIR overrides all of them.
func DataDir() string {
	if dir := os.Getenv("CHM_DATA_DIR"); dir != "" {
		return dir
	}
	return platformDataDir()
}

func platformDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "chm")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "chm")
		}
		return filepath.Join(home, "AppData", "Roaming", "chm")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "chm")
		}
		return filepath.Join(home, ".local", "share", "chm")
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist. TOML, JSON, and YAML are recognized by extension.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	migrate(cfg)
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// loadConfigFromFile parses a config file onto defaults based on its
// extension.
func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// autoDetectAndParse tries each supported format in turn.
func autoDetectAndParse(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unable to parse config (tried TOML, JSON, YAML)")
}

// migrate lifts configs written before the version field existed.
// Reports whether anything changed.
func migrate(cfg *Config) bool {
	if cfg.Version >= Version {
		return false
	}
	cfg.Version = Version
	return true
}

// ApplyEnvOverrides applies CHM_* environment overrides. Unparsable
// numeric or boolean values are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHM_MAX_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxEvents = n
		}
	}
	if v := os.Getenv("CHM_PRIVACY_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Session.PrivacyMode = b
		}
	}
	if v := os.Getenv("CHM_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("CHM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CHM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// SessionConfig converts the session section into the limits the
// session package consumes.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		MaxEvents:               c.Session.MaxEvents,
		AutoCheckpointThreshold: c.Session.AutoCheckpointThreshold,
		PrivacyMode:             c.Session.PrivacyMode,
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// EnsureDirectories creates the directories the configuration points at.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.ProofDir,
	}
	if c.Logging.FilePath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.Logging.AuditPath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.AuditPath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}
	return nil
}
