package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dabhunt/krita-certified-human-made/internal/session"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != Version {
		t.Errorf("Version = %d, want %d", cfg.Version, Version)
	}
	if cfg.Session.MaxEvents != 50_000 {
		t.Errorf("MaxEvents = %d, want 50000", cfg.Session.MaxEvents)
	}
	if cfg.Session.AutoCheckpointThreshold != 100 {
		t.Errorf("AutoCheckpointThreshold = %d, want 100", cfg.Session.AutoCheckpointThreshold)
	}
	if cfg.Session.PrivacyMode {
		t.Error("PrivacyMode should default to off")
	}
	if cfg.Verify.MaxPerceptualDistance != 8 {
		t.Errorf("MaxPerceptualDistance = %d, want 8", cfg.Verify.MaxPerceptualDistance)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging defaults = %s/%s, want info/text", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
	if !strings.HasPrefix(cfg.Storage.ProofDir, cfg.Storage.DataDir) {
		t.Errorf("ProofDir %q should live under DataDir %q", cfg.Storage.ProofDir, cfg.Storage.DataDir)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
}

func TestDataDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHM_DATA_DIR", dir)

	if got := DataDir(); got != dir {
		t.Errorf("DataDir = %q, want %q", got, dir)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.MaxEvents != 50_000 {
		t.Error("missing file should yield defaults")
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = 1

[session]
max_events = 200
privacy_mode = true

[verify]
max_phash_distance = 4
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.MaxEvents != 200 {
		t.Errorf("MaxEvents = %d, want 200", cfg.Session.MaxEvents)
	}
	if !cfg.Session.PrivacyMode {
		t.Error("PrivacyMode should be true")
	}
	if cfg.Verify.MaxPerceptualDistance != 4 {
		t.Errorf("MaxPerceptualDistance = %d, want 4", cfg.Verify.MaxPerceptualDistance)
	}
	// Fields the file omits keep their defaults.
	if cfg.Session.AutoCheckpointThreshold != 100 {
		t.Errorf("AutoCheckpointThreshold = %d, want default 100", cfg.Session.AutoCheckpointThreshold)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
version: 1
session:
  max_events: 321
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.MaxEvents != 321 {
		t.Errorf("MaxEvents = %d, want 321", cfg.Session.MaxEvents)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"version": 1, "session": {"max_events": 777}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.MaxEvents != 777 {
		t.Errorf("MaxEvents = %d, want 777", cfg.Session.MaxEvents)
	}
}

func TestLoadAutoDetect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	content := "version = 1\n\n[session]\nmax_events = 42\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.MaxEvents != 42 {
		t.Errorf("MaxEvents = %d, want 42", cfg.Session.MaxEvents)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[session\nmax_events ="), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load should reject malformed TOML")
	}
}

func TestMigrateUnversionedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[session]\nmax_events = 99\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Version != Version {
		t.Errorf("Version = %d, want migrated to %d", cfg.Version, Version)
	}
	if cfg.Session.MaxEvents != 99 {
		t.Errorf("MaxEvents = %d, want 99", cfg.Session.MaxEvents)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHM_MAX_EVENTS", "123")
	t.Setenv("CHM_PRIVACY_MODE", "true")
	t.Setenv("CHM_DATA_DIR", dir)
	t.Setenv("CHM_LOG_LEVEL", "debug")
	t.Setenv("CHM_LOG_FORMAT", "json")

	cfg, err := Load(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Session.MaxEvents != 123 {
		t.Errorf("MaxEvents = %d, want 123", cfg.Session.MaxEvents)
	}
	if !cfg.Session.PrivacyMode {
		t.Error("PrivacyMode should be true")
	}
	if cfg.Storage.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.Storage.DataDir, dir)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %s/%s, want debug/json", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("CHM_MAX_EVENTS", "not-a-number")
	t.Setenv("CHM_PRIVACY_MODE", "definitely")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.MaxEvents != 50_000 {
		t.Errorf("MaxEvents = %d, want default after bad override", cfg.Session.MaxEvents)
	}
	if cfg.Session.PrivacyMode {
		t.Error("unparsable boolean should leave the default")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero max events",
			mutate:  func(c *Config) { c.Session.MaxEvents = 0 },
			wantErr: "session.max_events",
		},
		{
			name:    "zero checkpoint threshold",
			mutate:  func(c *Config) { c.Session.AutoCheckpointThreshold = 0 },
			wantErr: "session.auto_checkpoint_threshold",
		},
		{
			name: "threshold past limit",
			mutate: func(c *Config) {
				c.Session.MaxEvents = 10
				c.Session.AutoCheckpointThreshold = 20
			},
			wantErr: "cannot exceed",
		},
		{
			name:    "empty data dir",
			mutate:  func(c *Config) { c.Storage.DataDir = "" },
			wantErr: "storage.data_dir",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "phash distance out of range",
			mutate:  func(c *Config) { c.Verify.MaxPerceptualDistance = 300 },
			wantErr: "max_phash_distance",
		},
		{
			name:    "bad version",
			mutate:  func(c *Config) { c.Version = 0 },
			wantErr: "version",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate should fail")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q should mention %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.MaxEvents = -1
	cfg.Logging.Level = "shout"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
	msg := err.Error()
	if !strings.Contains(msg, "session.max_events") || !strings.Contains(msg, "logging.level") {
		t.Errorf("expected both problems reported, got: %s", msg)
	}
}

func TestSessionConfigBridge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.MaxEvents = 500
	cfg.Session.PrivacyMode = true

	sc := cfg.SessionConfig()
	if sc.MaxEvents != 500 || !sc.PrivacyMode || sc.AutoCheckpointThreshold != 100 {
		t.Errorf("bridge produced %+v", sc)
	}

	if _, err := session.NewWithConfig(sc); err != nil {
		t.Errorf("session should accept bridged config: %v", err)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)

			cfg := DefaultConfig()
			cfg.Session.MaxEvents = 4242
			cfg.Logging.Format = "json"
			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Session.MaxEvents != 4242 {
				t.Errorf("MaxEvents = %d, want 4242", loaded.Session.MaxEvents)
			}
			if loaded.Logging.Format != "json" {
				t.Errorf("Format = %q, want json", loaded.Logging.Format)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("first call should create the file")
	}
	if cfg == nil {
		t.Fatal("nil config")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("second call should load, not create")
	}
}

func TestLoaderRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[session]\nmax_events = -5\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("Loader.Load should reject invalid config")
	}
}

func TestLoaderWatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n\n[session]\nmax_events = 100\n"), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer loader.Close()

	// Give the watcher a moment to arm before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("version = 1\n\n[session]\nmax_events = 250\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Session.MaxEvents != 250 {
			t.Errorf("reloaded MaxEvents = %d, want 250", cfg.Session.MaxEvents)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestLoaderKeepsLastGoodConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n\n[session]\nmax_events = 100\n"), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer loader.Close()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[session]\nmax_events = -10\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-loader.Errors():
		if err == nil {
			t.Fatal("expected a reload error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	if got := loader.Config().Session.MaxEvents; got != 100 {
		t.Errorf("MaxEvents = %d, want last good value 100", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(base, "data")
	cfg.Storage.ProofDir = filepath.Join(base, "data", "proofs")
	cfg.Logging.AuditPath = filepath.Join(base, "logs", "audit.jsonl")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.ProofDir, filepath.Join(base, "logs")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("directory %s missing: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
