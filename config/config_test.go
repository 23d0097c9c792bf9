package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"OBS_HOST", "OBS_PORT", "OBS_LAUNCH_ARGS", "OBS_SPAWN_SETTLE", "TOKEN_STORE", "ALLOWED_BADGES", "BRIDGE_WORKERS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OBSHost != "localhost" || cfg.OBSPort != 4455 {
		t.Errorf("unexpected obs endpoint %s:%d", cfg.OBSHost, cfg.OBSPort)
	}
	if cfg.SpawnSettle != 3*time.Second || cfg.SaveSettle != 2*time.Second {
		t.Errorf("unexpected settle delays %v %v", cfg.SpawnSettle, cfg.SaveSettle)
	}
	if cfg.TokenStore != TokenStoreFile || cfg.GoogleTokenFile != "token.json" {
		t.Errorf("unexpected token store %q %q", cfg.TokenStore, cfg.GoogleTokenFile)
	}
	if strings.Join(cfg.AllowedBadges, ",") != "broadcaster,moderator" {
		t.Errorf("unexpected badges %v", cfg.AllowedBadges)
	}
	if cfg.BridgeWorkers != 4 {
		t.Errorf("unexpected workers %d", cfg.BridgeWorkers)
	}
	// An empty OBS_LAUNCH_ARGS means "no args", distinct from unset.
	if cfg.OBSLaunchArgs == nil || len(cfg.OBSLaunchArgs) != 0 {
		t.Errorf("unexpected launch args %#v", cfg.OBSLaunchArgs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OBS_PORT", "4460")
	t.Setenv("OBS_SAVE_SETTLE", "5")
	t.Setenv("UPLOAD_TIMEOUT", "90s")
	t.Setenv("OBS_LAUNCH_ARGS", "--portable --minimize-to-tray")
	t.Setenv("ALLOWED_BADGES", " Moderator , vip ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OBSPort != 4460 || cfg.SaveSettle != 5*time.Second || cfg.UploadTimeout != 90*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.OBSLaunchArgs) != 2 || cfg.OBSLaunchArgs[0] != "--portable" {
		t.Errorf("launch args = %v", cfg.OBSLaunchArgs)
	}
	if strings.Join(cfg.AllowedBadges, ",") != "moderator,vip" {
		t.Errorf("badges = %v", cfg.AllowedBadges)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Setenv("OBS_PORT", "not-a-port")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid OBS_PORT")
	}
	t.Setenv("OBS_PORT", "")
	t.Setenv("UPLOAD_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid UPLOAD_TIMEOUT")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("TOKEN_STORE", "")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		return cfg
	}
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"bad port", func(c *Config) { c.OBSPort = 70000 }},
		{"no workers", func(c *Config) { c.BridgeWorkers = 0 }},
		{"unknown store", func(c *Config) { c.TokenStore = "redis" }},
		{"postgres without dsn", func(c *Config) { c.TokenStore = TokenStorePostgres; c.DBDsn = "" }},
		{"short key", func(c *Config) { c.EncryptionKey = "c2hvcnQ=" }},
		{"zero upload timeout", func(c *Config) { c.UploadTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDriveConfigured(t *testing.T) {
	cfg := &Config{}
	if cfg.DriveConfigured() {
		t.Fatal("empty config should not be drive-ready")
	}
	cfg.GoogleClientID = "id"
	if cfg.DriveConfigured() {
		t.Fatal("id without secret should not be drive-ready")
	}
	cfg.GoogleClientSecret = "secret"
	if !cfg.DriveConfigured() {
		t.Fatal("id and secret should be drive-ready")
	}
	if !(&Config{GoogleCredFile: "client_secret.json"}).DriveConfigured() {
		t.Fatal("secrets file should be drive-ready")
	}
}

func TestChatConfigured(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if !cfg.ChatConfigured() {
		t.Error("all twitch envs set, chat should be enabled")
	}
	t.Setenv("TWITCH_CHANNEL", "")
	cfg, _ = Load()
	if cfg.ChatConfigured() {
		t.Error("missing channel should disable chat")
	}
}
