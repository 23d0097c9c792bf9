// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with only OBS running.
// Missing Google credentials disable uploads (clips are kept locally); missing Twitch
// credentials disable the chat front end. Use Validate for structural checks.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/obs-relay/crypto"
)

// Token store backends.
const (
	TokenStoreFile     = "file"
	TokenStorePostgres = "postgres"
)

type Config struct {
	// OBS control connection
	OBSHost        string
	OBSPort        int
	OBSPassword    string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// OBS process
	OBSExecutablePaths []string
	OBSLaunchArgs      []string
	OBSDetectExternal  bool
	SpawnSettle        time.Duration

	// Replay archiving
	ReplayDir        string
	ReplayExtensions string
	SaveSettle       time.Duration
	UploadTimeout    time.Duration
	BridgeWorkers    int

	// Google Drive
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleCredFile     string
	GoogleFolderID     string
	DriveScopes        string
	ConsentTimeout     time.Duration
	RefreshInterval    time.Duration
	RefreshWindow      time.Duration

	// Token persistence
	TokenStore      string
	GoogleTokenFile string
	DBDsn           string
	EncryptionKey   string

	// Twitch chat
	TwitchChannel     string
	TwitchBotUsername string
	TwitchOAuthToken  string
	CommandPrefix     string
	AllowedBadges     []string
	CommandTimeout    time.Duration

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It fails only on values that are
// present but unparsable; absent optional variables disable the features that need them.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.OBSHost = getenv("OBS_HOST", "localhost")
	if cfg.OBSPort, err = getInt("OBS_PORT", 4455); err != nil {
		return nil, err
	}
	cfg.OBSPassword = os.Getenv("OBS_PASSWORD")
	if cfg.ConnectTimeout, err = getDuration("OBS_CONNECT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("OBS_REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// OBS_EXECUTABLE_PATHS uses the OS list separator so Windows paths keep their drive colon.
	if v := os.Getenv("OBS_EXECUTABLE_PATHS"); v != "" {
		for _, p := range filepath.SplitList(v) {
			if p = strings.TrimSpace(p); p != "" {
				cfg.OBSExecutablePaths = append(cfg.OBSExecutablePaths, p)
			}
		}
	}
	if v, ok := os.LookupEnv("OBS_LAUNCH_ARGS"); ok {
		cfg.OBSLaunchArgs = strings.Fields(v)
		if cfg.OBSLaunchArgs == nil {
			cfg.OBSLaunchArgs = []string{}
		}
	}
	cfg.OBSDetectExternal = os.Getenv("OBS_DETECT_EXTERNAL") != "0"
	if cfg.SpawnSettle, err = getDuration("OBS_SPAWN_SETTLE", 3*time.Second); err != nil {
		return nil, err
	}

	cfg.ReplayDir = os.Getenv("REPLAY_DIR")
	cfg.ReplayExtensions = getenv("REPLAY_EXTENSIONS", ".mp4,.mkv,.flv,.mov")
	if cfg.SaveSettle, err = getDuration("OBS_SAVE_SETTLE", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.UploadTimeout, err = getDuration("UPLOAD_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BridgeWorkers, err = getInt("BRIDGE_WORKERS", 4); err != nil {
		return nil, err
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURI = os.Getenv("GOOGLE_REDIRECT_URI")
	cfg.GoogleCredFile = os.Getenv("GOOGLE_CRED_FILE")
	cfg.GoogleFolderID = os.Getenv("GOOGLE_FOLDER_ID")
	cfg.DriveScopes = getenv("DRIVE_SCOPES", "https://www.googleapis.com/auth/drive.file")
	if cfg.ConsentTimeout, err = getDuration("CONSENT_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = getDuration("TOKEN_REFRESH_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshWindow, err = getDuration("TOKEN_REFRESH_WINDOW", 20*time.Minute); err != nil {
		return nil, err
	}

	cfg.TokenStore = strings.ToLower(getenv("TOKEN_STORE", TokenStoreFile))
	cfg.GoogleTokenFile = getenv("GOOGLE_TOKEN_FILE", "token.json")
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.CommandPrefix = getenv("COMMAND_PREFIX", "!")
	for _, b := range strings.Split(getenv("ALLOWED_BADGES", "broadcaster,moderator"), ",") {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			cfg.AllowedBadges = append(cfg.AllowedBadges, b)
		}
	}
	if cfg.CommandTimeout, err = getDuration("COMMAND_TIMEOUT", 15*time.Minute); err != nil {
		return nil, err
	}

	cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")

	return cfg, nil
}

// Validate checks values that parse but cannot work together.
func (c *Config) Validate() error {
	if c.OBSPort < 1 || c.OBSPort > 65535 {
		return fmt.Errorf("invalid OBS_PORT %d", c.OBSPort)
	}
	if c.BridgeWorkers < 1 {
		return fmt.Errorf("BRIDGE_WORKERS must be at least 1")
	}
	switch c.TokenStore {
	case TokenStoreFile:
		if c.GoogleTokenFile == "" {
			return fmt.Errorf("GOOGLE_TOKEN_FILE is required with TOKEN_STORE=file")
		}
	case TokenStorePostgres:
		if c.DBDsn == "" {
			return fmt.Errorf("DB_DSN is required with TOKEN_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown TOKEN_STORE %q (want file or postgres)", c.TokenStore)
	}
	if c.EncryptionKey != "" {
		if _, err := crypto.NewAESSealer(c.EncryptionKey); err != nil {
			return fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
	}
	for name, d := range map[string]time.Duration{
		"OBS_CONNECT_TIMEOUT": c.ConnectTimeout,
		"OBS_REQUEST_TIMEOUT": c.RequestTimeout,
		"UPLOAD_TIMEOUT":      c.UploadTimeout,
		"CONSENT_TIMEOUT":     c.ConsentTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// DriveConfigured reports whether enough Google client configuration exists to upload.
func (c *Config) DriveConfigured() bool {
	return c.GoogleCredFile != "" || (c.GoogleClientID != "" && c.GoogleClientSecret != "")
}

// ChatConfigured reports whether the Twitch chat front end can connect.
func (c *Config) ChatConfigured() bool {
	return c.TwitchChannel != "" && c.TwitchBotUsername != "" && c.TwitchOAuthToken != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s (integer): %w", key, err)
	}
	return n, nil
}

// getDuration accepts Go durations ("90s") or bare seconds ("90").
func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	return d, nil
}
