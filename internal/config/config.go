// Package config loads xpub settings from a TOML file, an optional .env file
// and XPUB_* environment variables, in increasing order of precedence.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/blacktop/xpub/internal/logutil"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

const (
	envTwitterConsumerKey    = "XPUB_TWITTER_CONSUMER_KEY"
	envTwitterConsumerSecret = "XPUB_TWITTER_CONSUMER_SECRET"
	envTwitterDebug          = "XPUB_TWITTER_DEBUG"
	envMastodonInstance      = "XPUB_MASTODON_INSTANCE"
	envBlueskyPDSURL         = "XPUB_BLUESKY_PDS_URL"
	envChunkSize             = "XPUB_UPLOAD_CHUNK_SIZE"
	envMaxParallel           = "XPUB_UPLOAD_MAX_PARALLEL"
	envDBDriver              = "XPUB_DB_DRIVER"
	envDBDSN                 = "XPUB_DB_DSN"
)

// Config is the complete xpub configuration.
type Config struct {
	Twitter  TwitterConfig  `toml:"twitter"`
	Mastodon MastodonConfig `toml:"mastodon"`
	Bluesky  BlueskyConfig  `toml:"bluesky"`
	Upload   UploadConfig   `toml:"upload"`
	Database DatabaseConfig `toml:"database"`
}

// TwitterConfig contains the X developer app credentials.
type TwitterConfig struct {
	ConsumerKey    string `toml:"consumer_key"`
	ConsumerSecret string `toml:"consumer_secret"`
	Debug          bool   `toml:"debug"`
}

// MastodonConfig describes the app xpub registers on each instance.
type MastodonConfig struct {
	Instance    string `toml:"instance"`
	AppName     string `toml:"app_name"`
	Scopes      string `toml:"scopes"`
	RedirectURI string `toml:"redirect_uri"`
	Website     string `toml:"website"`
}

type BlueskyConfig struct {
	PDSURL string `toml:"pds_url"`
}

// UploadConfig tunes chunked media uploads.
type UploadConfig struct {
	ChunkSize        int     `toml:"chunk_size"`
	MaxParallel      int     `toml:"max_parallel"`
	AppendsPerSecond float64 `toml:"appends_per_second"`
}

// DatabaseConfig selects the credential store.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// DefaultDir returns the directory holding config.toml and the default database.
func DefaultDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "xpub")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "xpub")
	}
	return ".xpub"
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.toml")
}

// Default returns the settings of the embedded example config.
func Default() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &cfg
}

// Load reads the config at path, falling back to defaults when the file does
// not exist, then applies .env and environment overrides. An empty path means
// DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logutil.Debugf("config file not found, using defaults: path=%s", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logutil.Warnf("failed to load .env: %v", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite3" {
		cfg.Database.DSN = filepath.Join(filepath.Dir(path), "xpub.db")
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str(envTwitterConsumerKey, &c.Twitter.ConsumerKey)
	str(envTwitterConsumerSecret, &c.Twitter.ConsumerSecret)
	str(envMastodonInstance, &c.Mastodon.Instance)
	str(envBlueskyPDSURL, &c.Bluesky.PDSURL)
	str(envDBDriver, &c.Database.Driver)
	str(envDBDSN, &c.Database.DSN)

	if os.Getenv(envTwitterDebug) == "1" {
		c.Twitter.Debug = true
	}

	for key, dst := range map[string]*int{
		envChunkSize:   &c.Upload.ChunkSize,
		envMaxParallel: &c.Upload.MaxParallel,
	} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}
	return nil
}

// CreateConfigFile writes the embedded example config to path.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, exampleConf, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
