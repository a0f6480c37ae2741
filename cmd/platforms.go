package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blacktop/xpub/internal/config"
	"github.com/blacktop/xpub/internal/store"
	"github.com/blacktop/xpub/internal/xpub"
	"github.com/blacktop/xpub/internal/xpub/bluesky"
	"github.com/blacktop/xpub/internal/xpub/mastodon"
	"github.com/blacktop/xpub/internal/xpub/oauth"
	"github.com/blacktop/xpub/internal/xpub/twitter"
	"github.com/blacktop/xpub/internal/xpub/upload"
)

var supportedTargets = map[string]struct{}{
	"bluesky":  {},
	"mastodon": {},
	"twitter":  {},
}

type credentialStore interface {
	xpub.CredentialStore
	xpub.AuthorizationStore
}

// environment is everything a command needs to talk to the platforms.
type environment struct {
	cfg       *config.Config
	store     credentialStore
	platforms map[string]xpub.Platform
	broker    *oauth.Broker
	close     func() error
}

func openEnvironment() (*environment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	s, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}

	platforms := buildPlatforms(cfg, s)
	flows := make(map[string]xpub.AuthorizationFlow, len(platforms))
	for name, p := range platforms {
		flows[name] = p.Flow
	}

	return &environment{
		cfg:       cfg,
		store:     s,
		platforms: platforms,
		broker:    oauth.New(s, flows),
		close:     closeStore,
	}, nil
}

func (e *environment) Close() error {
	if e.close == nil {
		return nil
	}
	return e.close()
}

func openStore(cfg config.DatabaseConfig) (credentialStore, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemory(), nil, nil
	case "sqlite3":
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	s, err := store.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func buildPlatforms(cfg *config.Config, auths xpub.AuthorizationStore) map[string]xpub.Platform {
	return map[string]xpub.Platform{
		"twitter": twitter.Platform(twitter.Config{
			ConsumerKey:    cfg.Twitter.ConsumerKey,
			ConsumerSecret: cfg.Twitter.ConsumerSecret,
			Debug:          cfg.Twitter.Debug,
		}),
		"mastodon": mastodon.Platform(mastodon.Config{
			AppName:     cfg.Mastodon.AppName,
			Scopes:      cfg.Mastodon.Scopes,
			RedirectURI: cfg.Mastodon.RedirectURI,
			Website:     cfg.Mastodon.Website,
		}),
		"bluesky": bluesky.Platform(bluesky.Config{PDSURL: cfg.Bluesky.PDSURL}, auths),
	}
}

func uploadOptions(cfg config.UploadConfig) upload.Options {
	return upload.Options{
		ChunkSize:   cfg.ChunkSize,
		MaxParallel: cfg.MaxParallel,
		AppendRate:  cfg.AppendsPerSecond,
	}
}

// resolvePlatformID maps a target name and optional instance URL to a platform id.
func resolvePlatformID(cfg *config.Config, target, instance string) (string, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	instance = strings.TrimSpace(instance)
	switch target {
	case "twitter":
		return xpub.PlatformID(target, ""), nil
	case "mastodon":
		if instance == "" {
			instance = cfg.Mastodon.Instance
		}
		if instance == "" {
			return "", errors.New("mastodon requires --instance or [mastodon] instance in the config")
		}
		return xpub.PlatformID(target, instance), nil
	case "bluesky":
		if instance == "" {
			instance = cfg.Bluesky.PDSURL
		}
		return xpub.PlatformID(target, instance), nil
	default:
		return "", fmt.Errorf("unsupported target %q", target)
	}
}

func normalizeTargets(values []string) ([]string, error) {
	if len(values) == 0 {
		return allTargets(), nil
	}

	result := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			return allTargets(), nil
		}
		if _, ok := supportedTargets[raw]; !ok {
			return nil, fmt.Errorf("unsupported target %q", raw)
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		result = append(result, raw)
	}

	if len(result) == 0 {
		return nil, errors.New("no targets selected")
	}

	sort.Strings(result)
	return result, nil
}

func allTargets() []string {
	out := make([]string, 0, len(supportedTargets))
	for t := range supportedTargets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
