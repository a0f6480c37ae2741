package xpub

import (
	"context"
	"strings"
)

// CredentialStore persists app registrations. FindRegistration returns
// (nil, nil) when the platform has never been registered.
type CredentialStore interface {
	FindRegistration(ctx context.Context, platformID string) (*PlatformRegistration, error)
	SaveRegistration(ctx context.Context, reg PlatformRegistration) error
}

// AuthorizationStore persists user token pairs. FindAuthorization returns
// (nil, nil) when no user has authorized the platform yet.
type AuthorizationStore interface {
	FindAuthorization(ctx context.Context, platformID string) (*UserAuthorization, error)
	SaveAuthorization(ctx context.Context, auth UserAuthorization) error
}

// PlatformID builds the identity of a platform instance, e.g. "twitter" or
// "mastodon:https://mastodon.social".
func PlatformID(name, instance string) string {
	instance = strings.TrimRight(strings.TrimSpace(instance), "/")
	if instance == "" {
		return name
	}
	return name + ":" + instance
}

// ParsePlatformID splits a platform identity into its name and instance URL.
func ParsePlatformID(id string) (name, instance string) {
	name, instance, _ = strings.Cut(id, ":")
	return strings.ToLower(strings.TrimSpace(name)), instance
}
