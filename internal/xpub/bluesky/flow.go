package bluesky

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/blacktop/xpub/internal/xpub"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	// DefaultPDSURL is used when neither the platform id nor Config name a host.
	DefaultPDSURL = "https://bsky.social"

	appPasswordsURL = "https://bsky.app/settings/app-passwords"
)

// Config holds the Bluesky defaults.
type Config struct {
	PDSURL string
}

// Flow authorizes with an app password. There is no app registration on
// Bluesky: the PDS host stands in for the client id.
type Flow struct {
	cfg        Config
	httpClient *http.Client
}

// NewFlow returns an app-password flow.
func NewFlow(cfg Config) *Flow {
	if strings.TrimSpace(cfg.PDSURL) == "" {
		cfg.PDSURL = DefaultPDSURL
	}
	return &Flow{cfg: cfg, httpClient: &http.Client{Timeout: requestTimeout}}
}

func (f *Flow) host(platformID string) string {
	_, instance := xpub.ParsePlatformID(platformID)
	if h := strings.TrimRight(strings.TrimSpace(instance), "/"); h != "" {
		return h
	}
	return strings.TrimRight(f.cfg.PDSURL, "/")
}

// Registration always succeeds; the PDS host is the registration.
func (f *Flow) Registration(platformID string) (xpub.PlatformRegistration, bool) {
	return xpub.PlatformRegistration{PlatformID: platformID, ClientID: f.host(platformID)}, true
}

func (f *Flow) Register(ctx context.Context, platformID string) (xpub.PlatformRegistration, error) {
	reg, _ := f.Registration(platformID)
	return reg, nil
}

// Challenge points the user at the app password settings page.
func (f *Flow) Challenge(ctx context.Context, reg xpub.PlatformRegistration) (xpub.Challenge, error) {
	return xpub.Challenge{URL: appPasswordsURL}, nil
}

// Exchange creates a session for the handle carried in ch.RequestToken using
// the app password as verifier.
func (f *Flow) Exchange(ctx context.Context, reg xpub.PlatformRegistration, ch xpub.Challenge, password string) (xpub.UserAuthorization, error) {
	handle := strings.TrimPrefix(strings.TrimSpace(ch.RequestToken), "@")
	if handle == "" {
		return xpub.UserAuthorization{}, xpub.ValidationError{Provider: providerName, Reason: "handle is required"}
	}

	c := newXRPCClient(f.httpClient, reg.ClientID)
	session, err := atproto.ServerCreateSession(ctx, c, &atproto.ServerCreateSession_Input{
		Identifier: handle,
		Password:   password,
	})
	if err != nil {
		return xpub.UserAuthorization{}, fmt.Errorf("login: %w", err)
	}
	return xpub.UserAuthorization{
		PlatformID:        reg.PlatformID,
		AccessToken:       session.AccessJwt,
		AccessTokenSecret: session.RefreshJwt,
		Subject:           session.Did,
	}, nil
}

func newXRPCClient(httpClient *http.Client, host string) *xrpc.Client {
	userAgent := "xpub/1"
	return &xrpc.Client{
		Client:    httpClient,
		Host:      host,
		UserAgent: &userAgent,
	}
}
