package mastodon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/blacktop/xpub/internal/xpub"
	mastodonapi "github.com/mattn/go-mastodon"
	"golang.org/x/oauth2"
)

const (
	defaultAppName     = "xpub"
	defaultScopes      = "read write"
	defaultRedirectURI = "urn:ietf:wg:oauth:2.0:oob"
)

// Config describes the app registered on every Mastodon instance.
type Config struct {
	AppName     string
	Scopes      string
	RedirectURI string
	Website     string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.AppName) == "" {
		c.AppName = defaultAppName
	}
	if strings.TrimSpace(c.Scopes) == "" {
		c.Scopes = defaultScopes
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		c.RedirectURI = defaultRedirectURI
	}
	return c
}

// Flow is the OAuth 2.0 authorization code flow. Apps are registered per
// instance through the apps API.
type Flow struct {
	cfg        Config
	httpClient *http.Client
}

// NewFlow returns a redirect-code flow for cfg.
func NewFlow(cfg Config) *Flow {
	return &Flow{cfg: cfg.withDefaults(), httpClient: &http.Client{Timeout: requestTimeout}}
}

// server extracts the instance base URL from a platform id.
func server(platformID string) (string, error) {
	_, instance := xpub.ParsePlatformID(platformID)
	instance = strings.TrimRight(strings.TrimSpace(instance), "/")
	if instance == "" {
		return "", xpub.ValidationError{Provider: providerName, Reason: fmt.Sprintf("platform id %q does not name an instance", platformID)}
	}
	if !strings.HasPrefix(instance, "http://") && !strings.HasPrefix(instance, "https://") {
		instance = "https://" + instance
	}
	return instance, nil
}

// Register creates the app on the instance.
func (f *Flow) Register(ctx context.Context, platformID string) (xpub.PlatformRegistration, error) {
	srv, err := server(platformID)
	if err != nil {
		return xpub.PlatformRegistration{}, err
	}

	app, err := mastodonapi.RegisterApp(ctx, &mastodonapi.AppConfig{
		Server:       srv,
		ClientName:   f.cfg.AppName,
		Scopes:       f.cfg.Scopes,
		RedirectURIs: f.cfg.RedirectURI,
		Website:      f.cfg.Website,
	})
	if err != nil {
		return xpub.PlatformRegistration{}, fmt.Errorf("register app: %w", err)
	}
	if app.ClientID == "" || app.ClientSecret == "" {
		return xpub.PlatformRegistration{}, errors.New("register app: response did not include client credentials")
	}
	return xpub.PlatformRegistration{
		PlatformID:   platformID,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
	}, nil
}

func (f *Flow) oauthConfig(reg xpub.PlatformRegistration) (*oauth2.Config, error) {
	srv, err := server(reg.PlatformID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURL:  f.cfg.RedirectURI,
		Scopes:       strings.Fields(f.cfg.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv + "/oauth/authorize",
			TokenURL:  srv + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

// Challenge returns the consent URL that displays the authorization code.
func (f *Flow) Challenge(ctx context.Context, reg xpub.PlatformRegistration) (xpub.Challenge, error) {
	conf, err := f.oauthConfig(reg)
	if err != nil {
		return xpub.Challenge{}, err
	}
	return xpub.Challenge{URL: conf.AuthCodeURL("")}, nil
}

// Exchange trades the authorization code for an access token and resolves
// the account it belongs to.
func (f *Flow) Exchange(ctx context.Context, reg xpub.PlatformRegistration, _ xpub.Challenge, code string) (xpub.UserAuthorization, error) {
	conf, err := f.oauthConfig(reg)
	if err != nil {
		return xpub.UserAuthorization{}, err
	}

	tok, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, f.httpClient), code)
	if err != nil {
		return xpub.UserAuthorization{}, fmt.Errorf("exchange code: %w", err)
	}

	auth := xpub.UserAuthorization{PlatformID: reg.PlatformID, AccessToken: tok.AccessToken}
	srv, _ := server(reg.PlatformID)
	client := newAPIClient(srv, xpub.NewAuthContext(reg, auth))
	account, err := client.GetAccountCurrentUser(ctx)
	if err != nil {
		return xpub.UserAuthorization{}, fmt.Errorf("verify credentials: %w", err)
	}
	auth.Subject = account.Acct
	return auth, nil
}
