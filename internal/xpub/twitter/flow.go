package twitter

import (
	"context"
	"strings"

	"github.com/blacktop/xpub/internal/xpub"
	"github.com/dghubble/oauth1"
)

const (
	envConsumerKey    = "XPUB_TWITTER_CONSUMER_KEY"
	envConsumerSecret = "XPUB_TWITTER_CONSUMER_SECRET"
)

// AuthenticateEndpoint is the X OAuth 1.0a PIN based endpoint set.
var AuthenticateEndpoint = oauth1.Endpoint{
	RequestTokenURL: "https://api.twitter.com/oauth/request_token",
	AuthorizeURL:    "https://api.twitter.com/oauth/authenticate",
	AccessTokenURL:  "https://api.twitter.com/oauth/access_token",
}

// Config holds the consumer credentials issued in the X developer portal.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	Debug          bool
	// Endpoint overrides AuthenticateEndpoint when set.
	Endpoint oauth1.Endpoint
}

// Flow is the OAuth 1.0a out-of-band (PIN) authorization flow. Apps are
// registered by hand, so the registration is always taken from Config.
type Flow struct {
	cfg Config
}

// NewFlow returns a PIN flow for the consumer credentials in cfg.
func NewFlow(cfg Config) *Flow {
	if cfg.Endpoint.RequestTokenURL == "" {
		cfg.Endpoint = AuthenticateEndpoint
	}
	return &Flow{cfg: cfg}
}

func (f *Flow) missing() []string {
	var missing []string
	if strings.TrimSpace(f.cfg.ConsumerKey) == "" {
		missing = append(missing, envConsumerKey)
	}
	if strings.TrimSpace(f.cfg.ConsumerSecret) == "" {
		missing = append(missing, envConsumerSecret)
	}
	return missing
}

// Registration returns the configured consumer credentials.
func (f *Flow) Registration(platformID string) (xpub.PlatformRegistration, bool) {
	if len(f.missing()) > 0 {
		return xpub.PlatformRegistration{}, false
	}
	return xpub.PlatformRegistration{
		PlatformID:   platformID,
		ClientID:     strings.TrimSpace(f.cfg.ConsumerKey),
		ClientSecret: strings.TrimSpace(f.cfg.ConsumerSecret),
	}, true
}

// Register cannot create X apps programmatically.
func (f *Flow) Register(ctx context.Context, platformID string) (xpub.PlatformRegistration, error) {
	if reg, ok := f.Registration(platformID); ok {
		return reg, nil
	}
	return xpub.PlatformRegistration{}, xpub.MissingEnvError{Provider: providerName, Variables: f.missing()}
}

func (f *Flow) config(reg xpub.PlatformRegistration) *oauth1.Config {
	return &oauth1.Config{
		ConsumerKey:    reg.ClientID,
		ConsumerSecret: reg.ClientSecret,
		CallbackURL:    "oob",
		Endpoint:       f.cfg.Endpoint,
	}
}

// Challenge obtains a request token and the consent URL that shows the PIN.
func (f *Flow) Challenge(ctx context.Context, reg xpub.PlatformRegistration) (xpub.Challenge, error) {
	conf := f.config(reg)
	token, secret, err := conf.RequestToken()
	if err != nil {
		return xpub.Challenge{}, err
	}
	u, err := conf.AuthorizationURL(token)
	if err != nil {
		return xpub.Challenge{}, err
	}
	return xpub.Challenge{URL: u.String(), RequestToken: token, RequestSecret: secret}, nil
}

// Exchange trades the request token pair and PIN for an access token pair.
func (f *Flow) Exchange(ctx context.Context, reg xpub.PlatformRegistration, ch xpub.Challenge, pin string) (xpub.UserAuthorization, error) {
	if ch.RequestToken == "" || ch.RequestSecret == "" {
		return xpub.UserAuthorization{}, xpub.ValidationError{Provider: providerName, Reason: "request token and secret are required"}
	}
	token, secret, err := f.config(reg).AccessToken(ch.RequestToken, ch.RequestSecret, pin)
	if err != nil {
		return xpub.UserAuthorization{}, err
	}
	return xpub.UserAuthorization{
		PlatformID:        reg.PlatformID,
		AccessToken:       token,
		AccessTokenSecret: secret,
	}, nil
}
