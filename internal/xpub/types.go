package xpub

import "time"

// PlatformRegistration holds the app credentials issued by a remote platform instance.
type PlatformRegistration struct {
	PlatformID   string
	ClientID     string
	ClientSecret string
}

// UserAuthorization is the token pair obtained after a successful authorization handshake.
type UserAuthorization struct {
	PlatformID        string
	AccessToken       string
	AccessTokenSecret string // OAuth 1.0a only
	Subject           string // account identifier, when the platform returns one (Bluesky DID)
	ObtainedAt        time.Time
}

// AuthContext carries everything a signed request needs. It is passed into every
// remote call instead of living on a shared client.
type AuthContext struct {
	PlatformID        string
	ClientID          string
	ClientSecret      string
	AccessToken       string
	AccessTokenSecret string
	Subject           string
}

// NewAuthContext combines a registration and a user authorization.
func NewAuthContext(reg PlatformRegistration, auth UserAuthorization) AuthContext {
	return AuthContext{
		PlatformID:        reg.PlatformID,
		ClientID:          reg.ClientID,
		ClientSecret:      reg.ClientSecret,
		AccessToken:       auth.AccessToken,
		AccessTokenSecret: auth.AccessTokenSecret,
		Subject:           auth.Subject,
	}
}

// MediaObject is a single attachment owned by the call that uploads it.
type MediaObject struct {
	MimeType    string
	Payload     []byte
	Description string
}

// Size returns the payload length in bytes.
func (m MediaObject) Size() int { return len(m.Payload) }

// MediaHandle references uploaded media in a later publish call.
// Ref optionally holds the platform's own representation (e.g. a Bluesky blob).
type MediaHandle struct {
	ID  string
	Ref any
}

// PostRequest is a status plus ordered attachments, published with Authorization.
type PostRequest struct {
	Status        string
	Media         []MediaObject
	Authorization AuthContext
}

// PublishResult describes a successful publish call.
type PublishResult struct {
	Platform  string
	PublishID string
	PostID    string
	Media     []MediaHandle
}

// Challenge is the first half of an authorization handshake. Redirect flows
// only fill URL; request-token flows also return the token pair that must be
// handed back on exchange.
type Challenge struct {
	URL           string
	RequestToken  string
	RequestSecret string
}
