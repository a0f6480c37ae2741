package xpub

import "context"

// Limits are the static constraints a platform puts on a post.
type Limits struct {
	MaxStatusLength int
	MaxMedia        int
	ChunkSize       int
}

// AuthorizationFlow unifies the OAuth variants a platform may use behind one
// two-phase shape: obtain a challenge, then exchange it for a token pair.
type AuthorizationFlow interface {
	// Register performs app registration against the platform instance.
	Register(ctx context.Context, platformID string) (PlatformRegistration, error)
	// Challenge returns the user-facing consent URL (and request token, if any).
	Challenge(ctx context.Context, reg PlatformRegistration) (Challenge, error)
	// Exchange trades the challenge and the user supplied verifier (code or PIN) for tokens.
	Exchange(ctx context.Context, reg PlatformRegistration, ch Challenge, verifier string) (UserAuthorization, error)
}

// Preregistered is implemented by flows whose app credentials are issued out
// of band and therefore never go through the credential store.
type Preregistered interface {
	Registration(platformID string) (PlatformRegistration, bool)
}

// DirectUploader uploads a media object in a single call.
type DirectUploader interface {
	UploadDirect(ctx context.Context, auth AuthContext, media MediaObject) (MediaHandle, error)
}

// ChunkedUploader drives the remote INIT/APPEND/FINALIZE protocol.
type ChunkedUploader interface {
	Init(ctx context.Context, auth AuthContext, media MediaObject) (MediaHandle, error)
	Append(ctx context.Context, auth AuthContext, handle MediaHandle, segment int, chunk []byte) error
	Finalize(ctx context.Context, auth AuthContext, handle MediaHandle) error
}

// StatusPoster issues the final publish call.
type StatusPoster interface {
	PostStatus(ctx context.Context, auth AuthContext, status string, media []MediaHandle) (string, error)
}

// Platform bundles the capabilities of one social network.
// Chunked is nil for platforms that only accept single call uploads.
type Platform struct {
	Name    string
	Limits  Limits
	Flow    AuthorizationFlow
	Direct  DirectUploader
	Chunked ChunkedUploader
	Poster  StatusPoster
}
