// Package bluesky implements Bluesky: app-password sessions, blob uploads
// and feed post records.
package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/blacktop/xpub/internal/logutil"
	"github.com/blacktop/xpub/internal/xpub"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	providerName   = "bluesky"
	requestTimeout = 30 * time.Second
)

// Limits are the posting constraints of Bluesky.
var Limits = xpub.Limits{
	MaxStatusLength: 300,
	MaxMedia:        4,
}

// Client posts on behalf of the session in each AuthContext. Sessions are
// refreshed once per process and, when auths is set, the rotated tokens are
// saved back.
type Client struct {
	httpClient *http.Client
	auths      xpub.AuthorizationStore

	mu       sync.Mutex
	sessions map[xpub.AuthContext]*xrpc.Client
}

// New constructs a Bluesky client. auths may be nil.
func New(auths xpub.AuthorizationStore) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		auths:      auths,
		sessions:   make(map[xpub.AuthContext]*xrpc.Client),
	}
}

// Platform bundles the Bluesky flow and client.
func Platform(cfg Config, auths xpub.AuthorizationStore) xpub.Platform {
	c := New(auths)
	return xpub.Platform{
		Name:   providerName,
		Limits: Limits,
		Flow:   NewFlow(cfg),
		Direct: c,
		Poster: c,
	}
}

// blobRef travels in MediaHandle.Ref until the post record embeds it.
type blobRef struct {
	blob *util.LexBlob
	alt  string
}

func (c *Client) session(ctx context.Context, auth xpub.AuthContext) (*xrpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[auth]; ok {
		return s, nil
	}
	if auth.AccessTokenSecret == "" || auth.Subject == "" {
		return nil, xpub.MissingEnvError{Provider: providerName, Variables: []string{"session (run `xpub auth login bluesky`)"}}
	}

	xc := newXRPCClient(c.httpClient, auth.ClientID)
	xc.Auth = &xrpc.AuthInfo{
		AccessJwt:  auth.AccessTokenSecret,
		RefreshJwt: auth.AccessTokenSecret,
		Did:        auth.Subject,
	}
	refreshed, err := atproto.ServerRefreshSession(ctx, xc)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	xc.Auth = &xrpc.AuthInfo{
		AccessJwt:  refreshed.AccessJwt,
		RefreshJwt: refreshed.RefreshJwt,
		Handle:     refreshed.Handle,
		Did:        refreshed.Did,
	}
	logutil.Debugf("session refreshed: handle=%s", refreshed.Handle)

	if c.auths != nil {
		err := c.auths.SaveAuthorization(ctx, xpub.UserAuthorization{
			PlatformID:        auth.PlatformID,
			AccessToken:       refreshed.AccessJwt,
			AccessTokenSecret: refreshed.RefreshJwt,
			Subject:           refreshed.Did,
			ObtainedAt:        time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}
	c.sessions[auth] = xc
	return xc, nil
}

// UploadDirect uploads the payload as a blob.
func (c *Client) UploadDirect(ctx context.Context, auth xpub.AuthContext, m xpub.MediaObject) (xpub.MediaHandle, error) {
	xc, err := c.session(ctx, auth)
	if err != nil {
		return xpub.MediaHandle{}, err
	}

	resp, err := atproto.RepoUploadBlob(ctx, xc, bytes.NewReader(m.Payload))
	if err != nil {
		return xpub.MediaHandle{}, fmt.Errorf("upload blob: %w", err)
	}
	if resp.Blob == nil {
		return xpub.MediaHandle{}, errors.New("upload blob: empty response")
	}
	return xpub.MediaHandle{
		ID:  resp.Blob.Ref.String(),
		Ref: blobRef{blob: resp.Blob, alt: m.Description},
	}, nil
}

// PostStatus creates the feed post record and returns its AT URI.
func (c *Client) PostStatus(ctx context.Context, auth xpub.AuthContext, status string, handles []xpub.MediaHandle) (string, error) {
	xc, err := c.session(ctx, auth)
	if err != nil {
		return "", err
	}

	post := &bsky.FeedPost{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Text:      status,
	}
	images, err := embedImages(handles)
	if err != nil {
		return "", err
	}
	if len(images) > 0 {
		post.Embed = &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{Images: images},
		}
	}

	out, err := atproto.RepoCreateRecord(ctx, xc, &atproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       xc.Auth.Did,
		Record: &util.LexiconTypeDecoder{
			Val: post,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	return out.Uri, nil
}

func embedImages(handles []xpub.MediaHandle) ([]*bsky.EmbedImages_Image, error) {
	images := make([]*bsky.EmbedImages_Image, 0, len(handles))
	for _, h := range handles {
		ref, ok := h.Ref.(blobRef)
		if !ok || ref.blob == nil {
			return nil, fmt.Errorf("media %s was not uploaded to bluesky", h.ID)
		}
		images = append(images, &bsky.EmbedImages_Image{
			Alt:   ref.alt,
			Image: ref.blob,
		})
	}
	return images, nil
}
