// Package mastodon implements Mastodon instances: per-instance app
// registration, OAuth 2.0 code exchange, media attachments and statuses.
package mastodon

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/blacktop/xpub/internal/xpub"
	mastodonapi "github.com/mattn/go-mastodon"
)

const (
	providerName   = "mastodon"
	requestTimeout = 30 * time.Second
)

// Limits are the posting constraints of a stock Mastodon instance.
var Limits = xpub.Limits{
	MaxStatusLength: 500,
	MaxMedia:        4,
}

// Client posts toots on behalf of the user in each AuthContext.
type Client struct{}

// New constructs a Mastodon client.
func New() *Client { return &Client{} }

// Platform bundles the Mastodon flow and client. Mastodon takes every
// attachment in a single request.
func Platform(cfg Config) xpub.Platform {
	c := New()
	return xpub.Platform{
		Name:   providerName,
		Limits: Limits,
		Flow:   NewFlow(cfg),
		Direct: c,
		Poster: c,
	}
}

func newAPIClient(srv string, auth xpub.AuthContext) *mastodonapi.Client {
	client := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       srv,
		AccessToken:  auth.AccessToken,
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
	})
	client.Timeout = requestTimeout
	return client
}

func (c *Client) api(auth xpub.AuthContext) (*mastodonapi.Client, error) {
	srv, err := server(auth.PlatformID)
	if err != nil {
		return nil, err
	}
	if auth.AccessToken == "" {
		return nil, xpub.MissingEnvError{Provider: providerName, Variables: []string{"access token (run `xpub auth login " + auth.PlatformID + "`)"}}
	}
	return newAPIClient(srv, auth), nil
}

// UploadDirect uploads an attachment with its description.
func (c *Client) UploadDirect(ctx context.Context, auth xpub.AuthContext, m xpub.MediaObject) (xpub.MediaHandle, error) {
	api, err := c.api(auth)
	if err != nil {
		return xpub.MediaHandle{}, err
	}

	attachment, err := api.UploadMediaFromMedia(ctx, &mastodonapi.Media{
		File:        bytes.NewReader(m.Payload),
		Description: m.Description,
	})
	if err != nil {
		return xpub.MediaHandle{}, fmt.Errorf("upload media: %w", err)
	}
	return xpub.MediaHandle{ID: string(attachment.ID)}, nil
}

// PostStatus publishes the toot.
func (c *Client) PostStatus(ctx context.Context, auth xpub.AuthContext, status string, handles []xpub.MediaHandle) (string, error) {
	api, err := c.api(auth)
	if err != nil {
		return "", err
	}

	mediaIDs := make([]mastodonapi.ID, 0, len(handles))
	for _, h := range handles {
		mediaIDs = append(mediaIDs, mastodonapi.ID(h.ID))
	}

	st, err := api.PostStatus(ctx, &mastodonapi.Toot{
		Status:   status,
		MediaIDs: mediaIDs,
	})
	if err != nil {
		return "", fmt.Errorf("post status: %w", err)
	}
	return string(st.ID), nil
}
