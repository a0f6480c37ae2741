// Package twitter implements the X (Twitter) platform: OAuth 1.0a PIN
// authorization, simple and chunked media uploads, and tweet creation.
package twitter

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/blacktop/xpub/internal/logutil"
	"github.com/blacktop/xpub/internal/xpub"
	"github.com/blacktop/xpub/internal/xpub/media"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
)

const (
	providerName = "twitter"

	simpleUploadEndpoint = "https://upload.twitter.com/1.1/media/upload.json"
	metadataEndpoint     = "https://upload.twitter.com/1.1/media/metadata/create.json"
	statusEndpoint       = "https://api.x.com/2/media/upload"

	maxStatusChecks = 30
)

var httpTimeout = 30 * time.Second

// Limits are the posting constraints of X.
var Limits = xpub.Limits{
	MaxStatusLength: 280,
	MaxMedia:        4,
	ChunkSize:       1_000_000,
}

// Client uploads media and posts tweets on behalf of the user in each AuthContext.
type Client struct {
	httpClient *http.Client
	debug      bool

	mu   sync.Mutex
	apis map[xpub.AuthContext]*gotwi.Client
}

// New constructs a Twitter client. debug enables gotwi request dumps.
func New(debug bool) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: httpTimeout},
		debug:      debug,
		apis:       make(map[xpub.AuthContext]*gotwi.Client),
	}
}

// Platform bundles the Twitter flow and client.
func Platform(cfg Config) xpub.Platform {
	c := New(cfg.Debug || logutil.Verbose())
	return xpub.Platform{
		Name:    providerName,
		Limits:  Limits,
		Flow:    NewFlow(cfg),
		Direct:  c,
		Chunked: c,
		Poster:  c,
	}
}

func (c *Client) api(auth xpub.AuthContext) (*gotwi.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if api, ok := c.apis[auth]; ok {
		return api, nil
	}

	var missing []string
	if auth.ClientID == "" {
		missing = append(missing, envConsumerKey)
	}
	if auth.ClientSecret == "" {
		missing = append(missing, envConsumerSecret)
	}
	if auth.AccessToken == "" || auth.AccessTokenSecret == "" {
		missing = append(missing, "access token (run `xpub auth login twitter`)")
	}
	if len(missing) > 0 {
		return nil, xpub.MissingEnvError{Provider: providerName, Variables: missing}
	}

	api, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           c.httpClient,
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           auth.AccessToken,
		OAuthTokenSecret:     auth.AccessTokenSecret,
		APIKey:               auth.ClientID,
		APIKeySecret:         auth.ClientSecret,
		Debug:                c.debug,
	})
	if err != nil {
		return nil, fmt.Errorf("create X client: %w", err)
	}
	if !api.IsReady() {
		return nil, fmt.Errorf("twitter client not ready")
	}
	c.apis[auth] = api
	return api, nil
}

// UploadDirect sends a still image through the single call upload endpoint.
func (c *Client) UploadDirect(ctx context.Context, auth xpub.AuthContext, m xpub.MediaObject) (xpub.MediaHandle, error) {
	api, err := c.api(auth)
	if err != nil {
		return xpub.MediaHandle{}, err
	}

	params := &simpleUploadParameters{
		mediaData: base64.StdEncoding.EncodeToString(m.Payload),
		category:  string(mediaCategory(m.MimeType)),
	}
	res := &simpleUploadResponse{}
	ctx = context.WithValue(ctx, "Content-Type", "application/x-www-form-urlencoded")
	if err := api.CallAPI(ctx, simpleUploadEndpoint, http.MethodPost, params, res); err != nil {
		return xpub.MediaHandle{}, fmt.Errorf("upload media: %w", unwrapGotwiError(err))
	}
	if res.MediaIDString == "" {
		return xpub.MediaHandle{}, fmt.Errorf("upload media: response did not include a media id")
	}

	if err := c.setAltText(ctx, api, res.MediaIDString, m.Description); err != nil {
		return xpub.MediaHandle{}, err
	}
	return xpub.MediaHandle{ID: res.MediaIDString}, nil
}

// Init opens a chunked upload session.
func (c *Client) Init(ctx context.Context, auth xpub.AuthContext, m xpub.MediaObject) (xpub.MediaHandle, error) {
	api, err := c.api(auth)
	if err != nil {
		return xpub.MediaHandle{}, err
	}

	initRes, err := upload.Initialize(ctx, api, &uploadtypes.InitializeInput{
		MediaType:     uploadtypes.MediaType(strings.ToLower(m.MimeType)),
		TotalBytes:    m.Size(),
		MediaCategory: mediaCategory(m.MimeType),
	})
	if err != nil {
		return xpub.MediaHandle{}, unwrapGotwiError(err)
	}
	if err := partialError(initRes.Errors); err != nil {
		return xpub.MediaHandle{}, err
	}

	logutil.Debugf("initialize complete: media_id=%s", initRes.Data.MediaID)
	return xpub.MediaHandle{ID: initRes.Data.MediaID, Ref: pendingMedia{altText: m.Description}}, nil
}

// Append uploads one segment of an open session.
func (c *Client) Append(ctx context.Context, auth xpub.AuthContext, h xpub.MediaHandle, segment int, chunk []byte) error {
	api, err := c.api(auth)
	if err != nil {
		return err
	}

	in := &uploadtypes.AppendInput{
		MediaID:      h.ID,
		Media:        bytes.NewReader(chunk),
		SegmentIndex: segment,
	}
	in.GenerateBoundary()

	res, err := upload.Append(ctx, api, in)
	if err != nil {
		return unwrapGotwiError(err)
	}
	return partialError(res.Errors)
}

// Finalize closes the session, waits for server side processing and applies alt text.
func (c *Client) Finalize(ctx context.Context, auth xpub.AuthContext, h xpub.MediaHandle) error {
	api, err := c.api(auth)
	if err != nil {
		return err
	}

	res, err := upload.Finalize(ctx, api, &uploadtypes.FinalizeInput{MediaID: h.ID})
	if err != nil {
		return unwrapGotwiError(err)
	}
	if err := partialError(res.Errors); err != nil {
		return err
	}

	info := processingInfo{
		State:          string(res.Data.ProcessingInfo.State),
		CheckAfterSecs: int(res.Data.ProcessingInfo.CheckAfterSecs),
	}
	err = awaitProcessing(ctx, h.ID, info, func(ctx context.Context) (processingInfo, error) {
		return c.status(ctx, api, h.ID)
	})
	if err != nil {
		return err
	}

	if p, ok := h.Ref.(pendingMedia); ok {
		return c.setAltText(ctx, api, h.ID, p.altText)
	}
	return nil
}

// PostStatus creates the tweet.
func (c *Client) PostStatus(ctx context.Context, auth xpub.AuthContext, status string, handles []xpub.MediaHandle) (string, error) {
	api, err := c.api(auth)
	if err != nil {
		return "", err
	}

	input := &managetweettypes.CreateInput{
		Text: gotwi.String(status),
	}
	if len(handles) > 0 {
		ids := make([]string, 0, len(handles))
		for _, h := range handles {
			ids = append(ids, h.ID)
		}
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: ids}
	}

	logutil.Debugf("posting tweet: media_count=%d", len(handles))
	res, err := managetweet.Create(ctx, api, input)
	if err != nil {
		return "", fmt.Errorf("post tweet: %w", unwrapGotwiError(err))
	}
	return gotwi.StringValue(res.Data.ID), nil
}

func (c *Client) status(ctx context.Context, api *gotwi.Client, mediaID string) (processingInfo, error) {
	res := &statusResponse{}
	if err := api.CallAPI(ctx, statusEndpoint, http.MethodGet, &statusParameters{mediaID: mediaID}, res); err != nil {
		return processingInfo{}, fmt.Errorf("upload status: %w", unwrapGotwiError(err))
	}
	if err := partialError(res.Errors); err != nil {
		return processingInfo{}, fmt.Errorf("upload status: %w", err)
	}
	return res.Data.ProcessingInfo, nil
}

func (c *Client) setAltText(ctx context.Context, api *gotwi.Client, mediaID, altText string) error {
	alt := strings.TrimSpace(altText)
	if alt == "" {
		return nil
	}
	logutil.Debugf("setting alt text: media_id=%s", mediaID)

	params := &metadataParameters{mediaID: mediaID, altText: alt}
	ctx = context.WithValue(ctx, "Content-Type", "application/json;charset=UTF-8")
	if err := api.CallAPI(ctx, metadataEndpoint, http.MethodPost, params, &metadataResponse{}); err != nil {
		return fmt.Errorf("set alt text: %w", unwrapGotwiError(err))
	}
	return nil
}

// pendingMedia travels in MediaHandle.Ref between Init and Finalize.
type pendingMedia struct {
	altText string
}

type processingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
}

// awaitProcessing waits out asynchronous media processing, polling until the
// state settles.
func awaitProcessing(ctx context.Context, mediaID string, info processingInfo, poll func(context.Context) (processingInfo, error)) error {
	for i := 0; ; i++ {
		logutil.Debugf("finalize state=%s media_id=%s", info.State, mediaID)
		switch info.State {
		case "", string(resources.ProcessingInfoStateSucceeded):
			return nil
		case string(resources.ProcessingInfoStateInProgress), string(resources.ProcessingInfoStatePending):
		default:
			return fmt.Errorf("media processing failed: state=%s", info.State)
		}
		if i >= maxStatusChecks {
			return fmt.Errorf("media processing did not finish after %d checks: state=%s", i, info.State)
		}

		timer := time.NewTimer(time.Duration(info.CheckAfterSecs) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		next, err := poll(ctx)
		if err != nil {
			return err
		}
		info = next
	}
}

// mediaCategory maps a mime type to the category declared on INIT.
func mediaCategory(mimeType string) uploadtypes.MediaCategory {
	switch media.CategoryOf(mimeType) {
	case media.CategoryImage:
		return uploadtypes.MediaCategoryTweetImage
	case media.CategoryAnimatedImage:
		return uploadtypes.MediaCategoryTweetGIF
	default:
		return uploadtypes.MediaCategory("tweet_video")
	}
}
