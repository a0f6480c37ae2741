package twitter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/blacktop/xpub/internal/xpub"
	"github.com/dghubble/oauth1"
	"github.com/michimani/gotwi"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/request_token", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), `oauth_callback="oob"`)
		assert.Contains(t, r.Header.Get("Authorization"), `oauth_consumer_key="key"`)
		io.WriteString(w, "oauth_token=rt&oauth_token_secret=rs&oauth_callback_confirmed=true")
	})
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Authorization"), `oauth_verifier="1234"`) {
			http.Error(w, "invalid verifier", http.StatusUnauthorized)
			return
		}
		io.WriteString(w, "oauth_token=at&oauth_token_secret=as&screen_name=blacktop")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testFlow(srv *httptest.Server) *Flow {
	return NewFlow(Config{
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Endpoint: oauth1.Endpoint{
			RequestTokenURL: srv.URL + "/oauth/request_token",
			AuthorizeURL:    srv.URL + "/oauth/authenticate",
			AccessTokenURL:  srv.URL + "/oauth/access_token",
		},
	})
}

func TestFlow(t *testing.T) {
	srv := newOAuthServer(t)
	flow := testFlow(srv)
	ctx := context.Background()

	reg, ok := flow.Registration("twitter")
	require.True(t, ok)
	assert.Equal(t, "key", reg.ClientID)

	ch, err := flow.Challenge(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, "rt", ch.RequestToken)
	assert.Equal(t, "rs", ch.RequestSecret)

	u, err := url.Parse(ch.URL)
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authenticate", u.Path)
	assert.Equal(t, "rt", u.Query().Get("oauth_token"))

	t.Run("Wrong PIN", func(t *testing.T) {
		_, err := flow.Exchange(ctx, reg, ch, "0000")
		assert.Error(t, err)
	})

	t.Run("PIN", func(t *testing.T) {
		auth, err := flow.Exchange(ctx, reg, ch, "1234")
		require.NoError(t, err)
		assert.Equal(t, "at", auth.AccessToken)
		assert.Equal(t, "as", auth.AccessTokenSecret)
	})

	t.Run("Missing Request Token", func(t *testing.T) {
		_, err := flow.Exchange(ctx, reg, xpub.Challenge{}, "1234")
		require.ErrorAs(t, err, &xpub.ValidationError{})
	})
}

func TestFlowWithoutConsumerKeys(t *testing.T) {
	flow := NewFlow(Config{ConsumerKey: "key"})
	assert.Equal(t, AuthenticateEndpoint, flow.cfg.Endpoint)

	_, ok := flow.Registration("twitter")
	assert.False(t, ok)

	_, err := flow.Register(context.Background(), "twitter")
	var merr xpub.MissingEnvError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, []string{envConsumerSecret}, merr.Variables)
	assert.Equal(t, xpub.KindCaller, xpub.Classify(err))
}

func TestClientRequiresTokens(t *testing.T) {
	c := New(false)
	_, err := c.UploadDirect(context.Background(), xpub.AuthContext{ClientID: "key", ClientSecret: "secret"}, xpub.MediaObject{})
	var merr xpub.MissingEnvError
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Variables, 1)
}

func TestMediaCategory(t *testing.T) {
	assert.Equal(t, uploadtypes.MediaCategoryTweetImage, mediaCategory("image/png"))
	assert.Equal(t, uploadtypes.MediaCategoryTweetGIF, mediaCategory("image/gif"))
	assert.Equal(t, uploadtypes.MediaCategory("tweet_video"), mediaCategory("video/mp4"))
}

func TestAwaitProcessing(t *testing.T) {
	ctx := context.Background()
	noPoll := func(context.Context) (processingInfo, error) {
		t.Fatal("unexpected poll")
		return processingInfo{}, nil
	}

	t.Run("Images Skip Processing", func(t *testing.T) {
		assert.NoError(t, awaitProcessing(ctx, "1", processingInfo{}, noPoll))
	})

	t.Run("Polls Until Succeeded", func(t *testing.T) {
		states := []string{"in_progress", "succeeded"}
		polls := 0
		err := awaitProcessing(ctx, "1", processingInfo{State: "pending"}, func(context.Context) (processingInfo, error) {
			s := states[polls]
			polls++
			return processingInfo{State: s}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, polls)
	})

	t.Run("Failed State", func(t *testing.T) {
		err := awaitProcessing(ctx, "1", processingInfo{State: "failed"}, noPoll)
		assert.ErrorContains(t, err, "state=failed")
	})

	t.Run("Poll Error", func(t *testing.T) {
		boom := errors.New("boom")
		err := awaitProcessing(ctx, "1", processingInfo{State: "pending"}, func(context.Context) (processingInfo, error) {
			return processingInfo{}, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Gives Up", func(t *testing.T) {
		err := awaitProcessing(ctx, "1", processingInfo{State: "pending"}, func(context.Context) (processingInfo, error) {
			return processingInfo{State: "in_progress"}, nil
		})
		assert.ErrorContains(t, err, "did not finish")
	})

	t.Run("Canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := awaitProcessing(cctx, "1", processingInfo{State: "pending", CheckAfterSecs: 5}, noPoll)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPartialError(t *testing.T) {
	assert.NoError(t, partialError(nil))

	err := partialError([]resources.PartialError{
		{Detail: gotwi.String("media type unsupported")},
		{Title: gotwi.String("Invalid Request")},
	})
	assert.EqualError(t, err, "media type unsupported; Invalid Request")

	assert.EqualError(t, partialError([]resources.PartialError{{}}), "unknown error")
}

func TestUnwrapGotwiError(t *testing.T) {
	plain := errors.New("dial tcp: timeout")
	assert.Equal(t, plain, unwrapGotwiError(plain))
	assert.Equal(t, "unknown X API error", summarizeGotwiError(nil))
}

func TestUploadParameters(t *testing.T) {
	t.Run("Simple Upload Form", func(t *testing.T) {
		p := &simpleUploadParameters{mediaData: "aGVsbG8=", category: "tweet_image"}
		body, err := p.Body()
		require.NoError(t, err)
		raw, err := io.ReadAll(body)
		require.NoError(t, err)

		form, err := url.ParseQuery(string(raw))
		require.NoError(t, err)
		assert.Equal(t, "aGVsbG8=", form.Get("media_data"))
		assert.Equal(t, "tweet_image", form.Get("media_category"))
	})

	t.Run("Status Query", func(t *testing.T) {
		p := &statusParameters{mediaID: "42"}
		u, err := url.Parse(p.ResolveEndpoint(statusEndpoint))
		require.NoError(t, err)
		assert.Equal(t, "STATUS", u.Query().Get("command"))
		assert.Equal(t, "42", u.Query().Get("media_id"))
	})

	t.Run("Metadata Body", func(t *testing.T) {
		p := &metadataParameters{mediaID: "42", altText: "a cat"}
		p.SetAccessToken("tok")
		assert.Equal(t, "tok", p.AccessToken())

		body, err := p.Body()
		require.NoError(t, err)
		raw, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"media_id":"42","alt_text":{"text":"a cat"}}`, string(raw))
	})
}

func TestPlatform(t *testing.T) {
	p := Platform(Config{ConsumerKey: "key", ConsumerSecret: "secret"})
	assert.Equal(t, "twitter", p.Name)
	assert.Equal(t, 280, p.Limits.MaxStatusLength)
	assert.Equal(t, 4, p.Limits.MaxMedia)
	assert.Equal(t, 1_000_000, p.Limits.ChunkSize)
	assert.NotNil(t, p.Chunked)
	assert.Implements(t, (*xpub.Preregistered)(nil), p.Flow)
}
