package publish

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/blacktop/xpub/internal/xpub"
	"github.com/blacktop/xpub/internal/xpub/upload"
	"github.com/blacktop/xpub/internal/xpub/xpubtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twitterLimits = xpub.Limits{MaxStatusLength: 280, MaxMedia: 4, ChunkSize: 1_000_000}

func newPublisher(r *xpubtest.Remote) *Publisher {
	return New(r.Platform("twitter", twitterLimits, true), upload.Options{})
}

func TestPublishTextOnly(t *testing.T) {
	r := &xpubtest.Remote{PostID: "1234"}
	res, err := newPublisher(r).Publish(context.Background(), xpub.PostRequest{Status: "hello world"})
	require.NoError(t, err)

	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "post", calls[0].Op)
	assert.Equal(t, "hello world", calls[0].Status)
	assert.Empty(t, calls[0].Media)

	assert.Equal(t, "1234", res.PostID)
	assert.Equal(t, "twitter", res.Platform)
	assert.NotEmpty(t, res.PublishID)
}

func TestPublishStatusLength(t *testing.T) {
	t.Run("281 Characters Rejected Before Any Call", func(t *testing.T) {
		r := &xpubtest.Remote{}
		_, err := newPublisher(r).Publish(context.Background(), xpub.PostRequest{
			Status: strings.Repeat("a", 281),
			Media:  []xpub.MediaObject{{MimeType: "image/png", Payload: []byte("x")}},
		})

		var verr xpub.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, xpub.KindCaller, xpub.Classify(err))
		assert.Empty(t, r.Calls())
	})

	t.Run("280 Characters Accepted", func(t *testing.T) {
		r := &xpubtest.Remote{}
		_, err := newPublisher(r).Publish(context.Background(), xpub.PostRequest{Status: strings.Repeat("a", 280)})
		require.NoError(t, err)
		assert.Len(t, r.Ops("post"), 1)
	})

	t.Run("Counts Characters Not Bytes", func(t *testing.T) {
		r := &xpubtest.Remote{}
		_, err := newPublisher(r).Publish(context.Background(), xpub.PostRequest{Status: strings.Repeat("é", 280)})
		require.NoError(t, err)
	})

	t.Run("Empty Post Rejected", func(t *testing.T) {
		r := &xpubtest.Remote{}
		_, err := newPublisher(r).Publish(context.Background(), xpub.PostRequest{})
		require.ErrorAs(t, err, &xpub.ValidationError{})
		assert.Empty(t, r.Calls())
	})
}

func TestPublishTruncatesMedia(t *testing.T) {
	r := &xpubtest.Remote{}
	items := make([]xpub.MediaObject, 5)
	for i := range items {
		items[i] = xpub.MediaObject{MimeType: "image/png", Payload: []byte{byte(i)}}
	}

	res, err := newPublisher(r).Publish(context.Background(), xpub.PostRequest{Status: "five pics", Media: items})
	require.NoError(t, err)

	directs := r.Ops("direct")
	require.Len(t, directs, 4)
	for _, d := range directs {
		assert.NotEqual(t, []byte{4}, d.Bytes, "fifth item must not be uploaded")
	}

	posts := r.Ops("post")
	require.Len(t, posts, 1)
	require.Len(t, posts[0].Media, 4)
	require.Len(t, res.Media, 4)

	byID := map[string][]byte{}
	for _, d := range directs {
		byID[d.MediaID] = d.Bytes
	}
	for i, id := range posts[0].Media {
		assert.Equal(t, []byte{byte(i)}, byID[id], "handles must follow input order")
	}
}

func TestPublishFailures(t *testing.T) {
	t.Run("Chunk Failure Aborts Post", func(t *testing.T) {
		r := &xpubtest.Remote{FailAppend: map[int]error{1: errors.New("boom")}}
		p := New(r.Platform("twitter", xpub.Limits{MaxStatusLength: 280, MaxMedia: 4, ChunkSize: 10}, true), upload.Options{})

		_, err := p.Publish(context.Background(), xpub.PostRequest{
			Status: "video",
			Media:  []xpub.MediaObject{{MimeType: "video/mp4", Payload: make([]byte, 30)}},
		})
		require.ErrorAs(t, err, &xpub.ChunkUploadError{})
		assert.Empty(t, r.Ops("finalize"))
		assert.Empty(t, r.Ops("post"))
	})

	t.Run("Remote Publish Error Is Wrapped", func(t *testing.T) {
		cause := errors.New("duplicate status")
		r := &xpubtest.Remote{FailPost: cause}
		_, err := newPublisher(r).Publish(context.Background(), xpub.PostRequest{Status: "hello"})

		var perr xpub.PublishError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, xpub.KindRemote, xpub.Classify(err))
		assert.Len(t, r.Ops("post"), 1, "no automatic retry")
	})
}
