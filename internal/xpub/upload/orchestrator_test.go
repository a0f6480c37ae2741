package upload

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/blacktop/xpub/internal/xpub"
	"github.com/blacktop/xpub/internal/xpub/xpubtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var limits = xpub.Limits{MaxStatusLength: 280, MaxMedia: 4, ChunkSize: 10}

func newOrchestrator(r *xpubtest.Remote, chunked bool, opts Options) *Orchestrator {
	return New(r.Platform("fake", limits, chunked), opts)
}

func segmentsOf(calls []xpubtest.Call) []int {
	var idx []int
	for _, c := range calls {
		idx = append(idx, c.Segment)
	}
	sort.Ints(idx)
	return idx
}

func TestUploadStrategy(t *testing.T) {
	t.Run("Still Image Goes Direct", func(t *testing.T) {
		r := &xpubtest.Remote{}
		h, err := newOrchestrator(r, true, Options{}).Upload(context.Background(), xpub.AuthContext{}, xpub.MediaObject{MimeType: "image/png", Payload: []byte("png")})
		require.NoError(t, err)
		assert.Equal(t, "media-1", h.ID)
		assert.Len(t, r.Ops("direct"), 1)
		assert.Empty(t, r.Ops("init"))
	})

	t.Run("Gif Is Chunked", func(t *testing.T) {
		r := &xpubtest.Remote{}
		_, err := newOrchestrator(r, true, Options{}).Upload(context.Background(), xpub.AuthContext{}, xpub.MediaObject{MimeType: "image/gif", Payload: []byte("gif")})
		require.NoError(t, err)
		assert.Empty(t, r.Ops("direct"))
		assert.Len(t, r.Ops("init"), 1)
		assert.Len(t, r.Ops("finalize"), 1)
	})

	t.Run("Platform Without Chunked Uploads", func(t *testing.T) {
		r := &xpubtest.Remote{}
		_, err := newOrchestrator(r, false, Options{}).Upload(context.Background(), xpub.AuthContext{}, xpub.MediaObject{MimeType: "video/mp4", Payload: []byte("mp4")})
		require.NoError(t, err)
		assert.Len(t, r.Ops("direct"), 1)
		assert.Empty(t, r.Ops("init"))
	})
}

func TestChunkedUpload(t *testing.T) {
	sizes := []int{0, 1, 9, 10, 11, 25, 100}
	for _, size := range sizes {
		payload := bytes.Repeat([]byte{'v'}, size)
		r := &xpubtest.Remote{}
		h, err := newOrchestrator(r, true, Options{MaxParallel: 2}).Upload(context.Background(), xpub.AuthContext{}, xpub.MediaObject{MimeType: "video/mp4", Payload: payload})
		require.NoError(t, err, "size=%d", size)

		want := max(1, (size+9)/10)
		appends := r.Ops("append")
		require.Len(t, appends, want, "size=%d", size)

		expected := make([]int, want)
		for i := range expected {
			expected[i] = i
		}
		assert.Equal(t, expected, segmentsOf(appends), "size=%d", size)

		sort.Slice(appends, func(i, j int) bool { return appends[i].Segment < appends[j].Segment })
		var joined []byte
		for _, a := range appends {
			assert.Equal(t, h.ID, a.MediaID)
			joined = append(joined, a.Bytes...)
		}
		assert.Equal(t, payload, joined, "size=%d", size)

		calls := r.Calls()
		assert.Equal(t, "init", calls[0].Op)
		assert.Equal(t, "finalize", calls[len(calls)-1].Op)
	}
}

func TestChunkedUploadFailures(t *testing.T) {
	video := xpub.MediaObject{MimeType: "video/mp4", Payload: bytes.Repeat([]byte{'v'}, 30)}

	t.Run("Init Failure", func(t *testing.T) {
		r := &xpubtest.Remote{FailInit: errors.New("bad gateway")}
		_, err := newOrchestrator(r, true, Options{}).Upload(context.Background(), xpub.AuthContext{}, video)

		var ierr xpub.UploadInitError
		require.ErrorAs(t, err, &ierr)
		assert.Empty(t, r.Ops("append"))
		assert.Empty(t, r.Ops("finalize"))
	})

	t.Run("Second Of Three Chunks Fails", func(t *testing.T) {
		r := &xpubtest.Remote{FailAppend: map[int]error{1: errors.New("segment rejected")}}
		_, err := newOrchestrator(r, true, Options{}).Upload(context.Background(), xpub.AuthContext{}, video)

		var cerr xpub.ChunkUploadError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, 1, cerr.Segment)
		assert.Empty(t, r.Ops("finalize"))
	})

	t.Run("Sequential Appends Stop At First Failure", func(t *testing.T) {
		r := &xpubtest.Remote{FailAppend: map[int]error{1: errors.New("segment rejected")}}
		_, err := newOrchestrator(r, true, Options{MaxParallel: 1}).Upload(context.Background(), xpub.AuthContext{}, video)

		require.ErrorAs(t, err, &xpub.ChunkUploadError{})
		assert.Equal(t, []int{0, 1}, segmentsOf(r.Ops("append")))
		assert.Empty(t, r.Ops("finalize"))
	})

	t.Run("Finalize Failure", func(t *testing.T) {
		r := &xpubtest.Remote{FailFinalize: errors.New("processing failed")}
		_, err := newOrchestrator(r, true, Options{}).Upload(context.Background(), xpub.AuthContext{}, video)

		var ferr xpub.FinalizeError
		require.ErrorAs(t, err, &ferr)
		assert.Equal(t, "media-1", ferr.MediaID)
		assert.Len(t, r.Ops("append"), 3)
	})

	t.Run("Direct Failure", func(t *testing.T) {
		r := &xpubtest.Remote{FailDirect: errors.New("too large")}
		_, err := newOrchestrator(r, true, Options{}).Upload(context.Background(), xpub.AuthContext{}, xpub.MediaObject{MimeType: "image/jpeg"})
		require.ErrorAs(t, err, &xpub.MediaUploadError{})
		assert.Equal(t, xpub.KindRemote, xpub.Classify(err))
	})
}

func TestAppendRate(t *testing.T) {
	r := &xpubtest.Remote{}
	o := newOrchestrator(r, true, Options{AppendRate: 1000})
	_, err := o.Upload(context.Background(), xpub.AuthContext{}, xpub.MediaObject{MimeType: "video/mp4", Payload: make([]byte, 35)})
	require.NoError(t, err)
	assert.Len(t, r.Ops("append"), 4)
}

func TestUploadAll(t *testing.T) {
	t.Run("Preserves Input Order", func(t *testing.T) {
		r := &xpubtest.Remote{}
		items := []xpub.MediaObject{
			{MimeType: "image/png", Payload: []byte("a")},
			{MimeType: "video/mp4", Payload: make([]byte, 25)},
			{MimeType: "image/jpeg", Payload: []byte("c")},
		}
		handles, err := newOrchestrator(r, true, Options{}).UploadAll(context.Background(), xpub.AuthContext{}, items)
		require.NoError(t, err)
		require.Len(t, handles, 3)

		byID := map[string]xpubtest.Call{}
		for _, c := range r.Calls() {
			if c.Op == "direct" || c.Op == "init" {
				byID[c.MediaID] = c
			}
		}
		for i, h := range handles {
			assert.Equal(t, items[i].MimeType, byID[h.ID].MimeType)
		}
	})

	t.Run("First Failure Is Surfaced", func(t *testing.T) {
		r := &xpubtest.Remote{FailFinalize: errors.New("nope")}
		_, err := newOrchestrator(r, true, Options{}).UploadAll(context.Background(), xpub.AuthContext{}, []xpub.MediaObject{
			{MimeType: "video/mp4", Payload: []byte("v")},
		})
		require.ErrorAs(t, err, &xpub.FinalizeError{})
	})

	t.Run("Empty", func(t *testing.T) {
		handles, err := newOrchestrator(&xpubtest.Remote{}, true, Options{}).UploadAll(context.Background(), xpub.AuthContext{}, nil)
		require.NoError(t, err)
		assert.Empty(t, handles)
	})
}
