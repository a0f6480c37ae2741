// Package xpubtest contains recording test doubles for the platform capability interfaces.
package xpubtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blacktop/xpub/internal/xpub"
)

// Call is one recorded remote call.
type Call struct {
	Op       string // "direct", "init", "append", "finalize", "post"
	MediaID  string
	MimeType string
	Segment  int
	Bytes    []byte
	Status   string
	Media    []string
}

// Remote is an in-memory platform that records every call. Set the Fail*
// fields to inject failures.
type Remote struct {
	FailDirect   error
	FailInit     error
	FailAppend   map[int]error
	FailFinalize error
	FailPost     error
	PostID       string

	mu    sync.Mutex
	calls []Call
	seq   atomic.Int64
}

// Platform returns a platform backed by r. Pass chunked=false for a
// platform that only accepts direct uploads.
func (r *Remote) Platform(name string, limits xpub.Limits, chunked bool) xpub.Platform {
	p := xpub.Platform{
		Name:   name,
		Limits: limits,
		Direct: r,
		Poster: r,
	}
	if chunked {
		p.Chunked = r
	}
	return p
}

func (r *Remote) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *Remote) nextID() string {
	return fmt.Sprintf("media-%d", r.seq.Add(1))
}

// Calls returns a copy of the recorded calls.
func (r *Remote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Ops returns the recorded calls filtered by operation.
func (r *Remote) Ops(op string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (r *Remote) UploadDirect(ctx context.Context, auth xpub.AuthContext, m xpub.MediaObject) (xpub.MediaHandle, error) {
	id := r.nextID()
	r.record(Call{Op: "direct", MediaID: id, MimeType: m.MimeType, Bytes: m.Payload})
	if r.FailDirect != nil {
		return xpub.MediaHandle{}, r.FailDirect
	}
	return xpub.MediaHandle{ID: id}, nil
}

func (r *Remote) Init(ctx context.Context, auth xpub.AuthContext, m xpub.MediaObject) (xpub.MediaHandle, error) {
	id := r.nextID()
	r.record(Call{Op: "init", MediaID: id, MimeType: m.MimeType})
	if r.FailInit != nil {
		return xpub.MediaHandle{}, r.FailInit
	}
	return xpub.MediaHandle{ID: id}, nil
}

func (r *Remote) Append(ctx context.Context, auth xpub.AuthContext, h xpub.MediaHandle, segment int, chunk []byte) error {
	r.record(Call{Op: "append", MediaID: h.ID, Segment: segment, Bytes: chunk})
	if err, ok := r.FailAppend[segment]; ok {
		return err
	}
	return nil
}

func (r *Remote) Finalize(ctx context.Context, auth xpub.AuthContext, h xpub.MediaHandle) error {
	r.record(Call{Op: "finalize", MediaID: h.ID})
	return r.FailFinalize
}

func (r *Remote) PostStatus(ctx context.Context, auth xpub.AuthContext, status string, media []xpub.MediaHandle) (string, error) {
	ids := make([]string, 0, len(media))
	for _, h := range media {
		ids = append(ids, h.ID)
	}
	r.record(Call{Op: "post", Status: status, Media: ids})
	if r.FailPost != nil {
		return "", r.FailPost
	}
	if r.PostID == "" {
		return "post-1", nil
	}
	return r.PostID, nil
}
