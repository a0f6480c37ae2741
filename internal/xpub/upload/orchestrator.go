// Package upload moves media objects to a platform, either in a single call
// or through the chunked INIT/APPEND/FINALIZE protocol.
package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/blacktop/xpub/internal/logutil"
	"github.com/blacktop/xpub/internal/xpub"
	"github.com/blacktop/xpub/internal/xpub/media"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Options tune chunked uploads.
type Options struct {
	ChunkSize   int     // bytes per APPEND; falls back to the platform limit, then DefaultChunkSize
	MaxParallel int     // concurrent APPENDs per session; <= 0 means all at once
	AppendRate  float64 // APPENDs per second per session; <= 0 means unthrottled
}

// Orchestrator uploads media for one platform.
type Orchestrator struct {
	provider string
	direct   xpub.DirectUploader
	chunked  xpub.ChunkedUploader
	opts     Options
}

// New builds an Orchestrator for the platform's uploaders.
func New(p xpub.Platform, opts Options) *Orchestrator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = p.Limits.ChunkSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Orchestrator{
		provider: p.Name,
		direct:   p.Direct,
		chunked:  p.Chunked,
		opts:     opts,
	}
}

// Strategy reports how m will be uploaded. Platforms without a chunked
// uploader take everything directly.
func (o *Orchestrator) Strategy(m xpub.MediaObject) media.Strategy {
	if o.chunked == nil {
		return media.Direct
	}
	return media.Classify(m.MimeType)
}

// UploadAll uploads every item concurrently and returns handles in input order.
// The first failure cancels the remaining uploads.
func (o *Orchestrator) UploadAll(ctx context.Context, auth xpub.AuthContext, items []xpub.MediaObject) ([]xpub.MediaHandle, error) {
	handles := make([]xpub.MediaHandle, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range items {
		g.Go(func() error {
			h, err := o.Upload(gctx, auth, m)
			if err != nil {
				return err
			}
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return handles, nil
}

// Upload sends a single media object.
func (o *Orchestrator) Upload(ctx context.Context, auth xpub.AuthContext, m xpub.MediaObject) (xpub.MediaHandle, error) {
	m = media.Normalize(m)
	strategy := o.Strategy(m)
	logutil.Debugf("uploading media: provider=%s mime=%s bytes=%d strategy=%s", o.provider, m.MimeType, m.Size(), strategy)

	if strategy == media.Chunked {
		return o.uploadChunked(ctx, auth, m)
	}
	if o.direct == nil {
		return xpub.MediaHandle{}, xpub.ValidationError{Provider: o.provider, Reason: "media uploads are not supported"}
	}

	h, err := o.direct.UploadDirect(ctx, auth, m)
	if err != nil {
		logutil.Errorf("direct upload failed: provider=%s mime=%s err=%v", o.provider, m.MimeType, err)
		var uerr xpub.MediaUploadError
		if errors.As(err, &uerr) {
			return xpub.MediaHandle{}, err
		}
		return xpub.MediaHandle{}, xpub.MediaUploadError{Provider: o.provider, Err: err}
	}
	logutil.Debugf("media uploaded: provider=%s media_id=%s", o.provider, h.ID)
	return h, nil
}

func (o *Orchestrator) uploadChunked(ctx context.Context, auth xpub.AuthContext, m xpub.MediaObject) (xpub.MediaHandle, error) {
	sess := newSession(m.Size(), o.opts.ChunkSize)

	logutil.Debugf("initialize upload: provider=%s mime=%s bytes=%d", o.provider, m.MimeType, sess.TotalBytes)
	handle, err := o.chunked.Init(ctx, auth, m)
	if err == nil && handle.ID == "" {
		err = errors.New("response did not include a media id")
	}
	if err != nil {
		sess.fail()
		logutil.Errorf("initialize upload failed: provider=%s err=%v", o.provider, err)
		var ierr xpub.UploadInitError
		if errors.As(err, &ierr) {
			return xpub.MediaHandle{}, err
		}
		return xpub.MediaHandle{}, xpub.UploadInitError{Provider: o.provider, Err: err}
	}
	sess.MediaID = handle.ID
	if err := sess.advance(StateAppending); err != nil {
		return xpub.MediaHandle{}, err
	}

	segments := Segments(m.Payload, sess.ChunkSize)
	if err := o.appendAll(ctx, auth, handle, segments); err != nil {
		sess.fail()
		logutil.Errorf("append upload failed: provider=%s media_id=%s err=%v", o.provider, handle.ID, err)
		return xpub.MediaHandle{}, err
	}
	sess.NextSegmentIndex = len(segments)

	covered := 0
	for _, s := range segments {
		covered += len(s)
	}
	if covered != sess.TotalBytes {
		sess.fail()
		return xpub.MediaHandle{}, fmt.Errorf("upload session %s: %d of %d bytes appended", handle.ID, covered, sess.TotalBytes)
	}
	if err := sess.advance(StateFinalizing); err != nil {
		return xpub.MediaHandle{}, err
	}

	logutil.Debugf("finalize upload: provider=%s media_id=%s segments=%d", o.provider, handle.ID, sess.NextSegmentIndex)
	if err := o.chunked.Finalize(ctx, auth, handle); err != nil {
		sess.fail()
		logutil.Errorf("finalize upload failed: provider=%s media_id=%s err=%v", o.provider, handle.ID, err)
		var ferr xpub.FinalizeError
		if errors.As(err, &ferr) {
			return xpub.MediaHandle{}, err
		}
		return xpub.MediaHandle{}, xpub.FinalizeError{Provider: o.provider, MediaID: handle.ID, Err: err}
	}
	if err := sess.advance(StateComplete); err != nil {
		return xpub.MediaHandle{}, err
	}

	logutil.Debugf("media uploaded: provider=%s media_id=%s", o.provider, handle.ID)
	return handle, nil
}

// appendAll submits every segment with its precomputed index. Workers share
// nothing but the read-only segment slice.
func (o *Orchestrator) appendAll(ctx context.Context, auth xpub.AuthContext, handle xpub.MediaHandle, segments [][]byte) error {
	var limiter *rate.Limiter
	if o.opts.AppendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.opts.AppendRate), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	if o.opts.MaxParallel > 0 {
		g.SetLimit(o.opts.MaxParallel)
	}
	for i, chunk := range segments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return xpub.ChunkUploadError{Provider: o.provider, MediaID: handle.ID, Segment: i, Err: err}
				}
			}
			logutil.Debugf("append upload: media_id=%s segment=%d bytes=%d", handle.ID, i, len(chunk))
			if err := o.chunked.Append(gctx, auth, handle, i, chunk); err != nil {
				return xpub.ChunkUploadError{Provider: o.provider, MediaID: handle.ID, Segment: i, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}
