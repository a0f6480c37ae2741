// Package publish composes a status and its uploaded media into a platform's publish call.
package publish

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/blacktop/xpub/internal/logutil"
	"github.com/blacktop/xpub/internal/xpub"
	"github.com/blacktop/xpub/internal/xpub/upload"
	"github.com/google/uuid"
)

// Publisher posts statuses to a single platform.
type Publisher struct {
	name     string
	limits   xpub.Limits
	uploader *upload.Orchestrator
	poster   xpub.StatusPoster
}

// New builds a Publisher for p, uploading media with opts.
func New(p xpub.Platform, opts upload.Options) *Publisher {
	return &Publisher{
		name:     p.Name,
		limits:   p.Limits,
		uploader: upload.New(p, opts),
		poster:   p.Poster,
	}
}

// Name identifies the platform.
func (p *Publisher) Name() string { return p.name }

// Validate checks req against the platform limits without touching the network.
func (p *Publisher) Validate(req xpub.PostRequest) error {
	if limit := p.limits.MaxStatusLength; limit > 0 {
		if n := utf8.RuneCountInString(req.Status); n > limit {
			return xpub.ValidationError{Provider: p.name, Reason: fmt.Sprintf("status is longer than %d characters (%d)", limit, n)}
		}
	}
	if req.Status == "" && len(req.Media) == 0 {
		return xpub.ValidationError{Provider: p.name, Reason: "status or media is required"}
	}
	return nil
}

// Attachments returns the media that will be uploaded for req. Items beyond
// the platform's attachment limit are dropped.
func (p *Publisher) Attachments(req xpub.PostRequest) []xpub.MediaObject {
	items := req.Media
	if limit := p.limits.MaxMedia; limit > 0 && len(items) > limit {
		logutil.Warnf("dropping extra media: provider=%s given=%d max=%d", p.name, len(items), limit)
		items = items[:limit]
	}
	return items
}

// Publish validates req, uploads its media and posts the status.
func (p *Publisher) Publish(ctx context.Context, req xpub.PostRequest) (xpub.PublishResult, error) {
	if err := p.Validate(req); err != nil {
		return xpub.PublishResult{}, err
	}

	result := xpub.PublishResult{Platform: p.name, PublishID: uuid.NewString()}
	items := p.Attachments(req)

	if len(items) > 0 {
		logutil.Debugf("uploading media: provider=%s publish_id=%s count=%d", p.name, result.PublishID, len(items))
		handles, err := p.uploader.UploadAll(ctx, req.Authorization, items)
		if err != nil {
			return xpub.PublishResult{}, err
		}
		result.Media = handles
	}

	logutil.Debugf("posting status: provider=%s publish_id=%s media_count=%d", p.name, result.PublishID, len(result.Media))
	postID, err := p.poster.PostStatus(ctx, req.Authorization, req.Status, result.Media)
	if err != nil {
		logutil.Errorf("post status failed: provider=%s publish_id=%s err=%v", p.name, result.PublishID, err)
		var perr xpub.PublishError
		if errors.As(err, &perr) {
			return xpub.PublishResult{}, err
		}
		return xpub.PublishResult{}, xpub.PublishError{Provider: p.name, Err: err}
	}
	result.PostID = postID
	logutil.Infof("status posted: provider=%s post_id=%s", p.name, postID)

	return result, nil
}
