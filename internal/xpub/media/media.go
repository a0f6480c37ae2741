// Package media decides how an attachment is uploaded and loads attachments
// from disk or encoded payloads.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/blacktop/xpub/internal/xpub"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

// Strategy is how a media object reaches the platform.
type Strategy int

const (
	// Direct uploads the whole payload in one call.
	Direct Strategy = iota
	// Chunked drives the INIT/APPEND/FINALIZE protocol.
	Chunked
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case Chunked:
		return "chunked"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Category is the media category declared on INIT.
type Category string

const (
	CategoryImage         Category = "image"
	CategoryAnimatedImage Category = "animated_image"
	CategoryVideo         Category = "video"
)

// Classify picks the upload strategy for a declared mime type. Still images
// go direct; video and animated images (GIF) are chunked. Size plays no part.
func Classify(mimeType string) Strategy {
	mt := strings.ToLower(mimeType)
	if strings.Contains(mt, "image") && !strings.Contains(mt, "gif") {
		return Direct
	}
	return Chunked
}

// CategoryOf derives the media category from a mime type.
func CategoryOf(mimeType string) Category {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "gif"):
		return CategoryAnimatedImage
	case strings.Contains(mt, "image"):
		return CategoryImage
	default:
		return CategoryVideo
	}
}

// Detect sniffs the mime type of a payload.
func Detect(payload []byte) string {
	kind, err := filetype.Match(payload)
	if err == nil && kind != types.Unknown {
		return kind.MIME.Value
	}
	// fallback to simple detection
	return http.DetectContentType(payload)
}

// Normalize fills in a missing mime type from the payload.
func Normalize(m xpub.MediaObject) xpub.MediaObject {
	if strings.TrimSpace(m.MimeType) == "" {
		m.MimeType = Detect(m.Payload)
	}
	return m
}

// Load reads a media object from disk.
func Load(path, description string) (xpub.MediaObject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return xpub.MediaObject{}, xpub.ValidationError{Provider: "media", Reason: fmt.Sprintf("file %q not found", path)}
		}
		return xpub.MediaObject{}, fmt.Errorf("read media: %w", err)
	}
	return Normalize(xpub.MediaObject{Payload: data, Description: description}), nil
}

// FromBase64 decodes a base64 payload with a declared mime type.
func FromBase64(mimeType, encoded, description string) (xpub.MediaObject, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return xpub.MediaObject{}, xpub.ValidationError{Provider: "media", Reason: fmt.Sprintf("invalid base64 payload: %v", err)}
	}
	return Normalize(xpub.MediaObject{MimeType: mimeType, Payload: data, Description: description}), nil
}
