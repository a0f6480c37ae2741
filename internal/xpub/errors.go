package xpub

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// MissingEnvError is returned when required configuration is missing.
type MissingEnvError struct {
	Provider  string
	Variables []string
}

func (e MissingEnvError) Error() string {
	if len(e.Variables) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Provider)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Provider, strings.Join(e.Variables, ", "))
}

// ValidationError captures caller input that violates a static platform constraint.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// NotRegisteredError is returned when a token exchange is attempted for a
// platform that has no stored registration.
type NotRegisteredError struct {
	PlatformID string
}

func (e NotRegisteredError) Error() string {
	return fmt.Sprintf("tried to authorize a client to an unregistered instance: %s", e.PlatformID)
}

// RegistrationError is returned when the remote platform rejects app registration.
type RegistrationError struct {
	PlatformID string
	Err        error
}

func (e RegistrationError) Error() string {
	return fmt.Sprintf("register %s: %v", e.PlatformID, e.Err)
}

func (e RegistrationError) Unwrap() error { return e.Err }

// AuthorizationError is returned when an OAuth handshake step fails.
type AuthorizationError struct {
	PlatformID string
	Err        error
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("unable to authorize %s: %v", e.PlatformID, e.Err)
}

func (e AuthorizationError) Unwrap() error { return e.Err }

// UploadInitError is returned when the INIT step of a chunked upload fails.
type UploadInitError struct {
	Provider string
	Err      error
}

func (e UploadInitError) Error() string {
	return fmt.Sprintf("%s initialize upload: %v", e.Provider, e.Err)
}

func (e UploadInitError) Unwrap() error { return e.Err }

// ChunkUploadError is returned when an APPEND fails. The session is abandoned.
type ChunkUploadError struct {
	Provider string
	MediaID  string
	Segment  int
	Err      error
}

func (e ChunkUploadError) Error() string {
	return fmt.Sprintf("%s append upload: media_id=%s segment=%d: %v", e.Provider, e.MediaID, e.Segment, e.Err)
}

func (e ChunkUploadError) Unwrap() error { return e.Err }

// FinalizeError is returned when FINALIZE fails or the platform reports failed processing.
type FinalizeError struct {
	Provider string
	MediaID  string
	Err      error
}

func (e FinalizeError) Error() string {
	return fmt.Sprintf("%s finalize upload: media_id=%s: %v", e.Provider, e.MediaID, e.Err)
}

func (e FinalizeError) Unwrap() error { return e.Err }

// MediaUploadError is returned when a direct (single call) upload fails.
type MediaUploadError struct {
	Provider string
	Err      error
}

func (e MediaUploadError) Error() string {
	return fmt.Sprintf("%s upload media: %v", e.Provider, e.Err)
}

func (e MediaUploadError) Unwrap() error { return e.Err }

// PublishError wraps a failure of the final status publish call.
type PublishError struct {
	Provider string
	Err      error
}

func (e PublishError) Error() string {
	return fmt.Sprintf("%s post status: %v", e.Provider, e.Err)
}

func (e PublishError) Unwrap() error { return e.Err }

// ErrorKind tells a surrounding service layer who is at fault.
type ErrorKind int

const (
	// KindRemote covers remote platform, network and other transient failures.
	KindRemote ErrorKind = iota
	// KindCaller covers input and sequencing errors that must not be retried.
	KindCaller
)

func (k ErrorKind) String() string {
	if k == KindCaller {
		return "caller"
	}
	return "remote"
}

// Classify places err into exactly one ErrorKind.
func Classify(err error) ErrorKind {
	var (
		validation    ValidationError
		notRegistered NotRegisteredError
		missing       MissingEnvError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &notRegistered), errors.As(err, &missing):
		return KindCaller
	default:
		return KindRemote
	}
}

// HTTPStatus maps err to the status code a service layer should answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if Classify(err) == KindCaller {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
