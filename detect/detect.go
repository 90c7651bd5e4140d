// Package detect abstracts the face detection capability consumed by the batch scanner
// and the merge command.
package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/esimov/facemerge/landmark"
)

// Detector finds faces and their landmarks in an encoded image.
// Implementations must be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, img []byte) ([]Face, error)
}

// Face is a single detection result.
type Face struct {
	ID        string          `json:"faceId"`
	Rect      image.Rectangle `json:"-"`
	Landmarks landmark.Set    `json:"faceLandmarks"`
}

// Kind classifies detection failures.
type Kind int

// Failure kinds. Transient and RateLimited are retryable.
const (
	Other Kind = iota
	Transient
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate limited"
	default:
		return "other"
	}
}

// Error is returned by detectors for failures reported by the detection backend.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// RetryAfter is the delay requested by the backend, zero if unknown.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("detection failed (%v): %s: %s", e.Kind, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("detection failed (%v): %s", e.Kind, e.Code)
	case e.Message != "":
		return fmt.Sprintf("detection failed (%v): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("detection failed (%v)", e.Kind)
}

// NewTransient returns a retryable error for a temporary backend condition.
func NewTransient(reason string) *Error {
	return &Error{Kind: Transient, Code: "ConcurrentOperationConflict", Message: reason}
}

// NewRateLimited returns a retryable throttling error.
func NewRateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: RateLimited, Code: "RateLimitExceeded", RetryAfter: retryAfter}
}

// NewOther returns a permanent error.
func NewOther(code, message string) *Error {
	return &Error{Kind: Other, Code: code, Message: message}
}

// IsRetryable reports whether err is a transient or rate limiting detection error.
func IsRetryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == Transient || de.Kind == RateLimited
	}
	return false
}

// RetryAfter returns the delay requested by the backend, if any.
func RetryAfter(err error) time.Duration {
	var de *Error
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}
