// Package evidence defines the data model and error taxonomy shared by the
// pipeline and its stage implementations.
package evidence

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure.
type ErrorKind int

const (
	// KindIO represents I/O errors reading the source file.
	KindIO ErrorKind = iota
	// KindTruncatedRead means the observed byte count did not match the
	// file's reported length, indicating concurrent modification.
	KindTruncatedRead
	// KindUnsupportedFormat means the probe ran but the input is not
	// decodable media.
	KindUnsupportedFormat
	// KindProbeUnavailable means the external probe could not be invoked.
	KindProbeUnavailable
	// KindDecode means the video stream could not be decoded at all.
	KindDecode
	// KindPartialExtraction means the decoder failed after some frames had
	// already been extracted. The extracted prefix is preserved.
	KindPartialExtraction
	// KindUnsupportedImage means a frame's pixel format cannot be re-encoded.
	KindUnsupportedImage
	// KindTimeout means a stage exceeded its configured deadline.
	KindTimeout
	// KindCancelled means the caller cancelled the run.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindTruncatedRead:
		return "truncated_read"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindProbeUnavailable:
		return "probe_unavailable"
	case KindDecode:
		return "decode"
	case KindPartialExtraction:
		return "partial_extraction"
	case KindUnsupportedImage:
		return "unsupported_image"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the structured error type surfaced by every stage.
type Error struct {
	Kind       ErrorKind
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is reports whether target matches this error's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError creates a structured error of the given kind.
func NewError(kind ErrorKind, message string, underlying error) *Error {
	return &Error{Kind: kind, Message: message, Underlying: underlying}
}

// IsKind checks whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind carried by err, or KindIO with ok=false when err is
// not a structured pipeline error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindIO, false
}

// Retryable reports whether the orchestrator may retry the failed stage.
// Decode and format errors are deterministic for a given input and are never
// retried.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindProbeUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// FromContext maps a context error to the taxonomy. Returns nil when ctx is
// still live.
func FromContext(ctx context.Context) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return NewError(KindTimeout, "stage deadline exceeded", ctx.Err())
	case context.Canceled:
		return NewError(KindCancelled, "run cancelled by caller", ctx.Err())
	default:
		return nil
	}
}
