package services

import (
	"errors"
	"strings"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("invalid state")
	ErrTooLarge   = errors.New("payload too large")
	ErrSaturated  = errors.New("worker pool saturated")
	ErrTransient  = errors.New("transient failure")
	ErrTimeout    = errors.New("timeout")
	ErrProcessing = errors.New("processing failed")
)

// OpError tags a failure with one of the markers above and carries the short
// message that is safe to show to API callers.
type OpError struct {
	Marker  error
	Op      string
	Message string
	Err     error
}

func (e *OpError) Error() string {
	parts := []string{e.Marker.Error()}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Err}
}

// Wrap builds an OpError. A nil marker is treated as transient.
func Wrap(marker error, op, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &OpError{Marker: marker, Op: op, Message: strings.TrimSpace(message), Err: err}
}

// PublicMessage returns the caller-facing message attached by Wrap, if any.
func PublicMessage(err error) (string, bool) {
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Message != "" {
		return opErr.Message, true
	}
	return "", false
}

// Kind names the marker carried by err, for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrSaturated):
		return "saturated"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProcessing):
		return "processing"
	default:
		return "transient"
	}
}
