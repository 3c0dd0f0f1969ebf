package domain

import (
	"errors"
	"fmt"
)

// Base error kinds. Every per-item failure wraps exactly one of these so
// the batch runner can classify outcomes without string matching.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrSourceRead    = errors.New("source read error")
	ErrInvalidCog    = errors.New("invalid cog")
	ErrNaming        = errors.New("naming error")
	ErrResource      = errors.New("resource error")
	ErrUpload        = errors.New("upload error")
)

// Retryable reports whether an error kind may be retried. Only workspace
// exhaustion and upload transport failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrResource) || errors.Is(err, ErrUpload)
}

// Kind returns the short name of the base error kind wrapped by err, or
// "internal" if it wraps none of them.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrSourceRead):
		return "source_read"
	case errors.Is(err, ErrInvalidCog):
		return "invalid_cog"
	case errors.Is(err, ErrNaming):
		return "naming"
	case errors.Is(err, ErrResource):
		return "resource"
	case errors.Is(err, ErrUpload):
		return "upload"
	default:
		return "internal"
	}
}

// PixelTypeError reports an unsupported pixel type. It is a
// configuration error: failing fast here avoids masking real data with a
// sentinel the type cannot represent.
type PixelTypeError struct {
	PixelType PixelType
	Source    string
}

// Error implements the error interface.
func (e *PixelTypeError) Error() string {
	return fmt.Sprintf("unsupported pixel type %q for %s", e.PixelType, e.Source)
}

// Unwrap returns the underlying error kind.
func (e *PixelTypeError) Unwrap() error {
	return ErrConfiguration
}

// NameError reports a source filename that does not follow any known
// sensor convention.
type NameError struct {
	Filename string
	Reason   string
}

// Error implements the error interface.
func (e *NameError) Error() string {
	return fmt.Sprintf("cannot derive key for %s: %s", e.Filename, e.Reason)
}

// Unwrap returns the underlying error kind.
func (e *NameError) Unwrap() error {
	return ErrNaming
}

// ValidationFailure wraps a failed ValidationReport as an error.
type ValidationFailure struct {
	Path   string
	Report ValidationReport
}

// Error implements the error interface.
func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("cog validation failed for %s: %v", e.Path, e.Report.Violations)
}

// Unwrap returns the underlying error kind.
func (e *ValidationFailure) Unwrap() error {
	return ErrInvalidCog
}

// StorageError reports a failed object storage operation.
type StorageError struct {
	Operation string // put, exists, list
	Key       string
	Err       error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v", e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying kind so errors.Is(err, ErrUpload) holds.
func (e *StorageError) Unwrap() error {
	return ErrUpload
}
