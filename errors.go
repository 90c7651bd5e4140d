package facemerge

import "errors"

// Errors returned by the compositor. They are always wrapped with some context,
// use errors.Is to match them.
var (
	// ErrInsufficientLandmarks is returned when a required keypoint is missing.
	ErrInsufficientLandmarks = errors.New("insufficient landmarks")
	// ErrOutOfBounds is returned when a keypoint or a scanline would fall outside an image.
	ErrOutOfBounds = errors.New("out of bounds")
	// ErrDegenerateGeometry is returned when the landmarks do not describe a usable face outline.
	ErrDegenerateGeometry = errors.New("degenerate geometry")
	// ErrPixelFormat is returned for malformed buffers or buffers of different pixel depths.
	ErrPixelFormat = errors.New("invalid pixel format")
	// ErrIO wraps file access and image decoding failures.
	ErrIO = errors.New("io error")
	// ErrUnsupportedFormat is returned by the encoder for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)
