package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionOverflow is returned when the requested surface exceeds
	// the per-side limit and auto-scaling was disabled.
	ErrDimensionOverflow = errors.New("snapshot: surface exceeds dimension limit")
	// ErrNoDecoder is returned by raster operations when the converter has no BitmapDecoder.
	ErrNoDecoder = errors.New("snapshot: no bitmap decoder configured")
	// ErrNoElement is returned when the root passed to a conversion is not an element.
	ErrNoElement = errors.New("snapshot: root is not an element")
	// ErrUnsupportedFormat is returned by ToImage for unknown output formats.
	ErrUnsupportedFormat = errors.New("snapshot: unsupported image format")
)

// ResourceError reports a background or image reference that could not be
// fetched or resolved.
type ResourceError struct {
	URL    string
	Status int
	Err    error
}

func (e *ResourceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// ImageLoadError reports an image element whose rewritten source never
// decoded successfully.
type ImageLoadError struct {
	URL  string
	Type string
	Err  error
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("load image %s (%s): %v", shortURL(e.URL), e.Type, e.Err)
}

func (e *ImageLoadError) Unwrap() error { return e.Err }

func shortURL(u string) string {
	if len(u) > 64 {
		return u[:64] + "..."
	}
	return u
}
