// Package iiif implements a Level-1 IIIF Image API 3.0 surface and a
// companion Presentation API 3.0 manifest builder.
package iiif

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedFormat   = errors.New("unsupported quality or format")
	ErrUnsupportedRotation = errors.New("unsupported rotation")
)

// formatMIME is the fixed format table for the level1 profile.
var formatMIME = map[string]string{
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

var qualities = map[string]bool{
	"default": true,
	"color":   true,
	"gray":    true,
}

// ParseQualityFormat splits the final request segment on its last dot and
// validates both halves. Runs before any file I/O so bad requests are
// rejected cheaply.
func ParseQualityFormat(s string) (quality, format, mime string, err error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return "", "", "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	quality, format = s[:i], s[i+1:]
	mime, ok := formatMIME[format]
	if !ok || !qualities[quality] {
		return "", "", "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return quality, format, mime, nil
}

// ParseRotation accepts only the literal "0" (level1).
func ParseRotation(s string) error {
	if s != "0" {
		return fmt.Errorf("%w: %q", ErrUnsupportedRotation, s)
	}
	return nil
}

// Region describes the crop step. Exactly one of Full, Square or the
// explicit rectangle applies.
type Region struct {
	Full   bool
	Square bool
	X, Y   int
	W, H   int
}

// ParseRegion interprets "full", "square" or "x,y,w,h". A rectangle is not
// validated against source bounds here; Apply clamps it instead of failing,
// so off-by-one client requests still render. Anything unparsable falls
// back to the full region.
func ParseRegion(s string) Region {
	switch s {
	case "full":
		return Region{Full: true}
	case "square":
		return Region{Square: true}
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{Full: true}
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Region{Full: true}
		}
		vals[i] = v
	}
	return Region{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
}

/// Clamp bounds an explicit rectangle to the source dimensions: never
// negative, never extending past the source. A rectangle that lies
// entirely outside the source clamps to zero width or height; callers
// treat that like an unparsable region and serve the full image.
func (r Region) Clamp(srcW, srcH int) Region {
	if r.Full || r.Square {
		return r
	}
	x, y, w, h := r.X, r.Y, r.W, r.H
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x > srcW {
		x = srcW
	}
	if y > srcH {
		y = srcH
	}
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	if x+w > srcW {
		w = srcW - x
	}
	if y+h > srcH {
		h = srcH - y
	}
	return Region{X: x, Y: y, W: w, H: h}
}

type sizeMode int

const (
	sizeNone sizeMode = iota // no resize step
	sizeBestFit
	sizeWidth
	sizeHeight
	sizeExact
)

// Size describes the scaling step.
type Size struct {
	mode sizeMode
	w, h int
}

// ParseSize interprets "max"/"full", "!w,h", "w,", ",h" and "w,h".
// Malformed strings deliberately yield no resize step rather than an
// error: size is advisory framing and a pass-through at source size is
// safer than failing the whole request.
func ParseSize(s string) Size {
	if s == "max" || s == "full" || s == "" {
		return Size{mode: sizeNone}
	}
	bestFit := strings.HasPrefix(s, "!")
	spec := strings.TrimPrefix(s, "!")
	parts := strings.Split(spec, ",")
	if len(parts) != 2 {
		return Size{mode: sizeNone}
	}
	wStr, hStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	parse := func(v string) (int, bool) {
		if v == "" {
			return 0, true
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	}
	w, okW := parse(wStr)
	h, okH := parse(hStr)
	if !okW || !okH {
		return Size{mode: sizeNone}
	}
	if bestFit {
		// Best-fit requires both dimensions; "!w," is malformed and takes
		// the same pass-through as any other bad size.
		if w > 0 && h > 0 {
			return Size{mode: sizeBestFit, w: w, h: h}
		}
		return Size{mode: sizeNone}
	}

	switch {
	case w > 0 && h > 0:
		return Size{mode: sizeExact, w: w, h: h}
	case w > 0:
		return Size{mode: sizeWidth, w: w}
	case h > 0:
		return Size{mode: sizeHeight, h: h}
	}
	return Size{mode: sizeNone}
}

// IsNoop reports whether the size step leaves the image untouched.
func (s Size) IsNoop() bool { return s.mode == sizeNone }
