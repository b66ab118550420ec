package iiif

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"exhibitmedia/internal/models"
	"exhibitmedia/internal/storage"

	_ "golang.org/x/image/webp" // webp decode support for image.Decode
)

var ErrNoSource = errors.New("record has no servable image source")

// ImageService executes IIIF image requests against stored media. Images
// are served from the stored original; documents are served from their
// first-page thumbnail raster, the only renderable surface a document has.
type ImageService struct {
	layout *storage.Layout
	logger *slog.Logger
}

func NewImageService(layout *storage.Layout, logger *slog.Logger) *ImageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageService{layout: layout, logger: logger.With(slog.String("service", "iiif"))}
}

// Process parses the four request segments and runs the transform pipeline:
// decode, region extraction, size scaling, grayscale, encode. Parameter
// rejection happens before any file I/O.
func (s *ImageService) Process(rec *models.MediaRecord, regionStr, sizeStr, rotationStr, qualityFormat string) ([]byte, string, error) {
	const op = "iiif.Process"

	quality, format, mime, err := ParseQualityFormat(qualityFormat)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	if err := ParseRotation(rotationStr); err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	region := ParseRegion(regionStr)
	size := ParseSize(sizeStr)

	src, err := s.decodeSource(rec)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	img := applyRegion(src, region)
	img = applySize(img, size)
	if quality == "gray" {
		img = imaging.Grayscale(img)
	}

	data, err := encode(img, format)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	return data, mime, nil
}

// SourceDimensions decodes the record's servable source and returns its
// authoritative pixel dimensions. Stored metadata is never trusted here.
func (s *ImageService) SourceDimensions(rec *models.MediaRecord) (int, int, error) {
	const op = "iiif.SourceDimensions"

	src, err := s.decodeSource(rec)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	b := src.Bounds()
	return b.Dx(), b.Dy(), nil
}

func (s *ImageService) decodeSource(rec *models.MediaRecord) (image.Image, error) {
	var rel string
	switch rec.MediaType {
	case models.MediaTypeImage:
		rel = rec.StoragePath
	case models.MediaTypeDocument:
		rel = rec.ThumbnailPath
	case models.MediaTypeUnknown:
		rel = ""
	}
	if rel == "" {
		return nil, ErrNoSource
	}
	data, err := s.layout.ReadFile(rel)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	return img, nil
}

func applyRegion(src image.Image, r Region) image.Image {
	if r.Full {
		return src
	}
	b := src.Bounds()
	if r.Square {
		side := b.Dx()
		if b.Dy() < side {
			side = b.Dy()
		}
		return imaging.CropCenter(src, side, side)
	}
	c := r.Clamp(b.Dx(), b.Dy())
	if c.W == 0 || c.H == 0 {
		// Clamping left nothing: the region lies entirely outside the
		// source. Serve the full image, same fallback as an unparsable
		// region string.
		return src
	}
	return imaging.Crop(src, image.Rect(c.X, c.Y, c.X+c.W, c.Y+c.H))
}

func applySize(src image.Image, s Size) image.Image {
	switch s.mode {
	case sizeNone:
		return src
	case sizeBestFit:
		// Fit preserves aspect ratio and never upscales.
		return imaging.Fit(src, s.w, s.h, imaging.Lanczos)
	case sizeWidth:
		return imaging.Resize(src, s.w, 0, imaging.Lanczos)
	case sizeHeight:
		return imaging.Resize(src, 0, s.h, imaging.Lanczos)
	case sizeExact:
		return imaging.Resize(src, s.w, s.h, imaging.Lanczos)
	}
	return src
}

func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpg":
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
			return nil, err
		}
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, err
		}
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Quality: 85}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return buf.Bytes(), nil
}

// Info is the info.json document for the level1 profile.
type Info struct {
	Context          string   `json:"@context"`
	ID               string   `json:"id"`
	Type             string   `json:"type"`
	Protocol         string   `json:"protocol"`
	Profile          string   `json:"profile"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	MaxWidth         int      `json:"maxWidth"`
	MaxHeight        int      `json:"maxHeight"`
	PreferredFormats []string `json:"preferredFormats"`
	ExtraFormats     []string `json:"extraFormats"`
}

// BuildInfo assembles info.json from the record's decoded source
// dimensions and the public addressing scheme.
func (s *ImageService) BuildInfo(rec *models.MediaRecord, baseURL string) (*Info, error) {
	w, h, err := s.SourceDimensions(rec)
	if err != nil {
		return nil, err
	}
	return &Info{
		Context:          "http://iiif.io/api/image/3/context.json",
		ID:               fmt.Sprintf("%s/iiif/%s", baseURL, rec.ID),
		Type:             "ImageService3",
		Protocol:         "http://iiif.io/api/image",
		Profile:          "level1",
		Width:            w,
		Height:           h,
		MaxWidth:         w,
		MaxHeight:        h,
		PreferredFormats: []string{"jpg"},
		ExtraFormats:     []string{"png", "webp"},
	}, nil
}
