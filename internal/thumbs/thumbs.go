// Package thumbs produces bounded JPEG previews for stored media. Raster
// images are decoded directly; documents are rendered from their first page.
package thumbs

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/google/uuid"

	"exhibitmedia/internal/models"
	"exhibitmedia/internal/storage"

	_ "golang.org/x/image/webp" // webp decode support for image.Decode
)

type Generator struct {
	layout    *storage.Layout
	maxWidth  int
	maxHeight int
	quality   int
	logger    *slog.Logger
}

// Result describes a generated thumbnail. SourceWidth/SourceHeight are the
// dimensions of the decoded source: the original raster for images, the
// rendered first-page raster for documents.
type Result struct {
	Path         string
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
}

func NewGenerator(layout *storage.Layout, maxWidth, maxHeight, quality int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		layout:    layout,
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		quality:   quality,
		logger:    logger.With(slog.String("service", "thumbs")),
	}
}

// Generate produces and stores a preview for the given media bytes. The
// returned thumbnail never exceeds the configured bounds on either axis and
// keeps the source aspect ratio; sources already inside the bounds are not
// upscaled.
func (g *Generator) Generate(id uuid.UUID, mt models.MediaType, data []byte) (*Result, error) {
	const op = "thumbs.Generate"

	src, err := g.decode(mt, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	bounds := src.Bounds()
	fitted := imaging.Fit(src, g.maxWidth, g.maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rel, err := g.layout.ThumbnailPath(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := g.layout.WriteFile(rel, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := fitted.Bounds()
	g.logger.Debug("thumbnail generated",
		slog.String("id", id.String()),
		slog.Int("width", out.Dx()),
		slog.Int("height", out.Dy()))
	return &Result{
		Path:         rel,
		Width:        out.Dx(),
		Height:       out.Dy(),
		SourceWidth:  bounds.Dx(),
		SourceHeight: bounds.Dy(),
	}, nil
}

func (g *Generator) decode(mt models.MediaType, data []byte) (image.Image, error) {
	switch mt {
	case models.MediaTypeImage:
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		return img, nil
	case models.MediaTypeDocument:
		return g.renderFirstPage(data)
	case models.MediaTypeUnknown:
		return nil, fmt.Errorf("no thumbnail rule for media type %q", mt)
	}
	return nil, fmt.Errorf("no thumbnail rule for media type %q", mt)
}

// renderFirstPage rasterizes page one of a document at a DPI chosen so the
// rendered width matches the thumbnail target width.
func (g *Generator) renderFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	bound, err := doc.Bound(0)
	if err != nil {
		return nil, fmt.Errorf("page bounds: %w", err)
	}
	pageWidthPts := float64(bound.Dx())
	if pageWidthPts <= 0 {
		return nil, fmt.Errorf("page has zero width")
	}
	dpi := 72.0 * float64(g.maxWidth) / pageWidthPts
	if dpi <= 0 {
		dpi = 72.0
	}
	img, err := doc.ImageDPI(0, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return img, nil
}
