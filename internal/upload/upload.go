// Package upload validates and stores incoming media files and drives
// derivative generation.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"exhibitmedia/internal/metadata"
	"exhibitmedia/internal/models"
	"exhibitmedia/internal/storage"
	"exhibitmedia/internal/thumbs"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrStorageWrite         = errors.New("storage write failed")
)

// mimeTypes and extensions are the two halves of the allow-list. Both the
// declared MIME type and the filename extension must match, and must agree
// on the media type, which keeps a spoofed pair from slipping through.
var mimeTypes = map[string]models.MediaType{
	"image/jpeg":      models.MediaTypeImage,
	"image/jpg":       models.MediaTypeImage,
	"image/png":       models.MediaTypeImage,
	"image/gif":       models.MediaTypeImage,
	"image/webp":      models.MediaTypeImage,
	"application/pdf": models.MediaTypeDocument,
}

var extensions = map[string]models.MediaType{
	".jpg":  models.MediaTypeImage,
	".jpeg": models.MediaTypeImage,
	".png":  models.MediaTypeImage,
	".gif":  models.MediaTypeImage,
	".webp": models.MediaTypeImage,
	".pdf":  models.MediaTypeDocument,
}

// Result carries the populated record plus diagnostics from best-effort
// derivative steps. Warnings never imply the upload itself failed.
type Result struct {
	Record   *models.MediaRecord
	Warnings []string
}

type Processor struct {
	layout    *storage.Layout
	thumbs    *thumbs.Generator
	extractor metadata.Extractor
	logger    *slog.Logger
}

func NewProcessor(layout *storage.Layout, gen *thumbs.Generator, extractor metadata.Extractor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		layout:    layout,
		thumbs:    gen,
		extractor: extractor,
		logger:    logger.With(slog.String("service", "upload")),
	}
}

// ValidateType checks the declared MIME type and filename extension against
// the allow-lists and returns the agreed media type and normalized
// extension.
func ValidateType(filename, declaredMime string) (models.MediaType, string, error) {
	mime := strings.ToLower(strings.TrimSpace(declaredMime))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	ext := strings.ToLower(filepath.Ext(filename))

	mtByMime, okMime := mimeTypes[mime]
	mtByExt, okExt := extensions[ext]
	if !okMime || !okExt || mtByMime != mtByExt {
		return models.MediaTypeUnknown, "",
			fmt.Errorf("%w: mime %q, extension %q", ErrUnsupportedMediaType, declaredMime, ext)
	}
	return mtByMime, ext, nil
}

// Process validates, stores and describes one uploaded file. The stored
// original is the durable artifact: thumbnail, dimensions and metadata are
// conveniences whose failures surface as warnings, not errors. On error no
// file remains on disk and no record is produced.
func (p *Processor) Process(ctx context.Context, data []byte, filename, declaredMime string) (*Result, error) {
	const op = "upload.Process"

	mt, ext, err := ValidateType(filename, declaredMime)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id := uuid.New()
	rel, err := p.layout.BuildPath(mt, id, ext)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := p.layout.WriteFile(rel, data); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrStorageWrite, err)
	}

	rec := &models.MediaRecord{
		ID:               id,
		MediaType:        mt,
		MimeType:         strings.ToLower(strings.TrimSpace(declaredMime)),
		OriginalFilename: filename,
		Extension:        ext,
		FileSize:         int64(len(data)),
		StoragePath:      rel,
		Metadata:         map[string]string{},
		Source:           models.SourceUpload,
	}

	var warnings []string

	if res, err := p.thumbs.Generate(id, mt, data); err != nil {
		warnings = append(warnings, fmt.Sprintf("thumbnail: %v", err))
		p.logger.Warn("thumbnail generation failed",
			slog.String("id", id.String()), slog.Any("error", err))
	} else {
		rec.ThumbnailPath = res.Path
		switch mt {
		case models.MediaTypeImage:
			rec.MediaWidth, rec.MediaHeight = intPtr(res.SourceWidth), intPtr(res.SourceHeight)
		case models.MediaTypeDocument:
			// Document dimensions describe the rendered thumbnail.
			rec.MediaWidth, rec.MediaHeight = intPtr(res.Width), intPtr(res.Height)
		case models.MediaTypeUnknown:
		}
	}

	if meta, err := p.ExtractMetadata(ctx, rec); err != nil {
		warnings = append(warnings, fmt.Sprintf("metadata: %v", err))
		p.logger.Warn("metadata extraction failed",
			slog.String("id", id.String()), slog.Any("error", err))
	} else {
		rec.Metadata = meta
	}

	return &Result{Record: rec, Warnings: warnings}, nil
}

// ExtractMetadata runs the metadata extractor against a stored record's
// file. Exposed separately so extraction can be re-run after upload.
func (p *Processor) ExtractMetadata(ctx context.Context, rec *models.MediaRecord) (map[string]string, error) {
	const op = "upload.ExtractMetadata"

	abs, err := p.layout.Resolve(rec.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	meta, err := p.extractor.Extract(ctx, abs, rec.MediaType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return meta, nil
}

// Delete removes a record's stored file and thumbnail and prunes now-empty
// bucket directories.
func (p *Processor) Delete(rec *models.MediaRecord) error {
	const op = "upload.Delete"

	if err := p.layout.RemoveFile(rec.StoragePath); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rec.ThumbnailPath != "" {
		if err := p.layout.RemoveFile(rec.ThumbnailPath); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func intPtr(v int) *int { return &v }
