package iiif

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"exhibitmedia/internal/models"
)

var ErrNotApplicable = errors.New("record is not eligible for a manifest")

// ManifestStore is the persistence surface the builder needs. *storage.Store
// satisfies it.
type ManifestStore interface {
	SaveManifest(ctx context.Context, id uuid.UUID, manifest json.RawMessage) error
	ListWithoutManifest(ctx context.Context) ([]*models.MediaRecord, error)
}

// ManifestBuilder composes one-canvas IIIF Presentation 3.0 manifests from
// media records and the image-service addressing scheme, caching them on the
// record.
type ManifestBuilder struct {
	store   ManifestStore
	images  *ImageService
	baseURL string
	logger  *slog.Logger
}

func NewManifestBuilder(store ManifestStore, images *ImageService, baseURL string, logger *slog.Logger) *ManifestBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestBuilder{
		store:   store,
		images:  images,
		baseURL: baseURL,
		logger:  logger.With(slog.String("service", "manifest")),
	}
}

// Manifest document structs, trimmed to the fields this builder emits.

type langMap map[string][]string

func lang(v string) langMap { return langMap{"en": {v}} }

type metadataPair struct {
	Label langMap `json:"label"`
	Value langMap `json:"value"`
}

type service struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Profile string `json:"profile"`
}

type annotationBody struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Format  string    `json:"format"`
	Width   int       `json:"width,omitempty"`
	Height  int       `json:"height,omitempty"`
	Service []service `json:"service,omitempty"`
}

type annotation struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Motivation string         `json:"motivation"`
	Body       annotationBody `json:"body"`
	Target     string         `json:"target"`
}

type annotationPage struct {
	ID    string       `json:"id"`
	Type  string       `json:"type"`
	Items []annotation `json:"items"`
}

type canvas struct {
	ID     string           `json:"id"`
	Type   string           `json:"type"`
	Width  int              `json:"width"`
	Height int              `json:"height"`
	Items  []annotationPage `json:"items"`
}

type rendering struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Label  langMap `json:"label"`
	Format string  `json:"format"`
}

type manifest struct {
	Context   string         `json:"@context"`
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Label     langMap        `json:"label"`
	Metadata  []metadataPair `json:"metadata,omitempty"`
	Items     []canvas       `json:"items"`
	Rendering []rendering    `json:"rendering,omitempty"`
}

// Get returns the cached manifest if present and well-formed, otherwise
// regenerates and caches it.
func (b *ManifestBuilder) Get(ctx context.Context, rec *models.MediaRecord) (json.RawMessage, error) {
	if len(rec.Manifest) > 0 && json.Valid(rec.Manifest) {
		return rec.Manifest, nil
	}
	return b.Generate(ctx, rec)
}

// Generate builds, caches and returns a fresh manifest for an eligible
// record.
func (b *ManifestBuilder) Generate(ctx context.Context, rec *models.MediaRecord) (json.RawMessage, error) {
	const op = "iiif.GenerateManifest"

	if !b.Eligible(rec) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotApplicable)
	}

	doc, err := b.build(rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := b.store.SaveManifest(ctx, rec.ID, raw); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rec.Manifest = raw
	return raw, nil
}

// Eligible reports whether a record can carry a manifest: direct uploads of
// image or document type only.
func (b *ManifestBuilder) Eligible(rec *models.MediaRecord) bool {
	if rec.Source != models.SourceUpload {
		return false
	}
	switch rec.MediaType {
	case models.MediaTypeImage, models.MediaTypeDocument:
		return true
	case models.MediaTypeUnknown:
		return false
	}
	return false
}

func (b *ManifestBuilder) build(rec *models.MediaRecord) (*manifest, error) {
	w, h, err := b.images.SourceDimensions(rec)
	if err != nil {
		return nil, err
	}

	id := rec.ID.String()
	manifestID := fmt.Sprintf("%s/iiif/%s/manifest", b.baseURL, id)
	canvasID := fmt.Sprintf("%s/iiif/%s/canvas/1", b.baseURL, id)
	paintingID := fmt.Sprintf("%s/iiif/%s/full/max/0/default.jpg", b.baseURL, id)

	body := annotationBody{
		ID:     paintingID,
		Type:   "Image",
		Format: "image/jpeg",
		Width:  w,
		Height: h,
	}

	doc := &manifest{
		Context:  "http://iiif.io/api/presentation/3/context.json",
		ID:       manifestID,
		Type:     "Manifest",
		Label:    lang(b.label(rec)),
		Metadata: b.metadataPairs(rec),
		Items: []canvas{{
			ID:     canvasID,
			Type:   "Canvas",
			Width:  w,
			Height: h,
			Items: []annotationPage{{
				ID:   canvasID + "/page/1",
				Type: "AnnotationPage",
				Items: []annotation{{
					ID:         canvasID + "/page/1/annotation/1",
					Type:       "Annotation",
					Motivation: "painting",
					Body:       body,
					Target:     canvasID,
				}},
			}},
		}},
	}

	switch rec.MediaType {
	case models.MediaTypeImage:
		// Image canvases carry a service descriptor so clients can request
		// arbitrary renditions through the image API.
		doc.Items[0].Items[0].Items[0].Body.Service = []service{{
			ID:      fmt.Sprintf("%s/iiif/%s", b.baseURL, id),
			Type:    "ImageService3",
			Profile: "level1",
		}}
	case models.MediaTypeDocument:
		// Document canvases paint the first-page raster only; the original
		// file is attached as a downloadable rendering instead.
		doc.Rendering = []rendering{{
			ID:     fmt.Sprintf("%s/media/%s/file", b.baseURL, id),
			Type:   "Text",
			Label:  lang("Original document"),
			Format: rec.MimeType,
		}}
	case models.MediaTypeUnknown:
	}

	return doc, nil
}

func (b *ManifestBuilder) label(rec *models.MediaRecord) string {
	if rec.Title != "" {
		return rec.Title
	}
	return rec.OriginalFilename
}

// manifestMetadataFields is the curated, ordered subset of extracted
// technical metadata surfaced in manifests.
var manifestMetadataFields = []struct {
	key   string
	label string
}{
	{"Make", "Camera Make"},
	{"Model", "Camera Model"},
	{"LensModel", "Lens"},
	{"FocalLength", "Focal Length"},
	{"FNumber", "Aperture"},
	{"ExposureTime", "Exposure"},
	{"ISO", "ISO"},
	{"DateTimeOriginal", "Date Taken"},
	{"PageCount", "Page Count"},
	{"Author", "Author"},
	{"Producer", "Producer"},
}

// metadataPairs builds the ordered descriptive pairs; empty fields are
// omitted, never emitted as empty strings.
func (b *ManifestBuilder) metadataPairs(rec *models.MediaRecord) []metadataPair {
	var pairs []metadataPair
	add := func(label, value string) {
		if value != "" {
			pairs = append(pairs, metadataPair{Label: lang(label), Value: lang(value)})
		}
	}
	add("Title", rec.Title)
	add("Description", rec.Description)
	add("Format", rec.MimeType)
	add("Media Type", string(rec.MediaType))
	add("Catalog Number", rec.CatalogNumber)
	add("Subjects", rec.Subjects)
	for _, f := range manifestMetadataFields {
		add(f.label, rec.Metadata[f.key])
	}
	return pairs
}

// BatchResult tallies a bulk manifest generation run.
type BatchResult struct {
	Total     int `json:"total"`
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// GenerateAll builds manifests for every eligible record lacking one.
// Individual failures are counted, logged and skipped over; the job never
// aborts part-way.
func (b *ManifestBuilder) GenerateAll(ctx context.Context) (BatchResult, error) {
	const op = "iiif.GenerateAll"

	recs, err := b.store.ListWithoutManifest(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("%s: %w", op, err)
	}

	res := BatchResult{Total: len(recs)}
	for _, rec := range recs {
		if !b.Eligible(rec) {
			res.Skipped++
			continue
		}
		if _, err := b.Generate(ctx, rec); err != nil {
			res.Failed++
			b.logger.Warn("manifest generation failed",
				slog.String("id", rec.ID.String()), slog.Any("error", err))
			continue
		}
		res.Generated++
	}
	return res, nil
}
