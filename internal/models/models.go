package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MediaType classifies a stored asset and drives the storage subdirectory,
// the thumbnail strategy, the IIIF source and the manifest canvas shape.
// Branches over it should be exhaustive.
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeDocument MediaType = "document"
	MediaTypeUnknown  MediaType = "unknown"
)

// MediaRecord is one stored media asset. StoragePath and ThumbnailPath are
// relative to the storage root; ThumbnailPath is empty when generation failed
// or the media type has no thumbnail rule.
type MediaRecord struct {
	ID               uuid.UUID         `db:"id" json:"id"`
	MediaType        MediaType         `db:"media_type" json:"media_type"`
	MimeType         string            `db:"mime_type" json:"mime_type"`
	OriginalFilename string            `db:"original_filename" json:"original_filename"`
	Extension        string            `db:"extension" json:"extension"`
	FileSize         int64             `db:"file_size" json:"file_size"`
	StoragePath      string            `db:"storage_path" json:"storage_path"`
	ThumbnailPath    string            `db:"thumbnail_path" json:"thumbnail_path,omitempty"`
	MediaWidth       *int              `db:"media_width" json:"media_width,omitempty"`
	MediaHeight      *int              `db:"media_height" json:"media_height,omitempty"`
	Metadata         map[string]string `db:"extracted_metadata" json:"metadata,omitempty"`
	Manifest         json.RawMessage   `db:"manifest" json:"-"`

	// Descriptive fields carried over from the cataloguing layer and
	// surfaced in manifests. Empty values are omitted from output.
	Title         string `db:"title" json:"title,omitempty"`
	Description   string `db:"description" json:"description,omitempty"`
	CatalogNumber string `db:"catalog_number" json:"catalog_number,omitempty"`
	Subjects      string `db:"subjects" json:"subjects,omitempty"`

	// Source marks how the asset entered the system. Only direct uploads
	// are eligible for manifest generation.
	Source string `db:"source" json:"source"`
}

const SourceUpload = "upload"

// HasDimensions reports whether both pixel dimensions are known.
func (r *MediaRecord) HasDimensions() bool {
	return r.MediaWidth != nil && r.MediaHeight != nil
}
