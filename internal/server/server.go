package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"exhibitmedia/internal/events"
	"exhibitmedia/internal/iiif"
	"exhibitmedia/internal/models"
	"exhibitmedia/internal/storage"
	"exhibitmedia/internal/upload"
)

type Server struct {
	cfg       *models.Config
	router    *gin.Engine
	http      *http.Server
	store     *storage.Store
	layout    *storage.Layout
	processor *upload.Processor
	images    *iiif.ImageService
	manifests *iiif.ManifestBuilder
	producer  *events.Producer
	logger    *slog.Logger
}

func NewServer(cfg *models.Config, store *storage.Store, layout *storage.Layout,
	processor *upload.Processor, images *iiif.ImageService, manifests *iiif.ManifestBuilder,
	producer *events.Producer, logger *slog.Logger) *Server {

	if logger == nil {
		logger = slog.Default()
	}
	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxFileSize

	s := &Server{
		cfg:       cfg,
		router:    r,
		store:     store,
		layout:    layout,
		processor: processor,
		images:    images,
		manifests: manifests,
		producer:  producer,
		logger:    logger.With(slog.String("service", "server")),
	}

	r.POST("/upload", s.handleUpload)
	r.GET("/media/:id", s.handleGetMedia)
	r.GET("/media/:id/file", s.handleGetFile)
	r.GET("/media/:id/thumbnail", s.handleGetThumbnail)
	r.DELETE("/media/:id", s.handleDeleteMedia)
	r.POST("/media/:id/metadata/extract", s.handleExtractMetadata)

	// The IIIF surface mixes literal segments (info.json, manifest) with
	// the four-part image grammar, so it is dispatched from one wildcard.
	r.GET("/iiif/*request", s.handleIIIFGet)
	r.POST("/iiif/*request", s.handleIIIFPost)

	s.http = &http.Server{Addr: cfg.ServerAddr, Handler: r}
	return s
}

func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// uploadedFile is the per-file upload response shape.
type uploadedFile struct {
	ID            string            `json:"id"`
	Filename      string            `json:"filename"`
	Size          int64             `json:"size"`
	MimeType      string            `json:"mime_type"`
	MediaType     models.MediaType  `json:"media_type"`
	StoragePath   string            `json:"storage_path"`
	ThumbnailPath string            `json:"thumbnail_path,omitempty"`
	Width         *int              `json:"width,omitempty"`
	Height        *int              `json:"height,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

type uploadFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

func (s *Server) handleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}
	if len(files) > s.cfg.MaxFileCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many files in one request"})
		return
	}

	var (
		results  []uploadedFile
		failures []uploadFailure
	)
	for _, fh := range files {
		if fh.Size > s.cfg.MaxFileSize {
			failures = append(failures, uploadFailure{Filename: fh.Filename, Error: "file exceeds size limit"})
			continue
		}
		src, err := fh.Open()
		if err != nil {
			failures = append(failures, uploadFailure{Filename: fh.Filename, Error: "unreadable file"})
			continue
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			failures = append(failures, uploadFailure{Filename: fh.Filename, Error: "unreadable file"})
			continue
		}

		res, err := s.processor.Process(c.Request.Context(), data, fh.Filename, fh.Header.Get("Content-Type"))
		if err != nil {
			failures = append(failures, uploadFailure{Filename: fh.Filename, Error: publicError(err)})
			continue
		}
		rec := res.Record
		if err := s.store.SaveRecord(c.Request.Context(), rec); err != nil {
			// The record is the unit of visibility: remove the orphaned
			// file rather than leaving an unaddressable blob behind.
			if derr := s.processor.Delete(rec); derr != nil {
				s.logger.Error("cleanup after failed save", slog.Any("error", derr))
			}
			failures = append(failures, uploadFailure{Filename: fh.Filename, Error: "storage failure"})
			s.logger.Error("save record", slog.Any("error", err))
			continue
		}

		if err := s.producer.MediaIngested(c.Request.Context(), rec.ID); err != nil {
			s.logger.Warn("publish ingest event",
				slog.String("id", rec.ID.String()), slog.Any("error", err))
		}

		results = append(results, uploadedFile{
			ID:            rec.ID.String(),
			Filename:      rec.OriginalFilename,
			Size:          rec.FileSize,
			MimeType:      rec.MimeType,
			MediaType:     rec.MediaType,
			StoragePath:   rec.StoragePath,
			ThumbnailPath: rec.ThumbnailPath,
			Width:         rec.MediaWidth,
			Height:        rec.MediaHeight,
			Metadata:      rec.Metadata,
			Warnings:      res.Warnings,
		})
	}

	status := http.StatusOK
	if len(results) == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"files": results, "failures": failures})
}

func (s *Server) recordByParam(c *gin.Context) (*models.MediaRecord, bool) {
	return s.recordByID(c, c.Param("id"))
}

func (s *Server) handleGetMedia(c *gin.Context) {
	rec, ok := s.recordByParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleGetFile(c *gin.Context) {
	rec, ok := s.recordByParam(c)
	if !ok {
		return
	}
	abs, err := s.layout.Resolve(rec.StoragePath)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Type", rec.MimeType)
	c.File(abs)
}

func (s *Server) handleGetThumbnail(c *gin.Context) {
	rec, ok := s.recordByParam(c)
	if !ok {
		return
	}
	if rec.ThumbnailPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no thumbnail for this media"})
		return
	}
	abs, err := s.layout.Resolve(rec.ThumbnailPath)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Type", "image/jpeg")
	c.File(abs)
}

type recordDeleter interface {
	DeleteRecord(ctx context.Context, id uuid.UUID) error
}

type fileRemover interface {
	Delete(rec *models.MediaRecord) error
}

// deleteMedia removes the database row before the files on disk. A row
// pointing at missing files is a recoverable inconsistency; orphaned
// files with no row would be unaddressable, so if the row delete fails
// the files stay untouched.
func deleteMedia(ctx context.Context, db recordDeleter, files fileRemover, rec *models.MediaRecord) error {
	if err := db.DeleteRecord(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return files.Delete(rec)
}

func (s *Server) handleDeleteMedia(c *gin.Context) {
	rec, ok := s.recordByParam(c)
	if !ok {
		return
	}
	if err := deleteMedia(c.Request.Context(), s.store, s.processor, rec); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleExtractMetadata(c *gin.Context) {
	rec, ok := s.recordByParam(c)
	if !ok {
		return
	}
	meta, err := s.processor.ExtractMetadata(c.Request.Context(), rec)
	if err != nil {
		s.fail(c, err)
		return
	}
	rec.Metadata = meta
	if err := s.store.UpdateDerivatives(c.Request.Context(), rec); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": rec.ID.String(), "metadata": meta})
}

// handleIIIFGet dispatches /iiif/{id}/info.json, /iiif/{id}/manifest and
// the four-segment image grammar.
func (s *Server) handleIIIFGet(c *gin.Context) {
	segs := splitRequest(c.Param("request"))
	switch {
	case len(segs) == 2 && segs[1] == "info.json":
		s.iiifInfo(c, segs[0])
	case len(segs) == 2 && segs[1] == "manifest":
		s.iiifManifest(c, segs[0])
	case len(segs) == 5:
		s.iiifImage(c, segs)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown iiif request"})
	}
}

func (s *Server) handleIIIFPost(c *gin.Context) {
	segs := splitRequest(c.Param("request"))
	switch {
	case len(segs) == 2 && segs[0] == "manifests" && segs[1] == "generate":
		s.iiifManifestBatch(c)
	case len(segs) == 3 && segs[1] == "manifest" && segs[2] == "generate":
		s.iiifManifestGenerate(c, segs[0])
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown iiif request"})
	}
}

func (s *Server) recordByID(c *gin.Context, raw string) (*models.MediaRecord, bool) {
	id, err := storage.ParseID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid media identifier"})
		return nil, false
	}
	rec, err := s.store.GetRecord(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		} else {
			s.logger.Error("get record", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		}
		return nil, false
	}
	return rec, true
}

func (s *Server) iiifInfo(c *gin.Context, rawID string) {
	rec, ok := s.recordByID(c, rawID)
	if !ok {
		return
	}
	info, err := s.images.BuildInfo(rec, s.cfg.PublicBaseURL)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Type", "application/ld+json")
	c.JSON(http.StatusOK, info)
}

func (s *Server) iiifImage(c *gin.Context, segs []string) {
	rec, ok := s.recordByID(c, segs[0])
	if !ok {
		return
	}
	data, mime, err := s.images.Process(rec, segs[1], segs[2], segs[3], segs[4])
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, mime, data)
}

func (s *Server) iiifManifest(c *gin.Context, rawID string) {
	rec, ok := s.recordByID(c, rawID)
	if !ok {
		return
	}
	raw, err := s.manifests.Get(c.Request.Context(), rec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/ld+json", raw)
}

func (s *Server) iiifManifestGenerate(c *gin.Context, rawID string) {
	rec, ok := s.recordByID(c, rawID)
	if !ok {
		return
	}
	raw, err := s.manifests.Generate(c.Request.Context(), rec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/ld+json", raw)
}

func (s *Server) iiifManifestBatch(c *gin.Context) {
	res, err := s.manifests.GenerateAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// fail maps domain errors onto HTTP statuses. Internal failures never leak
// paths or wrapped detail to the client.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidIdentifier):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid media identifier"})
	case errors.Is(err, iiif.ErrUnsupportedFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported quality or format"})
	case errors.Is(err, iiif.ErrUnsupportedRotation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "only rotation 0 is supported"})
	case errors.Is(err, upload.ErrUnsupportedMediaType):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "file type is not allowed"})
	case errors.Is(err, iiif.ErrNotApplicable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "media is not eligible for a manifest"})
	case errors.Is(err, iiif.ErrNoSource), errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
	case errors.Is(err, storage.ErrPathTraversal):
		s.logger.Error("path traversal rejected", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
	default:
		s.logger.Error("request failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// publicError returns a client-safe message for upload-time failures.
func publicError(err error) string {
	switch {
	case errors.Is(err, upload.ErrUnsupportedMediaType):
		return "file type is not allowed"
	case errors.Is(err, upload.ErrStorageWrite):
		return "storage failure"
	default:
		return "upload failed"
	}
}

func splitRequest(raw string) []string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
