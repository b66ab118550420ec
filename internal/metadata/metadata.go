// Package metadata extracts a curated subset of embedded technical and
// descriptive fields from stored media files.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"

	"exhibitmedia/internal/models"
)

var ErrWorkerClosed = errors.New("metadata worker is shut down")

// Extractor is the injectable metadata service. Implementations own any
// subprocess state and must be shut down during process termination.
type Extractor interface {
	Extract(ctx context.Context, absPath string, mt models.MediaType) (map[string]string, error)
	Shutdown() error
}

// imageFields and documentFields are the fixed allow-lists. Fields absent
// from a source file are omitted from the result, never reported as errors.
var imageFields = []string{
	"Make", "Model", "LensModel", "FocalLength", "FNumber", "ExposureTime",
	"ISO", "Orientation", "ColorSpace", "Software",
	"DateTimeOriginal", "CreateDate",
	"GPSLatitude", "GPSLongitude",
	"ImageDescription", "Artist", "Copyright",
}

var documentFields = []string{
	"PageCount", "Author", "Producer", "Creator", "Title", "Subject",
	"Keywords", "CreateDate", "ModifyDate",
}

// worker is the subprocess handle the service drives. *exiftool.Exiftool
// satisfies it.
type worker interface {
	ExtractMetadata(paths ...string) []exiftool.FileMetadata
	Close() error
}

type request struct {
	path  string
	reply chan extraction
}

type extraction struct {
	meta exiftool.FileMetadata
	err  error
}

// Service wraps one persistent exiftool worker process, reused across
// extractions for the lifetime of the owning process. A single goroutine
// drives the subprocess; a call that outlives its deadline gets the
// subprocess killed and respawned so one wedged file cannot poison the
// worker or block shutdown.
type Service struct {
	timeout time.Duration
	logger  *slog.Logger
	spawn   func() (worker, error)

	reqs chan *request
	quit chan struct{}

	mu     sync.Mutex
	et     worker
	closed bool
}

func NewService(timeout time.Duration, logger *slog.Logger) (*Service, error) {
	return newService(timeout, logger, func() (worker, error) {
		return exiftool.NewExiftool()
	})
}

func newService(timeout time.Duration, logger *slog.Logger, spawn func() (worker, error)) (*Service, error) {
	const op = "metadata.NewService"

	if logger == nil {
		logger = slog.Default()
	}
	et, err := spawn()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s := &Service{
		timeout: timeout,
		logger:  logger.With(slog.String("service", "metadata")),
		spawn:   spawn,
		reqs:    make(chan *request),
		quit:    make(chan struct{}),
		et:      et,
	}
	go s.run()
	return s, nil
}

// run services extraction requests one at a time. The blocking subprocess
// call is unblocked externally: restart and Shutdown both close the
// subprocess, which makes ExtractMetadata return.
func (s *Service) run() {
	for {
		select {
		case <-s.quit:
			return
		case req := <-s.reqs:
			req.reply <- s.extractOne(req.path)
		}
	}
}

func (s *Service) extractOne(path string) extraction {
	et := s.current()
	if et == nil {
		return extraction{err: ErrWorkerClosed}
	}
	metas := et.ExtractMetadata(path)
	if len(metas) == 0 {
		return extraction{err: fmt.Errorf("no metadata returned")}
	}
	return extraction{meta: metas[0], err: metas[0].Err}
}

func (s *Service) current() worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.et
}

// Extract reads the allow-listed fields for the file's media type. The call
// is bounded by the configured timeout: exiftool can wedge on malformed
// input independently of the caller, and a timed-out call costs the
// subprocess its life rather than the service its liveness.
func (s *Service) Extract(ctx context.Context, absPath string, mt models.MediaType) (map[string]string, error) {
	const op = "metadata.Extract"

	fields := fieldsFor(mt)
	if len(fields) == 0 {
		return map[string]string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := &request{path: absPath, reply: make(chan extraction, 1)}
	select {
	case s.reqs <- req:
	case <-s.quit:
		return nil, fmt.Errorf("%s: %w", op, ErrWorkerClosed)
	case <-ctx.Done():
		// The worker is still busy with an earlier call; treat it as
		// wedged and replace the subprocess.
		s.restart()
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}

	select {
	case out := <-req.reply:
		if out.err != nil {
			return nil, fmt.Errorf("%s: %w", op, out.err)
		}
		return flatten(out.meta, fields), nil
	case <-s.quit:
		return nil, fmt.Errorf("%s: %w", op, ErrWorkerClosed)
	case <-ctx.Done():
		s.restart()
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// restart kills the current subprocess, which unblocks the worker
// goroutine's in-flight call, and spawns a replacement. No-op after
// Shutdown.
func (s *Service) restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.et != nil {
		if err := s.et.Close(); err != nil {
			s.logger.Warn("close wedged exiftool process", slog.Any("error", err))
		}
		s.et = nil
	}
	et, err := s.spawn()
	if err != nil {
		// Later extractions fail with ErrWorkerClosed until the process
		// restarts; the upload path treats that as a warning, not a
		// failure.
		s.logger.Error("respawn exiftool process", slog.Any("error", err))
		return
	}
	s.et = et
	s.logger.Info("exiftool process respawned after timeout")
}

// Shutdown terminates the worker subprocess and stops accepting requests.
// It never blocks on an in-flight extraction: closing the subprocess is
// what forces a wedged call to return. Must run before process exit to
// avoid orphaning the subprocess.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.et != nil {
		err = s.et.Close()
		s.et = nil
	}
	s.mu.Unlock()

	close(s.quit)
	if err != nil {
		return fmt.Errorf("metadata.Shutdown: %w", err)
	}
	return nil
}

func fieldsFor(mt models.MediaType) []string {
	switch mt {
	case models.MediaTypeImage:
		return imageFields
	case models.MediaTypeDocument:
		return documentFields
	case models.MediaTypeUnknown:
		return nil
	}
	return nil
}

// flatten keeps allow-listed fields only, stringifying any non-string
// values so the result is a flat map.
func flatten(meta exiftool.FileMetadata, fields []string) map[string]string {
	out := make(map[string]string)
	for _, f := range fields {
		v, ok := meta.Fields[f]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				out[f] = t
			}
		default:
			out[f] = fmt.Sprintf("%v", t)
		}
	}
	return out
}
