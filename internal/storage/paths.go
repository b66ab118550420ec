package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"exhibitmedia/internal/models"
)

var (
	ErrPathTraversal     = errors.New("path escapes storage root")
	ErrInvalidIdentifier = errors.New("invalid media identifier")
)

const (
	imagesDir     = "images"
	documentsDir  = "documents"
	thumbnailsDir = "thumbnails"
)

// Layout maps media identifiers to locations under a single storage root.
// Identical identifiers always map to identical locations; the two-level
// hash buckets bound per-directory fan-out to 256x256 regardless of corpus
// size.
type Layout struct {
	root string
}

func NewLayout(root string) (*Layout, error) {
	const op = "storage.NewLayout"

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// Resolve the root once so later containment checks compare against
	// the real directory even when the configured path is a symlink.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Layout{root: resolved}, nil
}

func (l *Layout) Root() string { return l.root }

// MediaTypeDir returns the storage subdirectory for a media type.
func MediaTypeDir(mt models.MediaType) string {
	switch mt {
	case models.MediaTypeImage:
		return imagesDir
	case models.MediaTypeDocument:
		return documentsDir
	case models.MediaTypeUnknown:
		return "files"
	}
	return "files"
}

// BucketFor derives the two bucket directories from an identifier: strip
// everything outside [a-z0-9], lowercase, take chars 0-1 and 2-3.
func BucketFor(id string) (string, string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) < 4 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return s[0:2], s[2:4], nil
}

// ParseID validates an identifier before it is used for any path work.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}
	return id, nil
}

// BuildPath returns the root-relative location for an original file:
// <media_type_dir>/<b1>/<b2>/<id><ext>.
func (l *Layout) BuildPath(mt models.MediaType, id uuid.UUID, ext string) (string, error) {
	b1, b2, err := BucketFor(id.String())
	if err != nil {
		return "", err
	}
	return filepath.Join(MediaTypeDir(mt), b1, b2, id.String()+ext), nil
}

// ThumbnailPath returns the root-relative location of a record's thumbnail:
// thumbnails/<b1>/<b2>/<id>_thumb.jpg.
func (l *Layout) ThumbnailPath(id uuid.UUID) (string, error) {
	b1, b2, err := BucketFor(id.String())
	if err != nil {
		return "", err
	}
	return filepath.Join(thumbnailsDir, b1, b2, id.String()+"_thumb.jpg"), nil
}

// Resolve joins a root-relative path onto the storage root and verifies the
// result is still contained in it. The containment check runs on the
// canonicalized path, not the raw string, so ".." segments and symlinks
// cannot escape.
func (l *Layout) Resolve(relative string) (string, error) {
	const op = "storage.Resolve"

	if relative == "" {
		return "", fmt.Errorf("%s: %w: empty path", op, ErrPathTraversal)
	}
	joined := filepath.Clean(filepath.Join(l.root, relative))
	if !l.contains(joined) {
		return "", fmt.Errorf("%s: %w: %q", op, ErrPathTraversal, relative)
	}
	// Canonicalize through the deepest existing ancestor and re-check; a
	// link planted inside the root must not point out, even for paths that
	// do not exist yet.
	resolved, err := resolveExisting(joined)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !l.contains(resolved) {
		return "", fmt.Errorf("%s: %w: %q", op, ErrPathTraversal, relative)
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of p
// and rejoins the non-existent remainder onto the result.
func resolveExisting(p string) (string, error) {
	var remainder []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(remainder) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, remainder[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		remainder = append(remainder, filepath.Base(cur))
		cur = parent
	}
}

func (l *Layout) contains(abs string) bool {
	rel, err := filepath.Rel(l.root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// EnsureDirectory creates path and any missing parents. Safe to race with
// other creators.
func (l *Layout) EnsureDirectory(abs string) error {
	const op = "storage.EnsureDirectory"

	if !l.contains(filepath.Clean(abs)) {
		return fmt.Errorf("%s: %w: %q", op, ErrPathTraversal, abs)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PruneEmptyAncestors walks upward from the deleted file's directory,
// removing directories that are now empty and stopping at the storage root.
// "Already gone" and "not empty" both end the walk without error: a sibling
// deletion may have pruned the directory first, and both outcomes leave the
// tree in a valid state.
func (l *Layout) PruneEmptyAncestors(fileAbs string) error {
	dir := filepath.Dir(filepath.Clean(fileAbs))
	for l.contains(dir) && dir != l.root {
		if err := os.Remove(dir); err != nil {
			if os.IsNotExist(err) {
				dir = filepath.Dir(dir)
				continue
			}
			// Non-empty directory: nothing above it can be empty either.
			return nil
		}
		dir = filepath.Dir(dir)
	}
	return nil
}
