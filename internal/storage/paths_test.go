package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exhibitmedia/internal/models"
)

func newTestLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := NewLayout(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestBucketFor_Deterministic(t *testing.T) {
	id := "a1b2c3d4-e5f6-7890-abcd-ef0123456789"
	b1, b2, err := BucketFor(id)
	require.NoError(t, err)
	assert.Equal(t, "a1", b1)
	assert.Equal(t, "b2", b2)

	for i := 0; i < 10; i++ {
		x1, x2, err := BucketFor(id)
		require.NoError(t, err)
		assert.Equal(t, b1, x1)
		assert.Equal(t, b2, x2)
	}
}

func TestBucketFor_StripsSeparatorsAndCase(t *testing.T) {
	b1, b2, err := BucketFor("AB-CD-rest")
	require.NoError(t, err)
	assert.Equal(t, "ab", b1)
	assert.Equal(t, "cd", b2)
}

func TestBucketFor_TooShort(t *testing.T) {
	_, _, err := BucketFor("a-b")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestBuildPath_Layout(t *testing.T) {
	l := newTestLayout(t)
	id := uuid.MustParse("deadbeef-0000-4000-8000-000000000001")

	rel, err := l.BuildPath(models.MediaTypeImage, id, ".jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("images", "de", "ad", id.String()+".jpg"), rel)

	rel, err = l.BuildPath(models.MediaTypeDocument, id, ".pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("documents", "de", "ad", id.String()+".pdf"), rel)

	thumb, err := l.ThumbnailPath(id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("thumbnails", "de", "ad", id.String()+"_thumb.jpg"), thumb)
}

func TestResolve_RejectsTraversal(t *testing.T) {
	l := newTestLayout(t)

	cases := []string{
		"../outside.txt",
		"images/../../outside.txt",
		"images/de/ad/../../../../etc/passwd",
		"..",
	}
	for _, rel := range cases {
		t.Run(rel, func(t *testing.T) {
			_, err := l.Resolve(rel)
			assert.ErrorIs(t, err, ErrPathTraversal)
		})
	}
}

func TestResolve_AcceptsContainedPaths(t *testing.T) {
	l := newTestLayout(t)

	abs, err := l.Resolve("images/de/ad/file.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(abs, l.Root()))

	// ".." segments that stay inside the root are fine after cleaning.
	abs, err = l.Resolve("images/de/../de/ad/file.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(abs, l.Root()))
}

func TestResolve_RejectsSymlinkEscape(t *testing.T) {
	l := newTestLayout(t)
	outside := t.TempDir()

	link := filepath.Join(l.Root(), "sneaky")
	require.NoError(t, os.Symlink(outside, link))

	_, err := l.Resolve("sneaky/file.jpg")
	assert.ErrorIs(t, err, ErrPathTraversal)
}

func TestWriteReadRoundTrip(t *testing.T) {
	l := newTestLayout(t)
	data := []byte("original bytes \x00\x01\x02 binary safe")

	rel := filepath.Join("images", "aa", "bb", "file.bin")
	require.NoError(t, l.WriteFile(rel, data))

	got, err := l.ReadFile(rel)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEnsureDirectory_Idempotent(t *testing.T) {
	l := newTestLayout(t)
	dir := filepath.Join(l.Root(), "images", "aa", "bb")

	require.NoError(t, l.EnsureDirectory(dir))
	require.NoError(t, l.EnsureDirectory(dir))
}

func TestRemoveFile_PrunesEmptyBuckets(t *testing.T) {
	l := newTestLayout(t)

	rel := filepath.Join("images", "aa", "bb", "file.bin")
	require.NoError(t, l.WriteFile(rel, []byte("x")))

	require.NoError(t, l.RemoveFile(rel))

	_, err := os.Stat(filepath.Join(l.Root(), "images", "aa", "bb"))
	assert.True(t, os.IsNotExist(err), "inner bucket should be pruned")
	_, err = os.Stat(filepath.Join(l.Root(), "images", "aa"))
	assert.True(t, os.IsNotExist(err), "outer bucket should be pruned")
	_, err = os.Stat(filepath.Join(l.Root(), "images"))
	assert.True(t, os.IsNotExist(err), "media type dir should be pruned")

	// The storage root itself is never removed.
	info, err := os.Stat(l.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRemoveFile_StopsAtOccupiedBuckets(t *testing.T) {
	l := newTestLayout(t)

	first := filepath.Join("images", "aa", "bb", "one.bin")
	second := filepath.Join("images", "aa", "cc", "two.bin")
	require.NoError(t, l.WriteFile(first, []byte("1")))
	require.NoError(t, l.WriteFile(second, []byte("2")))

	require.NoError(t, l.RemoveFile(first))

	_, err := os.Stat(filepath.Join(l.Root(), "images", "aa", "bb"))
	assert.True(t, os.IsNotExist(err))
	// "aa" still holds "cc", so it survives.
	_, err = os.Stat(filepath.Join(l.Root(), "images", "aa", "cc"))
	require.NoError(t, err)
}

func TestRemoveFile_MissingFileIsBenign(t *testing.T) {
	l := newTestLayout(t)
	assert.NoError(t, l.RemoveFile(filepath.Join("images", "aa", "bb", "gone.bin")))
}

func TestParseID(t *testing.T) {
	id, err := ParseID("deadbeef-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef-0000-4000-8000-000000000001", id.String())

	_, err = ParseID("../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	_, err = ParseID("not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
