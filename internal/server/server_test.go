package server

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exhibitmedia/internal/models"
	"exhibitmedia/internal/storage"
)

func TestSplitRequest(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/abc/info.json", []string{"abc", "info.json"}},
		{"/abc/manifest", []string{"abc", "manifest"}},
		{"/abc/full/max/0/default.jpg", []string{"abc", "full", "max", "0", "default.jpg"}},
		{"/manifests/generate", []string{"manifests", "generate"}},
		{"/", nil},
		{"", nil},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, splitRequest(tc.in))
		})
	}
}

type fakeDeleter struct {
	err     error
	calls   int
	deleted []uuid.UUID
}

func (f *fakeDeleter) DeleteRecord(_ context.Context, id uuid.UUID) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeRemover struct {
	err   error
	calls int
}

func (f *fakeRemover) Delete(_ *models.MediaRecord) error {
	f.calls++
	return f.err
}

func TestDeleteMedia_RowBeforeFiles(t *testing.T) {
	rec := &models.MediaRecord{ID: uuid.New()}
	db := &fakeDeleter{}
	files := &fakeRemover{}

	require.NoError(t, deleteMedia(context.Background(), db, files, rec))
	assert.Equal(t, []uuid.UUID{rec.ID}, db.deleted)
	assert.Equal(t, 1, files.calls)
}

func TestDeleteMedia_RowFailureKeepsFiles(t *testing.T) {
	rec := &models.MediaRecord{ID: uuid.New()}
	db := &fakeDeleter{err: errors.New("connection reset")}
	files := &fakeRemover{}

	err := deleteMedia(context.Background(), db, files, rec)
	require.Error(t, err)
	// Files stay put so the still-present row keeps pointing at real data.
	assert.Zero(t, files.calls)
}

func TestDeleteMedia_MissingRowStillRemovesFiles(t *testing.T) {
	rec := &models.MediaRecord{ID: uuid.New()}
	db := &fakeDeleter{err: storage.ErrNotFound}
	files := &fakeRemover{}

	require.NoError(t, deleteMedia(context.Background(), db, files, rec))
	assert.Equal(t, 1, files.calls)
}
