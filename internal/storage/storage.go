package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"exhibitmedia/internal/models"
)

var ErrNotFound = errors.New("media record not found")

type Store struct {
	pool *pgxpool.Pool
	db   *sql.DB // for migrations
}

func NewStore(dsn string) (*Store, error) {
	const op = "storage.NewStore"

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Store{pool: pool, db: db}, nil
}

func (s *Store) Close() {
	s.db.Close()
	s.pool.Close()
}

const recordColumns = `id, media_type, mime_type, original_filename, extension, file_size,
	storage_path, thumbnail_path, media_width, media_height, extracted_metadata, manifest,
	title, description, catalog_number, subjects, source`

func (s *Store) SaveRecord(ctx context.Context, rec *models.MediaRecord) error {
	const op = "storage.SaveRecord"

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO media_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		rec.ID, rec.MediaType, rec.MimeType, rec.OriginalFilename, rec.Extension, rec.FileSize,
		rec.StoragePath, nullable(rec.ThumbnailPath), rec.MediaWidth, rec.MediaHeight, meta,
		nullableJSON(rec.Manifest), nullable(rec.Title), nullable(rec.Description),
		nullable(rec.CatalogNumber), nullable(rec.Subjects), rec.Source)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*models.MediaRecord, error) {
	const op = "storage.GetRecord"

	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM media_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// UpdateDerivatives persists regenerated derivative fields (thumbnail,
// dimensions, metadata) for an existing record.
func (s *Store) UpdateDerivatives(ctx context.Context, rec *models.MediaRecord) error {
	const op = "storage.UpdateDerivatives"

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE media_records
		 SET thumbnail_path = $2, media_width = $3, media_height = $4, extracted_metadata = $5
		 WHERE id = $1`,
		rec.ID, nullable(rec.ThumbnailPath), rec.MediaWidth, rec.MediaHeight, meta)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *Store) SaveManifest(ctx context.Context, id uuid.UUID, manifest json.RawMessage) error {
	const op = "storage.SaveManifest"

	tag, err := s.pool.Exec(ctx,
		`UPDATE media_records SET manifest = $2 WHERE id = $1`, id, manifest)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// ListWithoutManifest returns upload-sourced image and document records that
// have no cached manifest yet. Used by the batch manifest job.
func (s *Store) ListWithoutManifest(ctx context.Context) ([]*models.MediaRecord, error) {
	const op = "storage.ListWithoutManifest"

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM media_records
		 WHERE manifest IS NULL AND source = $1 AND media_type IN ($2, $3)
		 ORDER BY id`,
		models.SourceUpload, models.MediaTypeImage, models.MediaTypeDocument)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var recs []*models.MediaRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return recs, nil
}

func (s *Store) CountRecords(ctx context.Context) (int, error) {
	const op = "storage.CountRecords"

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM media_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *Store) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteRecord"

	tag, err := s.pool.Exec(ctx, `DELETE FROM media_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func scanRecord(row pgx.Row) (*models.MediaRecord, error) {
	var (
		rec      models.MediaRecord
		thumb    sql.NullString
		meta     []byte
		manifest []byte
		title    sql.NullString
		desc     sql.NullString
		catalog  sql.NullString
		subjects sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.MediaType, &rec.MimeType, &rec.OriginalFilename,
		&rec.Extension, &rec.FileSize, &rec.StoragePath, &thumb, &rec.MediaWidth,
		&rec.MediaHeight, &meta, &manifest, &title, &desc, &catalog, &subjects, &rec.Source)
	if err != nil {
		return nil, err
	}
	rec.ThumbnailPath = thumb.String
	rec.Title = title.String
	rec.Description = desc.String
	rec.CatalogNumber = catalog.String
	rec.Subjects = subjects.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			rec.Metadata = nil
		}
	}
	if len(manifest) > 0 {
		rec.Manifest = json.RawMessage(manifest)
	}
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
