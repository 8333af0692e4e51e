package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/racephoto/internal/config"
	"github.com/your-org/racephoto/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by mutations that address a photo which does not exist.
var ErrNotFound = errors.New("not found")

const photoColumns = `tenant_id, event_id, image_key, bucket, raw_key, processed_key, photographer_id,
	bib, bib_source, detected_bibs, raw_text, text_detected, face_ids, similar_face_ids, faces_indexed,
	status, uploaded_at, created_at, updated_at`

// sourceRankSQL mirrors models.BibSource.Rank for the stored bib_source column.
const sourceRankSQL = `CASE bib_source WHEN 'ocr' THEN 2 WHEN 'disambiguated' THEN 2 WHEN 'face' THEN 1 ELSE 0 END`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	return Connect(context.Background(), cfg.DSN(), cfg.MaxConns)
}

// Connect opens a pool against dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables and indexes if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// --- Photos ---

// CreatePhoto inserts the UPLOADED record. It reports false when the photo
// already existed, in which case nothing is changed.
func (s *PostgresStore) CreatePhoto(ctx context.Context, p *models.Photo) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO photos (tenant_id, event_id, image_key, bucket, raw_key, processed_key, photographer_id, status, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (tenant_id, event_id, image_key) DO NOTHING`,
		p.TenantID, p.EventID, p.ImageKey, p.Bucket, p.RawKey, p.ProcessedKey, p.PhotographerID,
		string(models.StatusUploaded), p.UploadedAt,
	)
	if err != nil {
		return false, fmt.Errorf("create photo: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetPhoto(ctx context.Context, ref models.PhotoRef) (*models.Photo, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE tenant_id = $1 AND event_id = $2 AND image_key = $3`,
		ref.TenantID, ref.EventID, ref.ImageKey)
	p, err := scanPhoto(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return p, nil
}

// GetPhotos loads the photos of one event with the given image keys.
// Missing keys are skipped.
func (s *PostgresStore) GetPhotos(ctx context.Context, ev models.EventRef, keys []string) ([]models.Photo, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+photoColumns+` FROM photos
		 WHERE tenant_id = $1 AND event_id = $2 AND image_key = ANY($3)`,
		ev.TenantID, ev.EventID, keys)
	if err != nil {
		return nil, fmt.Errorf("get photos: %w", err)
	}
	return collectPhotos(rows)
}

// RecordText commits the text stage result and advances the status where the
// transition table allows it.
func (s *PostgresStore) RecordText(ctx context.Context, ref models.PhotoRef, rec models.TextRecord) (*models.Photo, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE photos SET
			detected_bibs = $4,
			raw_text = $5,
			text_detected = TRUE,
			status = CASE WHEN status = ANY($6) THEN $7 ELSE status END,
			updated_at = now()
		 WHERE tenant_id = $1 AND event_id = $2 AND image_key = $3
		 RETURNING `+photoColumns,
		ref.TenantID, ref.EventID, ref.ImageKey,
		nonNil(rec.Bibs), nonNil(rec.RawText),
		models.StatusStrings(models.AllowedFrom(models.StatusTextDetected)), string(models.StatusTextDetected),
	)
	p, err := scanPhoto(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("record text: %w", err)
	}
	return p, nil
}

// RecordFaces commits the face stage result and writes one face reference per
// face id in the same transaction. References carry the photo's current bib.
func (s *PostgresStore) RecordFaces(ctx context.Context, ref models.PhotoRef, rec models.FaceRecord) (*models.Photo, error) {
	target := models.StatusFacesIndexed
	if len(rec.FaceIDs) == 0 {
		target = models.StatusNoFaces
	}

	var out *models.Photo
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE photos SET
				face_ids = $4,
				similar_face_ids = $5,
				faces_indexed = TRUE,
				status = CASE WHEN status = ANY($6) THEN $7 ELSE status END,
				updated_at = now()
			 WHERE tenant_id = $1 AND event_id = $2 AND image_key = $3
			 RETURNING `+photoColumns,
			ref.TenantID, ref.EventID, ref.ImageKey,
			nonNil(rec.FaceIDs), nonNil(rec.SimilarFaceIDs),
			models.StatusStrings(models.AllowedFrom(target)), string(target),
		)
		p, err := scanPhoto(row)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, faceID := range rec.FaceIDs {
			batch.Queue(
				`INSERT INTO face_refs (face_id, image_key, tenant_id, event_id, bib, uploaded_at)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (face_id, image_key) DO UPDATE SET bib = EXCLUDED.bib`,
				faceID, p.ImageKey, p.TenantID, p.EventID, p.Bib, p.UploadedAt)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("upsert face refs: %w", err)
			}
		}
		out = p
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("record faces: %w", err)
	}
	return out, nil
}

// ApplyResolution writes a resolved bib unless a different bib is stored on
// evidence at least as strong. It reports whether the resolution was applied.
func (s *PostgresStore) ApplyResolution(ctx context.Context, ref models.PhotoRef, res models.Resolution) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var faceIDs []string
		err := tx.QueryRow(ctx,
			`UPDATE photos SET
				bib = $4,
				bib_source = $5,
				status = CASE WHEN status = ANY($6) THEN $7 ELSE status END,
				updated_at = now()
			 WHERE tenant_id = $1 AND event_id = $2 AND image_key = $3
			   AND (bib IS NULL OR bib = $4 OR `+sourceRankSQL+` < $8)
			 RETURNING face_ids`,
			ref.TenantID, ref.EventID, ref.ImageKey,
			res.Bib, string(res.Source),
			models.StatusStrings(models.AllowedFrom(models.StatusBibConfirmed)), string(models.StatusBibConfirmed),
			res.Source.Rank(),
		).Scan(&faceIDs)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		applied = true

		if len(faceIDs) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE face_refs SET bib = $1 WHERE image_key = $2 AND face_id = ANY($3)`,
			res.Bib, ref.ImageKey, faceIDs)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("apply resolution: %w", err)
	}
	return applied, nil
}

// PhotosByBib walks the secondary access path: photos of an event under a
// resolved bib (or NoBib for the unassigned bucket), newest first.
func (s *PostgresStore) PhotosByBib(ctx context.Context, ev models.EventRef, bib string, limit int) ([]models.Photo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+photoColumns+` FROM photos
		 WHERE tenant_id = $1 AND event_id = $2 AND COALESCE(bib, 'NONE') = $3
		 ORDER BY uploaded_at DESC
		 LIMIT $4`,
		ev.TenantID, ev.EventID, bib, limit)
	if err != nil {
		return nil, fmt.Errorf("photos by bib: %w", err)
	}
	return collectPhotos(rows)
}

func (s *PostgresStore) PhotosByPhotographer(ctx context.Context, ev models.EventRef, photographerID string, limit int) ([]models.Photo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+photoColumns+` FROM photos
		 WHERE tenant_id = $1 AND event_id = $2 AND photographer_id = $3
		 ORDER BY uploaded_at DESC
		 LIMIT $4`,
		ev.TenantID, ev.EventID, photographerID, limit)
	if err != nil {
		return nil, fmt.Errorf("photos by photographer: %w", err)
	}
	return collectPhotos(rows)
}

// PendingResolution returns one page of photos with both inputs recorded that
// are either not confirmed yet or confirmed only on weak evidence, in
// (uploaded_at, image_key) order strictly after the cursor.
func (s *PostgresStore) PendingResolution(ctx context.Context, ev models.EventRef, after models.PhotoCursor, limit int) ([]models.Photo, error) {
	var afterAt *time.Time
	if !after.IsZero() {
		afterAt = &after.UploadedAt
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+photoColumns+` FROM photos
		 WHERE tenant_id = $1 AND event_id = $2
		   AND text_detected AND faces_indexed
		   AND (status <> 'BIB_CONFIRMED' OR bib_source IN ('none', 'face'))
		   AND ($3::timestamptz IS NULL OR (uploaded_at, image_key) > ($3, $4))
		 ORDER BY uploaded_at, image_key
		 LIMIT $5`,
		ev.TenantID, ev.EventID, afterAt, after.ImageKey, limit)
	if err != nil {
		return nil, fmt.Errorf("pending resolution: %w", err)
	}
	return collectPhotos(rows)
}

// PendingEvents lists events that have at least one photo awaiting resolution.
func (s *PostgresStore) PendingEvents(ctx context.Context) ([]models.EventRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT tenant_id, event_id FROM photos
		 WHERE text_detected AND faces_indexed
		   AND (status <> 'BIB_CONFIRMED' OR bib_source IN ('none', 'face'))
		 ORDER BY tenant_id, event_id`)
	if err != nil {
		return nil, fmt.Errorf("pending events: %w", err)
	}
	defer rows.Close()

	var events []models.EventRef
	for rows.Next() {
		var ev models.EventRef
		if err := rows.Scan(&ev.TenantID, &ev.EventID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Face references ---

// PriorBibs returns the distinct confirmed bibs linked to faceIDs on photos
// other than excludeKey. A face links to a bib either through its own
// reference row or through a photo that listed it as a similar face, so
// evidence flows in both indexing orders.
func (s *PostgresStore) PriorBibs(ctx context.Context, ev models.EventRef, faceIDs []string, excludeKey string) ([]string, error) {
	if len(faceIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT bib FROM face_refs
		 WHERE tenant_id = $1 AND event_id = $2 AND face_id = ANY($3)
		   AND image_key <> $4 AND bib IS NOT NULL AND bib <> 'NONE'
		 UNION
		 SELECT bib FROM photos
		 WHERE tenant_id = $1 AND event_id = $2 AND similar_face_ids && $3
		   AND image_key <> $4 AND bib IS NOT NULL AND bib <> 'NONE'
		 ORDER BY bib`,
		ev.TenantID, ev.EventID, faceIDs, excludeKey)
	if err != nil {
		return nil, fmt.Errorf("prior bibs: %w", err)
	}
	bibs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan prior bibs: %w", err)
	}
	return bibs, nil
}

// RefsByFaces is the by-face access path used by selfie search.
func (s *PostgresStore) RefsByFaces(ctx context.Context, ev models.EventRef, faceIDs []string) ([]models.FaceRef, error) {
	if len(faceIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT face_id, image_key, tenant_id, event_id, bib, uploaded_at FROM face_refs
		 WHERE tenant_id = $1 AND event_id = $2 AND face_id = ANY($3)`,
		ev.TenantID, ev.EventID, faceIDs)
	if err != nil {
		return nil, fmt.Errorf("refs by faces: %w", err)
	}
	defer rows.Close()

	var refs []models.FaceRef
	for rows.Next() {
		var r models.FaceRef
		if err := rows.Scan(&r.FaceID, &r.ImageKey, &r.TenantID, &r.EventID, &r.Bib, &r.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan face ref: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func scanPhoto(row pgx.Row) (*models.Photo, error) {
	var (
		p      models.Photo
		source string
		status string
	)
	err := row.Scan(&p.TenantID, &p.EventID, &p.ImageKey, &p.Bucket, &p.RawKey, &p.ProcessedKey, &p.PhotographerID,
		&p.Bib, &source, &p.DetectedBibs, &p.RawText, &p.TextDetected, &p.FaceIDs, &p.SimilarFaceIDs, &p.FacesIndexed,
		&status, &p.UploadedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.BibSource = models.BibSource(source)
	p.Status = models.ProcessingStatus(status)
	return &p, nil
}

func collectPhotos(rows pgx.Rows) ([]models.Photo, error) {
	defer rows.Close()

	var photos []models.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, *p)
	}
	return photos, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
