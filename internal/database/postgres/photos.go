package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/pgvector/pgvector-go"
)

// PhotoRepository provides PostgreSQL-backed photo storage with pgvector descriptors
type PhotoRepository struct {
	pool *Pool
}

// NewPhotoRepository creates a new PostgreSQL photo repository
func NewPhotoRepository(pool *Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

// Create inserts a photo. A descriptor set on p is stored as well.
func (r *PhotoRepository) Create(ctx context.Context, p *database.Photo) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	var vec *pgvector.Vector
	var model *string
	if len(p.Descriptor) > 0 {
		v := pgvector.NewVector(p.Descriptor)
		vec = &v
		model = &p.DescriptorModel
	}

	query := `
		INSERT INTO photos (id, event_id, blob_ref, filename, size, mime_type, descriptor, descriptor_model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING uploaded_at
	`
	err := r.pool.QueryRow(ctx, query, p.ID, p.EventID, p.BlobRef, p.Filename, p.Size, p.MimeType, vec, model).Scan(&p.UploadedAt)
	if hasCode(err, codeForeignKeyViolation) {
		return database.ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}
	return nil
}

// Get retrieves a photo by ID
func (r *PhotoRepository) Get(ctx context.Context, id string) (*database.Photo, error) {
	if !validID(id) {
		return nil, database.ErrPhotoNotFound
	}

	query := `
		SELECT id, event_id, blob_ref, filename, size, mime_type, uploaded_at, descriptor, COALESCE(descriptor_model, '')
		FROM photos
		WHERE id = $1
	`
	var p database.Photo
	var vec *pgvector.Vector
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.EventID, &p.BlobRef, &p.Filename, &p.Size, &p.MimeType, &p.UploadedAt, &vec, &p.DescriptorModel,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrPhotoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query photo: %w", err)
	}
	if vec != nil {
		p.Descriptor = vec.Slice()
	}
	return &p, nil
}

// ListByEvent returns the event's photos ordered by upload time, without descriptors
func (r *PhotoRepository) ListByEvent(ctx context.Context, eventID string) ([]database.Photo, error) {
	if !validID(eventID) {
		return nil, nil
	}

	query := `
		SELECT id, event_id, blob_ref, filename, size, mime_type, uploaded_at, COALESCE(descriptor_model, '')
		FROM photos
		WHERE event_id = $1
		ORDER BY uploaded_at, id
	`
	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var out []database.Photo
	for rows.Next() {
		var p database.Photo
		if err := rows.Scan(&p.ID, &p.EventID, &p.BlobRef, &p.Filename, &p.Size, &p.MimeType, &p.UploadedAt, &p.DescriptorModel); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return out, nil
}

// PhotosForEvent returns every photo of an event with its stored descriptor, ordered by id
func (r *PhotoRepository) PhotosForEvent(ctx context.Context, eventID string) ([]database.PhotoRef, error) {
	if !validID(eventID) {
		return nil, nil
	}

	query := `
		SELECT id, blob_ref, descriptor, COALESCE(descriptor_model, '')
		FROM photos
		WHERE event_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("query photos for event: %w", err)
	}
	defer rows.Close()

	var out []database.PhotoRef
	for rows.Next() {
		var ref database.PhotoRef
		var vec *pgvector.Vector
		if err := rows.Scan(&ref.PhotoID, &ref.BlobRef, &vec, &ref.DescriptorModel); err != nil {
			return nil, fmt.Errorf("scan photo ref: %w", err)
		}
		if vec != nil {
			ref.Descriptor = vec.Slice()
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo refs: %w", err)
	}
	return out, nil
}

// SetDescriptor stores the descriptor of a photo that has none yet
func (r *PhotoRepository) SetDescriptor(ctx context.Context, photoID string, descriptor []float32, model string) error {
	if !validID(photoID) {
		return database.ErrPhotoNotFound
	}

	res, err := r.pool.Exec(ctx, `
		UPDATE photos SET descriptor = $2, descriptor_model = $3
		WHERE id = $1 AND descriptor IS NULL
	`, photoID, pgvector.NewVector(descriptor), model)
	if err != nil {
		return fmt.Errorf("set descriptor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set descriptor: %w", err)
	}
	if n == 1 {
		return nil
	}

	existing, err := r.Get(ctx, photoID)
	if err != nil {
		return err
	}
	if slices.Equal(existing.Descriptor, descriptor) {
		return nil
	}
	return database.ErrDescriptorExists
}

// FindSimilarInEvent orders the event's descriptors by cosine distance to probe
func (r *PhotoRepository) FindSimilarInEvent(ctx context.Context, eventID string, probe []float32, limit int) ([]database.SimilarPhoto, error) {
	if !validID(eventID) || len(probe) == 0 || limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, descriptor <=> $2 AS distance
		FROM photos
		WHERE event_id = $1 AND descriptor IS NOT NULL AND vector_dims(descriptor) = $3
		ORDER BY distance, id
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, eventID, pgvector.NewVector(probe), len(probe), limit)
	if err != nil {
		return nil, fmt.Errorf("find similar photos: %w", err)
	}
	defer rows.Close()

	var out []database.SimilarPhoto
	for rows.Next() {
		var s database.SimilarPhoto
		if err := rows.Scan(&s.PhotoID, &s.Distance); err != nil {
			return nil, fmt.Errorf("scan similar photo: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar photos: %w", err)
	}
	return out, nil
}
