package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/lib/pq"
)

// MatchRecordRepository provides PostgreSQL-backed, append-only match records
type MatchRecordRepository struct {
	pool *Pool
}

// NewMatchRecordRepository creates a new PostgreSQL match record repository
func NewMatchRecordRepository(pool *Pool) *MatchRecordRepository {
	return &MatchRecordRepository{pool: pool}
}

// CreateMatchRecord writes the record and all its matches in one transaction
func (r *MatchRecordRepository) CreateMatchRecord(ctx context.Context, rec *database.MatchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO match_records (id, event_id, selfie_ref)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, rec.ID, rec.EventID, rec.SelfieRef).Scan(&rec.CreatedAt)
	if hasCode(err, codeForeignKeyViolation) {
		return database.ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("insert match record: %w", err)
	}

	if len(rec.Matches) > 0 {
		ids := make([]string, len(rec.Matches))
		scores := make([]float64, len(rec.Matches))
		ranks := make([]int64, len(rec.Matches))
		for i, m := range rec.Matches {
			if !validID(m.PhotoID) {
				return fmt.Errorf("%w: %s", database.ErrPhotoNotInEvent, m.PhotoID)
			}
			ids[i] = m.PhotoID
			scores[i] = m.Score
			ranks[i] = int64(m.Rank)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO match_record_photos (match_id, event_id, photo_id, score, rank)
			SELECT $1, $2, m.photo_id, m.score, m.rank
			FROM UNNEST($3::uuid[], $4::double precision[], $5::integer[]) AS m(photo_id, score, rank)
		`, rec.ID, rec.EventID, pq.Array(ids), pq.Array(scores), pq.Array(ranks))
		if hasCode(err, codeForeignKeyViolation) {
			return database.ErrPhotoNotInEvent
		}
		if err != nil {
			return fmt.Errorf("insert match record photos: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit match record: %w", err)
	}
	return nil
}

// GetMatchRecord retrieves a record with its matches ordered by rank
func (r *MatchRecordRepository) GetMatchRecord(ctx context.Context, id string) (*database.MatchRecord, error) {
	if !validID(id) {
		return nil, database.ErrMatchRecordNotFound
	}

	var rec database.MatchRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, event_id, selfie_ref, created_at FROM match_records WHERE id = $1
	`, id).Scan(&rec.ID, &rec.EventID, &rec.SelfieRef, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrMatchRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query match record: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT photo_id, score, rank FROM match_record_photos WHERE match_id = $1 ORDER BY rank
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query match record photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m database.MatchedPhoto
		if err := rows.Scan(&m.PhotoID, &m.Score, &m.Rank); err != nil {
			return nil, fmt.Errorf("scan matched photo: %w", err)
		}
		rec.Matches = append(rec.Matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matched photos: %w", err)
	}
	return &rec, nil
}

// CountForEvent returns the number of match records of an event
func (r *MatchRecordRepository) CountForEvent(ctx context.Context, eventID string) (int, error) {
	if !validID(eventID) {
		return 0, nil
	}
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM match_records WHERE event_id = $1", eventID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count match records: %w", err)
	}
	return n, nil
}
