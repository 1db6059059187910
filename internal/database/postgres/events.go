package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/event-photos/internal/database"
)

// EventRepository provides PostgreSQL-backed event storage
type EventRepository struct {
	pool *Pool
}

// NewEventRepository creates a new PostgreSQL event repository
func NewEventRepository(pool *Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

const eventColumns = `id, code, name, event_date, photographer_id, qr_ref, is_active, created_at`

func scanEvent(row interface{ Scan(...any) error }, e *database.Event, extra ...any) error {
	dest := append([]any{&e.ID, &e.Code, &e.Name, &e.Date, &e.PhotographerID, &e.QRRef, &e.IsActive, &e.CreatedAt}, extra...)
	return row.Scan(dest...)
}

// Create inserts an event
func (r *EventRepository) Create(ctx context.Context, e *database.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	query := `
		INSERT INTO events (id, code, name, event_date, photographer_id, qr_ref, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query, e.ID, e.Code, e.Name, e.Date, e.PhotographerID, e.QRRef, e.IsActive).Scan(&e.CreatedAt)
	if hasCode(err, codeUniqueViolation) {
		return database.ErrEventCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by ID regardless of its active flag
func (r *EventRepository) GetByID(ctx context.Context, id string) (*database.Event, error) {
	if !validID(id) {
		return nil, database.ErrEventNotFound
	}

	var e database.Event
	err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id), &e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return &e, nil
}

// ResolveEventByCode returns the active event with the given code
func (r *EventRepository) ResolveEventByCode(ctx context.Context, code string) (*database.Event, error) {
	var e database.Event
	query := `SELECT ` + eventColumns + ` FROM events WHERE code = $1 AND is_active`
	err := scanEvent(r.pool.QueryRow(ctx, query, database.NormalizeEventCode(code)), &e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve event code: %w", err)
	}
	return &e, nil
}

// ListByPhotographer returns the photographer's events with photo counts, newest first
func (r *EventRepository) ListByPhotographer(ctx context.Context, photographerID string) ([]database.EventSummary, error) {
	if !validID(photographerID) {
		return nil, nil
	}

	query := `
		SELECT e.id, e.code, e.name, e.event_date, e.photographer_id, e.qr_ref, e.is_active, e.created_at,
			(SELECT COUNT(*) FROM photos p WHERE p.event_id = e.id)
		FROM events e
		WHERE e.photographer_id = $1
		ORDER BY e.created_at DESC, e.id
	`
	rows, err := r.pool.Query(ctx, query, photographerID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []database.EventSummary
	for rows.Next() {
		var s database.EventSummary
		if err := scanEvent(rows, &s.Event, &s.PhotoCount); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Delete removes an event; photos and match records cascade
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return database.ErrEventNotFound
	}
	res, err := r.pool.Exec(ctx, "DELETE FROM events WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n == 0 {
		return database.ErrEventNotFound
	}
	return nil
}
