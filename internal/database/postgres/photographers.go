package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/event-photos/internal/database"
)

// PhotographerRepository provides PostgreSQL-backed photographer accounts
type PhotographerRepository struct {
	pool *Pool
}

// NewPhotographerRepository creates a new PostgreSQL photographer repository
func NewPhotographerRepository(pool *Pool) *PhotographerRepository {
	return &PhotographerRepository{pool: pool}
}

// Create inserts a photographer
func (r *PhotographerRepository) Create(ctx context.Context, p *database.Photographer) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Email = database.NormalizeEmail(p.Email)

	query := `
		INSERT INTO photographers (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query, p.ID, p.Name, p.Email, p.PasswordHash).Scan(&p.CreatedAt)
	if hasCode(err, codeUniqueViolation) {
		return database.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert photographer: %w", err)
	}
	return nil
}

// GetByID retrieves a photographer by ID
func (r *PhotographerRepository) GetByID(ctx context.Context, id string) (*database.Photographer, error) {
	if !validID(id) {
		return nil, database.ErrPhotographerNotFound
	}
	return r.get(ctx, "id = $1", id)
}

// GetByEmail retrieves a photographer by normalized email
func (r *PhotographerRepository) GetByEmail(ctx context.Context, email string) (*database.Photographer, error) {
	return r.get(ctx, "email = $1", database.NormalizeEmail(email))
}

func (r *PhotographerRepository) get(ctx context.Context, where string, arg any) (*database.Photographer, error) {
	query := `
		SELECT id, name, email, password_hash, created_at
		FROM photographers
		WHERE ` + where

	var p database.Photographer
	err := r.pool.QueryRow(ctx, query, arg).Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrPhotographerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query photographer: %w", err)
	}
	return &p, nil
}
