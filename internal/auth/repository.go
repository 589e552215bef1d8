package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connect-commerce/connect-admin/internal/shared"
)

// Repository defines persistence operations for admin accounts.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Admin, error)
	FindByID(ctx context.Context, id int64) (*Admin, error)
	Create(ctx context.Context, admin NewAdmin) (*Admin, error)
	UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*Admin, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const adminColumns = `id, email, username, display_name, password_hash, status, admin_status, last_login_at, created_at, updated_at`

func scanAdmin(row pgx.Row) (*Admin, error) {
	var a Admin
	err := row.Scan(&a.ID, &a.Email, &a.Username, &a.DisplayName, &a.PasswordHash, &a.Status, &a.AdminStatus, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindByEmail fetches an admin by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Admin, error) {
	query := `SELECT ` + adminColumns + ` FROM admins WHERE lower(email) = lower($1)`
	return scanAdmin(r.pool.QueryRow(ctx, query, email))
}

// FindByID fetches an admin by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*Admin, error) {
	query := `SELECT ` + adminColumns + ` FROM admins WHERE id = $1`
	return scanAdmin(r.pool.QueryRow(ctx, query, id))
}

// Create inserts a new admin. New accounts are active but not yet approved.
func (r *PGRepository) Create(ctx context.Context, admin NewAdmin) (*Admin, error) {
	now := time.Now().UTC()
	query := `INSERT INTO admins (email, username, display_name, password_hash, status, admin_status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, TRUE, FALSE, $5, $5)
	          RETURNING ` + adminColumns
	created, err := scanAdmin(r.pool.QueryRow(ctx, query, admin.Email, admin.Username, admin.DisplayName, admin.PasswordHash, now))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrDuplicate
		}
		return nil, err
	}
	return created, nil
}

// UpdateProfile changes the editable profile fields.
func (r *PGRepository) UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*Admin, error) {
	query := `UPDATE admins SET username = $1, display_name = $2, updated_at = $3 WHERE id = $4 RETURNING ` + adminColumns
	updated, err := scanAdmin(r.pool.QueryRow(ctx, query, update.Username, update.DisplayName, time.Now().UTC(), id))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrDuplicate
		}
		return nil, err
	}
	return updated, nil
}

var _ Repository = (*PGRepository)(nil)
