package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/playtube/playtube/internal/common"
	"github.com/playtube/playtube/internal/dbx"
	"github.com/playtube/playtube/internal/server/models"
)

const userColumns = `id, username, email, password_hash, refresh_token, avatar_url, cover_image_url, created_at, updated_at`

// PostgresRepository implements Repository over dbx.DBTX (satisfied by both
// *sql.DB and *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.RefreshToken, &user.AvatarURL, &user.CoverImageURL,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// isUniqueViolation matches the postgres unique_violation error code.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	query := `
		INSERT INTO users (id, username, email, password_hash, avatar_url, cover_image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns

	row := r.db.QueryRowContext(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.AvatarURL, user.CoverImageURL)

	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, common.ErrConflict
		}
		return nil, err
	}
	return created, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE (username = $1 AND $1 <> '') OR (email = $2 AND $2 <> '')`
	return scanUser(r.db.QueryRowContext(ctx, query, username, email))
}

func (r *PostgresRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 OR email = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) SetRefreshToken(ctx context.Context, id uuid.UUID, token string) error {
	query := `UPDATE users SET refresh_token = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, id, token)
}

func (r *PostgresRepository) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE users SET refresh_token = NULL, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, id)
}

// RotateRefreshToken is the single read-modify-write point of the session
// lifecycle. The conditional WHERE clause makes the swap atomic: of two
// concurrent rotations presenting the same stale token, exactly one sees
// RowsAffected == 1.
func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string) (bool, error) {
	query := `
		UPDATE users SET refresh_token = $3, updated_at = now()
		WHERE id = $1 AND refresh_token = $2`
	res, err := r.db.ExecContext(ctx, query, id, current, next)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, id, hash)
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, id uuid.UUID, username, email string) (*models.User, error) {
	query := `
		UPDATE users SET username = $2, email = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	updated, err := scanUser(r.db.QueryRowContext(ctx, query, id, username, email))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, common.ErrConflict
		}
		return nil, err
	}
	return updated, nil
}

func (r *PostgresRepository) UpdateAvatarURL(ctx context.Context, id uuid.UUID, url string) (*models.User, error) {
	query := `
		UPDATE users SET avatar_url = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, id, url))
}

func (r *PostgresRepository) UpdateCoverImageURL(ctx context.Context, id uuid.UUID, url string) (*models.User, error) {
	query := `
		UPDATE users SET cover_image_url = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, id, url))
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
