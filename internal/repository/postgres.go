package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

type postgresTokenRepository struct {
	db *sql.DB
}

func NewPostgresTokenRepository(db *sql.DB) TokenRepository {
	return &postgresTokenRepository{db: db}
}

func (r *postgresTokenRepository) InsertToken(ctx context.Context, row TokenRow) error {
	const q = `
INSERT INTO auth_tokens (token, email, expires_at, created_at)
VALUES ($1, $2, $3, COALESCE($4, now()))
ON CONFLICT (token) DO NOTHING
`
	_, err := r.db.ExecContext(ctx, q, row.Token, row.Email, row.ExpiresAt,
		sql.NullTime{Time: row.CreatedAt, Valid: !row.CreatedAt.IsZero()})
	return err
}

func (r *postgresTokenRepository) FindToken(ctx context.Context, token string) (*TokenRow, error) {
	const q = `
SELECT token, email, expires_at, created_at
FROM auth_tokens
WHERE token = $1
`
	var row TokenRow
	err := r.db.QueryRowContext(ctx, q, token).Scan(&row.Token, &row.Email, &row.ExpiresAt, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *postgresTokenRepository) DeleteToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE token = $1`, token)
	return err
}

func (r *postgresTokenRepository) DeleteTokensForEmail(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE email = $1`, email)
	return err
}

type postgresOTPRepository struct {
	db *sql.DB
}

func NewPostgresOTPRepository(db *sql.DB) OTPRepository {
	return &postgresOTPRepository{db: db}
}

func (r *postgresOTPRepository) InsertOTP(ctx context.Context, row OTPRow) error {
	const q = `
INSERT INTO otp_tokens (email, code, expires_at, used, created_at)
VALUES ($1, $2, $3, $4, COALESCE($5, now()))
`
	_, err := r.db.ExecContext(ctx, q, row.Email, row.Code, row.ExpiresAt, row.Used,
		sql.NullTime{Time: row.CreatedAt, Valid: !row.CreatedAt.IsZero()})
	return err
}

func (r *postgresOTPRepository) MarkOTPUsed(ctx context.Context, email, code string) error {
	const q = `
UPDATE otp_tokens
SET used = true
WHERE email = $1 AND code = $2 AND used = false
`
	_, err := r.db.ExecContext(ctx, q, email, code)
	return err
}

type postgresEmployeeDirectory struct {
	db *sql.DB
}

func NewPostgresEmployeeDirectory(db *sql.DB) EmployeeDirectory {
	return &postgresEmployeeDirectory{db: db}
}

func (r *postgresEmployeeDirectory) FindByEmail(ctx context.Context, email string) (*Employee, error) {
	const q = `
SELECT email, name, role, permissions, active
FROM employees
WHERE lower(email) = lower($1)
`
	var e Employee
	err := r.db.QueryRowContext(ctx, q, email).Scan(&e.Email, &e.Name, &e.Role, pq.Array(&e.Permissions), &e.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type postgresDonorDirectory struct {
	db *sql.DB
}

func NewPostgresDonorDirectory(db *sql.DB) DonorDirectory {
	return &postgresDonorDirectory{db: db}
}

func (r *postgresDonorDirectory) Exists(ctx context.Context, email string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM donors WHERE lower(email) = lower($1))`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
