// Package postgres implements credentials.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/azora-os/azauth/credentials"
)

const pgUniqueViolationCode = "23505"

const userColumns = `
	id, email, username, password_hash, first_name, last_name, role, active,
	email_verified, COALESCE(oauth_provider, ''), COALESCE(oauth_provider_id, ''),
	created_at, updated_at`

// Store is a credentials.Store backed by a pgx pool. The pool is owned by the caller.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store over pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect parses dsn, opens a pool, and pings it.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", credentials.ErrUnavailable, err)
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolationCode {
		return unavailable(err)
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return credentials.ErrDuplicateEmail
	case "users_username_key":
		return credentials.ErrDuplicateUsername
	case "users_oauth_key":
		return credentials.ErrDuplicateOAuth
	default:
		return unavailable(err)
	}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanUser(row pgx.Row) (*credentials.User, error) {
	var (
		u    credentials.User
		role string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &role,
		&u.Active, &u.EmailVerified, &u.OAuthProvider, &u.OAuthProviderID, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	u.Role = credentials.Role(role)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *credentials.User) error {
	const query = `
		INSERT INTO users (id, email, username, password_hash, first_name, last_name, role,
			active, email_verified, oauth_provider, oauth_provider_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		u.ID, u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName, string(u.Role),
		u.Active, u.EmailVerified, nullString(u.OAuthProvider), nullString(u.OAuthProviderID),
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*credentials.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*credentials.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*credentials.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (s *Store) GetUserByOAuth(ctx context.Context, provider, providerID string) (*credentials.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE oauth_provider = $1 AND oauth_provider_id = $2`,
		provider, providerID))
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return credentials.ErrNotFound
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, hash)
}

func (s *Store) UpdateRole(ctx context.Context, userID string, role credentials.Role) error {
	return s.exec(ctx, `UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, userID, string(role))
}

func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	return s.exec(ctx, `UPDATE users SET active = $2, updated_at = now() WHERE id = $1`, userID, active)
}

func (s *Store) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.exec(ctx, `UPDATE users SET email_verified = TRUE, updated_at = now() WHERE id = $1`, userID)
}

func (s *Store) LinkOAuth(ctx context.Context, userID, provider, providerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET oauth_provider = $2, oauth_provider_id = $3, updated_at = now()
		WHERE id = $1`, userID, provider, providerID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return credentials.ErrNotFound
	}
	return nil
}

func (s *Store) GetMFA(ctx context.Context, userID string) (*credentials.MFASettings, error) {
	settings := &credentials.MFASettings{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT secret, enabled, last_counter, created_at FROM mfa_settings WHERE user_id = $1`, userID,
	).Scan(&settings.Secret, &settings.Enabled, &settings.LastUsedCounter, &settings.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}

	rows, err := s.pool.Query(ctx, `SELECT code_hash FROM mfa_backup_codes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	hashes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([32]byte, error) {
		var raw []byte
		var out [32]byte
		if err := row.Scan(&raw); err != nil {
			return out, err
		}
		copy(out[:], raw)
		return out, nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	settings.BackupCodes = hashes
	return settings, nil
}

func (s *Store) SaveMFA(ctx context.Context, settings *credentials.MFASettings) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO mfa_settings (user_id, secret, enabled, last_counter)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id) DO UPDATE
			SET secret = EXCLUDED.secret, enabled = EXCLUDED.enabled,
				last_counter = EXCLUDED.last_counter, created_at = now()`,
			settings.UserID, settings.Secret, settings.Enabled, settings.LastUsedCounter)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return credentials.ErrNotFound
			}
			return unavailable(err)
		}
		return replaceCodes(ctx, tx, settings.UserID, settings.BackupCodes)
	})
}

func replaceCodes(ctx context.Context, tx pgx.Tx, userID string, hashes [][32]byte) error {
	if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return unavailable(err)
	}
	if len(hashes) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(hashes))
	for _, h := range hashes {
		rows = append(rows, []any{userID, h[:]})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"mfa_backup_codes"}, []string{"user_id", "code_hash"}, pgx.CopyFromRows(rows)); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) EnableMFA(ctx context.Context, userID string) error {
	return s.exec(ctx, `UPDATE mfa_settings SET enabled = TRUE WHERE user_id = $1`, userID)
}

func (s *Store) AdvanceTOTPCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE mfa_settings SET last_counter = $2 WHERE user_id = $1 AND last_counter < $2`, userID, counter)
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, hashes [][32]byte) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM mfa_settings WHERE user_id = $1 FOR UPDATE`, userID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return credentials.ErrNotFound
		}
		if err != nil {
			return unavailable(err)
		}
		return replaceCodes(ctx, tx, userID, hashes)
	})
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1 AND code_hash = $2`, userID, hash[:])
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteMFA(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM mfa_settings WHERE user_id = $1`, userID); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

var _ credentials.Store = (*Store)(nil)
