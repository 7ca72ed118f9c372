// bluetry/database/users.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bluetry/models"
	"bluetry/utils"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ProvisionUser creates or replaces a credential and the matching profile.
// It is only reachable from the command line, which is how admins are made.
func (ds *DatabaseService) ProvisionUser(ctx context.Context, email, password, displayName string, isAdmin bool) (*models.User, error) {
	normalized, ok := utils.NormalizeEmail(email)
	if !ok {
		return nil, models.InvalidInput("invalid email address")
	}
	if len(password) < 8 {
		return nil, models.InvalidInput("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if displayName == "" {
		displayName = utils.EmailLocalPart(normalized)
	}

	uid := uuid.New().String()
	err = ds.withTx(ctx, "provision user", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT uid FROM credentials WHERE email = ?", normalized).Scan(&uid)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup credential: %w", err)
		}
		now := utils.GetSQLTime()
		if _, err := tx.ExecContext(ctx, `INSERT INTO credentials (uid, email, password_hash, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(email) DO UPDATE SET password_hash = excluded.password_hash`, uid, normalized, string(hash), now); err != nil {
			return fmt.Errorf("store credential: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (uid, email, display_name, is_admin, pinned_poems, created_at, updated_at) VALUES (?, ?, ?, ?, '[]', ?, ?)
			ON CONFLICT(uid) DO UPDATE SET display_name = excluded.display_name, is_admin = excluded.is_admin, updated_at = excluded.updated_at`,
			uid, normalized, displayName, isAdmin, now, now); err != nil {
			return fmt.Errorf("store profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ds.GetUser(ctx, uid)
}

// Authenticate checks a password and returns the profile, creating it lazily
// on first sign-in as a non-admin named after the email's local part.
func (ds *DatabaseService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	normalized, ok := utils.NormalizeEmail(email)
	if !ok {
		return nil, models.ErrUnauthorized
	}
	var uid, hash string
	err := ds.DB.QueryRowContext(ctx, "SELECT uid, password_hash FROM credentials WHERE email = ?", normalized).Scan(&uid, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, models.ErrUnauthorized
	}
	return ds.EnsureUser(ctx, uid, normalized)
}

// EnsureUser returns the profile for uid, creating a default one if absent.
func (ds *DatabaseService) EnsureUser(ctx context.Context, uid, email string) (*models.User, error) {
	user, err := ds.GetUser(ctx, uid)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	now := utils.GetSQLTime()
	_, err = ds.DB.ExecContext(ctx, "INSERT OR IGNORE INTO users (uid, email, display_name, is_admin, pinned_poems, created_at, updated_at) VALUES (?, ?, ?, 0, '[]', ?, ?)",
		uid, email, utils.EmailLocalPart(email), now, now)
	if err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return ds.GetUser(ctx, uid)
}

// GetUser loads a profile document.
func (ds *DatabaseService) GetUser(ctx context.Context, uid string) (*models.User, error) {
	var u models.User
	var pinned string
	err := ds.DB.QueryRowContext(ctx, "SELECT uid, email, display_name, is_admin, pinned_poems, created_at, COALESCE(updated_at, created_at) FROM users WHERE uid = ?", uid).
		Scan(&u.UID, &u.Email, &u.DisplayName, &u.IsAdmin, &pinned, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.PinnedPoems = []string{}
	if pinned != "" {
		if err := json.Unmarshal([]byte(pinned), &u.PinnedPoems); err != nil {
			ds.logger.Warn("Corrupt pinned poems list", "uid", uid, "error", err)
		}
	}
	return &u, nil
}

// --- Sessions ---

// CreateSession issues a login token for uid. Only its hash is stored.
func (ds *DatabaseService) CreateSession(ctx context.Context, uid string, ttl time.Duration) (token string, expires time.Time, err error) {
	token, err = utils.NewToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token: %w", err)
	}
	now := utils.GetSQLTime()
	expires = now.Add(ttl)
	_, err = ds.DB.ExecContext(ctx, "INSERT INTO sessions (token_hash, uid, created_at, expires_at) VALUES (?, ?, ?, ?)",
		utils.HashToken(token), uid, now, expires)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("store session: %w", err)
	}
	return token, expires, nil
}

// UserForSession resolves a login token to its user.
func (ds *DatabaseService) UserForSession(ctx context.Context, token string) (*models.User, error) {
	var uid string
	var expires time.Time
	err := ds.DB.QueryRowContext(ctx, "SELECT uid, expires_at FROM sessions WHERE token_hash = ?", utils.HashToken(token)).Scan(&uid, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if !utils.GetSQLTime().Before(expires) {
		return nil, models.ErrUnauthorized
	}
	return ds.GetUser(ctx, uid)
}

// DeleteSession revokes a login token.
func (ds *DatabaseService) DeleteSession(ctx context.Context, token string) error {
	_, err := ds.DB.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", utils.HashToken(token))
	return err
}

// PurgeExpiredSessions deletes sessions past their expiry.
func (ds *DatabaseService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	res, err := ds.DB.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", utils.GetSQLTime())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
