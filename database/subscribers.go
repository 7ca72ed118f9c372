// bluetry/database/subscribers.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bluetry/models"
	"bluetry/utils"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// AddSubscriber stores a new, subscribed address. Emails are lower-cased and
// must be unique.
func (ds *DatabaseService) AddSubscriber(ctx context.Context, email string) (*models.EmailSubscriber, error) {
	normalized, ok := utils.NormalizeEmail(email)
	if !ok {
		return nil, models.InvalidInput("Please enter a valid email address.")
	}
	s := &models.EmailSubscriber{
		ID:           uuid.New().String(),
		Email:        normalized,
		CreatedAt:  utils.GetSQLTime(),
		Subscribed:   true,
	}
	_, err := ds.DB.ExecContext(ctx, "INSERT INTO subscribers (id, email, created_at, subscribed) VALUES (?, ?, ?, 1)",
		s.ID, s.Email, s.CreatedAt)
	if isUniqueViolation(err) {
		return nil, models.ErrAlreadySubscribed
	}
	if err != nil {
		return nil, fmt.Errorf("insert subscriber: %w", err)
	}
	return s, nil
}

func (ds *DatabaseService) querySubscribers(ctx context.Context, query string, args ...any) ([]models.EmailSubscriber, error) {
	rows, err := ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()
	subs := []models.EmailSubscriber{}
	for rows.Next() {
		var s models.EmailSubscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.CreatedAt, &s.Subscribed); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ListSubscribers returns every subscriber, newest first.
func (ds *DatabaseService) ListSubscribers(ctx context.Context) ([]models.EmailSubscriber, error) {
	return ds.querySubscribers(ctx, "SELECT id, email, created_at, subscribed FROM subscribers ORDER BY created_at DESC, rowid DESC")
}

// ActiveSubscriberEmails returns the addresses that still want mail.
func (ds *DatabaseService) ActiveSubscriberEmails(ctx context.Context) ([]string, error) {
	subs, err := ds.querySubscribers(ctx, "SELECT id, email, created_at, subscribed FROM subscribers WHERE subscribed = 1 ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, err
	}
	emails := make([]string, 0, len(subs))
	for _, s := range subs {
		emails = append(emails, s.Email)
	}
	return emails, nil
}

// SubscriberUpdate holds the editable subscriber fields; nil means unchanged.
type SubscriberUpdate struct {
	Email      *string
	Subscribed *bool
}

// UpdateSubscriber edits a subscriber's address or subscription flag.
func (ds *DatabaseService) UpdateSubscriber(ctx context.Context, id string, u SubscriberUpdate) (*models.EmailSubscriber, error) {
	var s models.EmailSubscriber
	err := ds.DB.QueryRowContext(ctx, "SELECT id, email, created_at, subscribed FROM subscribers WHERE id = ?", id).
		Scan(&s.ID, &s.Email, &s.CreatedAt, &s.Subscribed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load subscriber: %w", err)
	}
	if u.Email != nil {
		normalized, ok := utils.NormalizeEmail(*u.Email)
		if !ok {
			return nil, models.InvalidInput("Please enter a valid email address.")
		}
		s.Email = normalized
	}
	if u.Subscribed != nil {
		s.Subscribed = *u.Subscribed
	}
	_, err = ds.DB.ExecContext(ctx, "UPDATE subscribers SET email = ?, subscribed = ? WHERE id = ?", s.Email, s.Subscribed, id)
	if isUniqueViolation(err) {
		return nil, models.ErrAlreadySubscribed
	}
	if err != nil {
		return nil, fmt.Errorf("update subscriber: %w", err)
	}
	return &s, nil
}

// Unsubscribe clears the subscribed flag for an address.
func (ds *DatabaseService) Unsubscribe(ctx context.Context, email string) error {
	normalized, ok := utils.NormalizeEmail(email)
	if !ok {
		return models.InvalidInput("Please enter a valid email address.")
	}
	res, err := ds.DB.ExecContext(ctx, "UPDATE subscribers SET subscribed = 0 WHERE email = ?", normalized)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteSubscriber removes a subscriber record entirely.
func (ds *DatabaseService) DeleteSubscriber(ctx context.Context, id string) error {
	res, err := ds.DB.ExecContext(ctx, "DELETE FROM subscribers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}
