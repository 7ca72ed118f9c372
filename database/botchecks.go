// bluetry/database/botchecks.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bluetry/models"
)

// CreateBotCheck stores a freshly issued challenge.
func (ds *DatabaseService) CreateBotCheck(ctx context.Context, bc *models.BotCheck) error {
	_, err := ds.DB.ExecContext(ctx, `INSERT INTO bot_checks (id, session_id, challenge_type, question, solution, attempts, failures, passed, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bc.ID, bc.SessionID, bc.ChallengeType, bc.Question, bc.Solution, bc.Attempts, bc.Failures, bc.Passed, bc.CreatedAt, bc.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert bot check: %w", err)
	}
	return nil
}

// LatestBotCheck returns the newest challenge issued to a session.
func (ds *DatabaseService) LatestBotCheck(ctx context.Context, sessionID string) (*models.BotCheck, error) {
	var bc models.BotCheck
	err := ds.DB.QueryRowContext(ctx, `SELECT id, session_id, challenge_type, question, solution, attempts, failures, passed, created_at, expires_at
		FROM bot_checks WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, sessionID).Scan(
		&bc.ID, &bc.SessionID, &bc.ChallengeType, &bc.Question, &bc.Solution, &bc.Attempts, &bc.Failures, &bc.Passed, &bc.CreatedAt, &bc.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest bot check: %w", err)
	}
	return &bc, nil
}

// UpdateBotCheck persists attempt bookkeeping and the passed flag.
func (ds *DatabaseService) UpdateBotCheck(ctx context.Context, bc *models.BotCheck) error {
	res, err := ds.DB.ExecContext(ctx, "UPDATE bot_checks SET attempts = ?, failures = ?, passed = ? WHERE id = ?",
		bc.Attempts, bc.Failures, bc.Passed, bc.ID)
	if err != nil {
		return fmt.Errorf("update bot check: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// HasPassedBotCheck reports whether any challenge of the session was solved.
func (ds *DatabaseService) HasPassedBotCheck(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM bot_checks WHERE session_id = ? AND passed = 1", sessionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check bot status: %w", err)
	}
	return n > 0, nil
}

var _ models.BotCheckStore = (*DatabaseService)(nil)
