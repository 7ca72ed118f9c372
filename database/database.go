// bluetry/database/database.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bluetry/models"
	"bluetry/utils"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DatabaseService is the document store client. Each collection lives in its own table.
type DatabaseService struct {
	DB        *sql.DB
	logger    *slog.Logger
	dsn       string
	backupDir string
}

type scanner interface {
	Scan(dest ...any) error
}

// InitDB connects to the database and brings the schema up to date.
func InitDB(dataSourceName string, logger *slog.Logger) (*DatabaseService, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	logger.Info("Database initialized")

	return &DatabaseService{
		DB:     db,
		logger: logger,
		dsn:    dataSourceName,
	}, nil
}

// SetBackupDir configures where BackupDatabase writes its files.
func (ds *DatabaseService) SetBackupDir(dir string) {
	ds.backupDir = dir
}

// Close releases the connection pool.
func (ds *DatabaseService) Close() error {
	return ds.DB.Close()
}

// Ping checks that the database is reachable.
func (ds *DatabaseService) Ping(ctx context.Context) error {
	return ds.DB.PingContext(ctx)
}

// BackupDatabase performs an online backup of the live SQLite database using VACUUM INTO.
func (ds *DatabaseService) BackupDatabase(ctx context.Context) (string, error) {
	if ds.backupDir == "" {
		return "", fmt.Errorf("backup directory is not configured")
	}
	if err := os.MkdirAll(ds.backupDir, 0755); err != nil {
		return "", fmt.Errorf("could not create backup directory %s: %w", ds.backupDir, err)
	}

	timestamp := utils.GetSQLTime().Format("2006-01-02_15-04-05.000")
	backupPath := filepath.Join(ds.backupDir, fmt.Sprintf("bluetry_backup_%s.db", timestamp))

	ds.logger.Info("Starting database backup", "destination", backupPath)

	if _, err := ds.DB.ExecContext(ctx, "VACUUM INTO ?", backupPath); err != nil {
		if removeErr := os.Remove(backupPath); removeErr != nil && !os.IsNotExist(removeErr) {
			ds.logger.Error("Failed to remove incomplete backup file", "path", backupPath, "error", removeErr)
		}
		return "", fmt.Errorf("VACUUM INTO command failed: %w", err)
	}
	return backupPath, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	logger.Info("Current database schema version", "version", latestVersion)

	for _, m := range allMigrations {
		if m.Version <= latestVersion {
			continue
		}
		logger.Info("Applying migration", "version", m.Version)
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.Query); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
			}
			return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.GetSQLTime()); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
			}
			return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
		}
		logger.Info("Successfully applied migration", "version", m.Version)
	}
	return nil
}

// withTx runs fn inside a transaction, committing when fn returns nil.
func (ds *DatabaseService) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			ds.logger.Error("Failed to rollback transaction", "op", op, "error", rerr)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// --- Activity ---

// LogActivity records an activity entry inside an existing transaction. A
// failure is logged and swallowed so the surrounding write still commits; a
// savepoint keeps a failed insert from poisoning the transaction.
func (ds *DatabaseService) LogActivity(ctx context.Context, tx *sql.Tx, a *models.Activity) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT activity_log"); err != nil {
		ds.logger.Warn("Failed to open activity savepoint", "type", a.Type, "error", err)
		return
	}
	if err := insertActivity(ctx, tx, a); err != nil {
		ds.logger.Warn("Failed to log activity", "type", a.Type, "error", err)
		if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO activity_log"); rerr != nil {
			ds.logger.Error("Failed to roll back activity savepoint", "error", rerr)
		}
	}
	if _, err := tx.ExecContext(ctx, "RELEASE activity_log"); err != nil {
		ds.logger.Warn("Failed to release activity savepoint", "error", err)
	}
}

// InsertActivity appends an activity entry outside of any transaction.
func (ds *DatabaseService) InsertActivity(ctx context.Context, a *models.Activity) error {
	return insertActivity(ctx, ds.DB, a)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertActivity(ctx context.Context, db execer, a *models.Activity) error {
	if !a.Type.Valid() {
		return fmt.Errorf("unknown activity type %q", a.Type)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = utils.GetSQLTime()
	}
	var metadata sql.NullString
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("encode activity metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	_, err := db.ExecContext(ctx, "INSERT INTO activity (id, type, user_id, poem_id, metadata, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		a.ID, string(a.Type), a.UserID, a.PoemID, metadata, a.Timestamp)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ActivityFilter narrows the admin activity feed.
type ActivityFilter string

const (
	ActivityAll      ActivityFilter = "all"
	ActivityComments ActivityFilter = "comments"
	ActivityPoems    ActivityFilter = "poems"
	ActivityReports  ActivityFilter = "reports"
)

var activityFilterTypes = map[ActivityFilter][]models.ActivityType{
	ActivityComments: {models.ActivityCommentAdded, models.ActivityCommentReplied, models.ActivityCommentLiked, models.ActivityCommentDeleted},
	ActivityPoems:    {models.ActivityPoemCreated, models.ActivityPoemPublished, models.ActivityPoemLiked},
	ActivityReports:  {models.ActivityCommentReported},
}

// ListActivity returns the newest entries first.
func (ds *DatabaseService) ListActivity(ctx context.Context, limit int, filter ActivityFilter) ([]models.Activity, error) {
	query := "SELECT id, type, user_id, poem_id, metadata, timestamp FROM activity"
	var args []any
	if types, ok := activityFilterTypes[filter]; ok {
		query += " WHERE type IN (?" + repeatPlaceholders(len(types)-1) + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []models.Activity
	for rows.Next() {
		var a models.Activity
		var typ string
		var poemID, metadata sql.NullString
		if err := rows.Scan(&a.ID, &typ, &a.UserID, &poemID, &metadata, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Type = models.ActivityType(typ)
		if poemID.Valid {
			a.PoemID = &poemID.String
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
				ds.logger.Warn("Corrupt activity metadata", "id", a.ID, "error", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountActivity counts entries matching a filter.
func (ds *DatabaseService) CountActivity(ctx context.Context, filter ActivityFilter) (int, error) {
	query := "SELECT COUNT(*) FROM activity"
	var args []any
	if types, ok := activityFilterTypes[filter]; ok {
		query += " WHERE type IN (?" + repeatPlaceholders(len(types)-1) + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	var n int
	if err := ds.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count activity: %w", err)
	}
	return n, nil
}

func repeatPlaceholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		out = append(out, ",?"...)
	}
	return string(out)
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
