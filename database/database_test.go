// bluetry/database/database_test.go
package database

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bluetry/models"
)

// setupTestDB creates a fresh SQLite database in a temp dir.
func setupTestDB(t *testing.T) *DatabaseService {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db") + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"

	ds, err := InitDB(dbPath, logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	ds.SetBackupDir(filepath.Join(dir, "backups"))

	t.Cleanup(func() {
		ds.Close()
	})
	return ds
}

func createTestPoem(t *testing.T, ds *DatabaseService, title string, published bool) *models.Poem {
	t.Helper()
	p := &models.Poem{Title: title, Content: "<p>" + title + "</p>", AuthorID: "admin-uid", AuthorName: "Admin", Published: published}
	if err := ds.CreatePoem(context.Background(), p); err != nil {
		t.Fatalf("CreatePoem failed: %v", err)
	}
	return p
}

// passBotCheck marks a session as having solved a challenge.
func passBotCheck(t *testing.T, ds *DatabaseService, sessionID string) {
	t.Helper()
	now := time.Now().UTC()
	bc := &models.BotCheck{
		ID: "bc-" + sessionID, SessionID: sessionID, ChallengeType: models.ChallengeSimpleMath,
		Question: "1 + 1 = ?", Solution: "2", Passed: true, CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute),
	}
	if err := ds.CreateBotCheck(context.Background(), bc); err != nil {
		t.Fatalf("CreateBotCheck failed: %v", err)
	}
}

// TestMigrations verifies that schema migrations run and are recorded.
func TestMigrations(t *testing.T) {
	ds := setupTestDB(t)

	rows, err := ds.DB.Query("SELECT view_count FROM poems LIMIT 1")
	if err != nil {
		t.Fatalf("Migration test failed. Could not query view_count: %v", err)
	}
	rows.Close()

	for _, q := range []string{"SELECT created_at FROM subscribers LIMIT 1", "SELECT updated_at FROM users LIMIT 1"} {
		rows, err := ds.DB.Query(q)
		if err != nil {
			t.Fatalf("Expected migrated column (%s): %v", q, err)
		}
		rows.Close()
	}

	var version int
	if err := ds.DB.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		t.Fatalf("Failed to read schema version: %v", err)
	}
	if version != len(allMigrations) {
		t.Errorf("Expected schema version %d, got %d", len(allMigrations), version)
	}

	// Re-running migrations on an up-to-date database is a no-op.
	if err := runMigrations(ds.DB, ds.logger); err != nil {
		t.Errorf("Re-running migrations failed: %v", err)
	}
}

func TestBackupDatabase(t *testing.T) {
	ds := setupTestDB(t)
	createTestPoem(t, ds, "Backed up", true)

	path, err := ds.BackupDatabase(context.Background())
	if err != nil {
		t.Fatalf("BackupDatabase failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Backup file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("Backup file is empty")
	}

	ds.SetBackupDir("")
	if _, err := ds.BackupDatabase(context.Background()); err == nil {
		t.Error("Expected an error without a backup directory")
	}
}

func TestActivityLog(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()

	poemID := "poem-1"
	entries := []models.Activity{
		{Type: models.ActivityPoemLiked, UserID: "u1", PoemID: &poemID},
		{Type: models.ActivityCommentReported, UserID: "anonymous", Metadata: map[string]string{"reason": "spam"}},
		{Type: models.ActivitySubscriberJoined, UserID: "system", Metadata: map[string]string{"email": "a@b.co"}},
	}
	for i := range entries {
		entries[i].Timestamp = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := ds.InsertActivity(ctx, &entries[i]); err != nil {
			t.Fatalf("InsertActivity failed: %v", err)
		}
	}
	if err := ds.InsertActivity(ctx, &models.Activity{Type: "poem_viewed", UserID: "u1"}); err == nil {
		t.Error("Expected unknown activity type to be rejected")
	}

	all, err := ds.ListActivity(ctx, 50, ActivityAll)
	if err != nil {
		t.Fatalf("ListActivity failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(all))
	}
	if all[0].Type != models.ActivitySubscriberJoined {
		t.Errorf("Expected newest entry first, got %s", all[0].Type)
	}
	if all[0].Metadata["email"] != "a@b.co" {
		t.Errorf("Metadata was not round-tripped: %v", all[0].Metadata)
	}
	if all[2].PoemID == nil || *all[2].PoemID != poemID {
		t.Errorf("Expected poem id on the like entry, got %v", all[2].PoemID)
	}

	limited, _ := ds.ListActivity(ctx, 2, ActivityAll)
	if len(limited) != 2 {
		t.Errorf("Expected limit to apply, got %d", len(limited))
	}

	reports, _ := ds.ListActivity(ctx, 50, ActivityReports)
	if len(reports) != 1 || reports[0].Type != models.ActivityCommentReported {
		t.Errorf("Expected only the report entry, got %+v", reports)
	}
	n, err := ds.CountActivity(ctx, ActivityPoems)
	if err != nil || n != 1 {
		t.Errorf("Expected 1 poem activity, got %d (%v)", n, err)
	}
}
