// bluetry/database/migrations.go
package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Track single-poem reads
ALTER TABLE poems ADD COLUMN view_count INTEGER DEFAULT 0;
		`,
	},
	{
		Version: 2,
		Query: `
CREATE INDEX IF NOT EXISTS idx_poems_updated ON poems(published, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_activity_type ON activity(type, timestamp DESC);
		`,
	},
	{
		Version: 3,
		Query: `
-- Subscribers expose createdAt; profiles track their last change
ALTER TABLE subscribers RENAME COLUMN subscribed_at TO created_at;
ALTER TABLE users ADD COLUMN updated_at DATETIME;
UPDATE users SET updated_at = created_at WHERE updated_at IS NULL;
		`,
	},
}
