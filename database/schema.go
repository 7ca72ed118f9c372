package database

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	uid TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	display_name TEXT NOT NULL,
	is_admin BOOLEAN DEFAULT 0,
	pinned_poems TEXT DEFAULT '[]',
	created_at DATETIME NOT NULL
);
-- Identity provider records; kept apart from the profile documents above.
CREATE TABLE IF NOT EXISTS credentials (
	uid TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	token_hash TEXT PRIMARY KEY,
	uid TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS poems (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	author_id TEXT NOT NULL,
	author_name TEXT NOT NULL,
	published BOOLEAN DEFAULT 0,
	pinned BOOLEAN DEFAULT 0,
	like_count INTEGER DEFAULT 0,
	comment_count INTEGER DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS likes (
	id TEXT PRIMARY KEY,
	poem_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
-- No foreign keys to poems: deleting a poem leaves its comments in place.
CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	poem_id TEXT NOT NULL,
	content TEXT NOT NULL,
	author_id TEXT,
	author_name TEXT NOT NULL,
	author_email TEXT,
	ip_hash TEXT,
	session_id TEXT,
	bot_check_passed BOOLEAN DEFAULT 0,
	parent_id TEXT,
	thread_path TEXT NOT NULL DEFAULT '',
	depth INTEGER NOT NULL DEFAULT 0,
	like_count INTEGER DEFAULT 0,
	reply_count INTEGER DEFAULT 0,
	report_count INTEGER DEFAULT 0,
	is_reported BOOLEAN DEFAULT 0,
	is_deleted BOOLEAN DEFAULT 0,
	deleted_at DATETIME,
	deleted_by TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS comment_likes (
	id TEXT PRIMARY KEY,
	comment_id TEXT NOT NULL,
	liker_key TEXT NOT NULL,
	user_id TEXT,
	session_id TEXT,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS comment_reports (
	id TEXT PRIMARY KEY,
	comment_id TEXT NOT NULL,
	poem_id TEXT NOT NULL,
	reporter_id TEXT,
	reporter_session_id TEXT,
	reason TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS bot_checks (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	challenge_type TEXT NOT NULL,
	question TEXT NOT NULL,
	solution TEXT NOT NULL,
	attempts INTEGER DEFAULT 0,
	failures INTEGER DEFAULT 0,
	passed BOOLEAN DEFAULT 0,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS subscribers (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	subscribed_at DATETIME NOT NULL,
	subscribed BOOLEAN DEFAULT 1
);
CREATE TABLE IF NOT EXISTS activity (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	user_id TEXT NOT NULL,
	poem_id TEXT,
	metadata TEXT,
	timestamp DATETIME NOT NULL
);

-- --- INDEXES ---
CREATE INDEX IF NOT EXISTS idx_poems_published_created ON poems(published, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_poems_pinned ON poems(pinned);
CREATE UNIQUE INDEX IF NOT EXISTS idx_likes_poem_user ON likes(poem_id, user_id);
CREATE INDEX IF NOT EXISTS idx_comments_poem_created ON comments(poem_id, created_at);
CREATE INDEX IF NOT EXISTS idx_comments_parent ON comments(parent_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_comment_likes_liker ON comment_likes(comment_id, liker_key);
CREATE INDEX IF NOT EXISTS idx_comment_reports_status ON comment_reports(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_bot_checks_session ON bot_checks(session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_activity_time ON activity(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`
