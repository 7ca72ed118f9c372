// bluetry/config/config.go
package config

const (
	AppVersion = "0.9.0"
	AppName    = "bluetry"

	// Poems
	PoemsPerPage   = 5
	MaxTitleLen    = 200
	MaxPoemLen     = 100000
	MaxSearchLimit = 50

	// Comments & Reports
	MaxCommentLen     = 2000
	MaxAuthorNameLen  = 75
	MaxReportLen      = 1000
	AnonymousUserID   = "anonymous"
	SystemUserID      = "system"
	DefaultAuthorName = "Anonymous"

	// Bot-Check
	BotCheckTTLMinutes      = 10
	BotCheckReissueAttempts = 2
	BotCheckMaxFailures     = 3
	BotCheckMinOperand      = 1
	BotCheckMaxOperand      = 10

	// Activity
	DefaultActivityLimit = 50
	MaxActivityLimit     = 500
	ActivityQueueSize    = 256

	// Mail
	MailConcurrency = 8

	// File Upload Limits
	MaxFileSize     = 10 * 1024 * 1024 // 10MB
	MaxWidth        = 6000
	MaxHeight       = 6000
	ThumbnailWidth  = 400
	ThumbnailHeight = 400

	// Rate Limiting Defaults
	DefaultRateLimitEvery  = "20s"
	DefaultRateLimitBurst  = 3
	DefaultRateLimitPrune  = "1h"
	DefaultRateLimitExpire = "24h"

	DefaultSessionTTL = "720h"
)
