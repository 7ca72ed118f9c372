// bluetry/config/settings.go
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strconv"
	"time"

	"bluetry/utils"

	"github.com/joho/godotenv"
)

// Settings is the runtime configuration read from the environment.
type Settings struct {
	Port        string
	DBPath      string
	IndexPath   string
	BackupDir   string
	UploadDir   string
	AppURL      string
	AllowedOrig string
	LogLevel    slog.Level

	// UnsubscribeSecret keys the signature on unsubscribe links. Links stay
	// valid only as long as the secret does.
	UnsubscribeSecret string

	RateEvery  time.Duration
	RateBurst  int
	RatePrune  time.Duration
	RateExpire time.Duration
	SessionTTL time.Duration

	MailUser     string
	MailPassword string
	SMTPHost     string
	SMTPPort     int

	S3Enabled   bool
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3PublicURL string
	S3UseSSL    bool
}

// LoadDotEnv loads a .env file if present. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load builds Settings from the environment. Malformed values fall back to
// their defaults with a warning.
func Load(logger *slog.Logger) *Settings {
	s := &Settings{
		Port:        utils.GetEnv("BLUETRY_PORT", "8080"),
		DBPath:      utils.GetEnv("BLUETRY_DB_PATH", "./bluetry.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"),
		IndexPath:   utils.GetEnv("BLUETRY_INDEX_PATH", "./bluetry.bleve"),
		BackupDir:   utils.GetEnv("BLUETRY_BACKUP_DIR", "./backups"),
		UploadDir:   utils.GetEnv("BLUETRY_UPLOAD_DIR", "./uploads"),
		AllowedOrig: utils.GetEnv("BLUETRY_ALLOWED_ORIGIN", ""),

		MailUser:     utils.GetEnv("GMAIL_USER", ""),
		MailPassword: utils.GetEnv("GMAIL_APP_PASSWORD", ""),
		SMTPHost:     utils.GetEnv("BLUETRY_SMTP_HOST", "smtp.gmail.com"),

		S3Enabled:   utils.GetEnvBool("BLUETRY_S3_ENABLED", false),
		S3Endpoint:  utils.GetEnv("BLUETRY_S3_ENDPOINT", ""),
		S3AccessKey: utils.GetEnv("BLUETRY_S3_ACCESS_KEY", ""),
		S3SecretKey: utils.GetEnv("BLUETRY_S3_SECRET_KEY", ""),
		S3Bucket:    utils.GetEnv("BLUETRY_S3_BUCKET", ""),
		S3Region:    utils.GetEnv("BLUETRY_S3_REGION", "us-east-1"),
		S3PublicURL: utils.GetEnv("BLUETRY_S3_PUBLIC_URL", ""),
		S3UseSSL:    utils.GetEnvBool("BLUETRY_S3_USE_SSL", true),

		UnsubscribeSecret: utils.GetEnv("BLUETRY_UNSUBSCRIBE_SECRET", ""),
	}

	// The public URL keeps the name the frontend deployment already uses.
	s.AppURL = utils.GetEnv("BLUETRY_APP_URL", utils.GetEnv("NEXT_PUBLIC_APP_URL", "http://localhost:3000"))

	s.RateEvery = durationSetting(logger, "BLUETRY_RATE_EVERY", DefaultRateLimitEvery)
	s.RatePrune = durationSetting(logger, "BLUETRY_RATE_PRUNE", DefaultRateLimitPrune)
	s.RateExpire = durationSetting(logger, "BLUETRY_RATE_EXPIRE", DefaultRateLimitExpire)
	s.SessionTTL = durationSetting(logger, "BLUETRY_SESSION_TTL", DefaultSessionTTL)
	s.RateBurst = intSetting(logger, "BLUETRY_RATE_BURST", DefaultRateLimitBurst)
	s.SMTPPort = intSetting(logger, "BLUETRY_SMTP_PORT", 587)

	if err := s.LogLevel.UnmarshalText([]byte(utils.GetEnv("BLUETRY_LOG_LEVEL", "info"))); err != nil {
		logger.Warn("Invalid BLUETRY_LOG_LEVEL, using info", "error", err)
		s.LogLevel = slog.LevelInfo
	}
	return s
}

// MailConfigured reports whether SMTP credentials were provided.
func (s *Settings) MailConfigured() bool {
	return s.MailUser != "" && s.MailPassword != ""
}

func durationSetting(logger *slog.Logger, key, fallback string) time.Duration {
	raw := utils.GetEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("Invalid duration, using default", "key", key, "value", raw, "default", fallback)
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func intSetting(logger *slog.Logger, key string, fallback int) int {
	raw := utils.GetEnv(key, strconv.Itoa(fallback))
	n, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("Invalid integer, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return n
}
