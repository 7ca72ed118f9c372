// bluetry/main.go
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bluetry/activity"
	"bluetry/config"
	"bluetry/database"
	"bluetry/handlers"
	"bluetry/mailer"
	"bluetry/models"
	"bluetry/realtime"
	"bluetry/search"
	"bluetry/utils"

	"github.com/mattn/go-isatty"
)

type Application struct {
	db          *database.DatabaseService
	rateLimiter *models.RateLimiter
	botChecks   *models.BotCheckGate
	recorder    *activity.Recorder
	hub         *realtime.Hub
	index       *search.Index
	mail        mailer.Sender
	storage     models.StorageService
	settings    *config.Settings
	logger      *slog.Logger
}

// Methods to satisfy the handlers.App interface
func (a *Application) DB() *database.DatabaseService    { return a.db }
func (a *Application) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *Application) BotChecks() *models.BotCheckGate  { return a.botChecks }
func (a *Application) Activity() *activity.Recorder     { return a.recorder }
func (a *Application) Hub() *realtime.Hub               { return a.hub }
func (a *Application) Search() *search.Index            { return a.index }
func (a *Application) Mailer() mailer.Sender            { return a.mail }
func (a *Application) Storage() models.StorageService   { return a.storage }
func (a *Application) Settings() *config.Settings       { return a.settings }
func (a *Application) Logger() *slog.Logger             { return a.logger }

func newLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := config.LoadDotEnv(".env"); err != nil {
		bootstrap.Error("Failed to load .env", "error", err)
		os.Exit(1)
	}
	settings := config.Load(bootstrap)
	logger := newLogger(settings.LogLevel)
	slog.SetDefault(logger)

	saltBytes := make([]byte, 32)
	if _, err := rand.Read(saltBytes); err != nil {
		logger.Error("Failed to generate IP salt", "error", err)
		os.Exit(1)
	}
	utils.IPSalt = hex.EncodeToString(saltBytes)
	if settings.UnsubscribeSecret == "" {
		secret, err := utils.NewToken()
		if err != nil {
			logger.Error("Failed to generate unsubscribe secret", "error", err)
			os.Exit(1)
		}
		settings.UnsubscribeSecret = secret
		if settings.MailConfigured() {
			logger.Warn("BLUETRY_UNSUBSCRIBE_SECRET not set, unsubscribe links expire on restart")
		}
	}

	dbService, err := database.InitDB(settings.DBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbService.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()
	dbService.SetBackupDir(settings.BackupDir)

	if len(os.Args) > 1 && os.Args[1] == "useradd" {
		if err := runUserAdd(dbService, os.Args[2:]); err != nil {
			logger.Error("useradd failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(settings, dbService, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// runUserAdd provisions an admin or reader account from the command line.
func runUserAdd(db *database.DatabaseService, args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	email := fs.String("email", "", "login email")
	password := fs.String("password", "", "login password")
	name := fs.String("name", "", "display name")
	admin := fs.Bool("admin", false, "grant admin rights")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("-email and -password are required")
	}
	u, err := db.ProvisionUser(context.Background(), *email, *password, *name, *admin)
	if err != nil {
		return err
	}
	fmt.Printf("created user %s (%s) admin=%v\n", u.Email, u.UID, u.IsAdmin)
	return nil
}

func run(settings *config.Settings, dbService *database.DatabaseService, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(settings.UploadDir, 0755); err != nil {
		return fmt.Errorf("create uploads directory %s: %w", settings.UploadDir, err)
	}

	// --- Search Index Init ---
	index, err := search.Open(settings.IndexPath)
	if err != nil {
		return fmt.Errorf("open search index: %w", err)
	}
	defer func() {
		if err := index.Close(); err != nil {
			logger.Error("Failed to close search index", "error", err)
		}
	}()
	published, err := dbService.ListAllPublishedPoems(ctx)
	if err != nil {
		return fmt.Errorf("load poems for indexing: %w", err)
	}
	if err := index.Rebuild(published); err != nil {
		return fmt.Errorf("rebuild search index: %w", err)
	}
	logger.Info("Search index ready", "path", settings.IndexPath, "poems", len(published))

	// --- Storage Service Init ---
	var storageService models.StorageService
	var s3PublicURL string
	if settings.S3Enabled {
		s3Store, err := utils.NewS3Storage(ctx, settings.S3Endpoint, settings.S3AccessKey, settings.S3SecretKey,
			settings.S3Bucket, settings.S3Region, settings.S3PublicURL, settings.S3UseSSL)
		if err != nil {
			return fmt.Errorf("initialize S3 storage: %w", err)
		}
		storageService, s3PublicURL = s3Store, s3Store.PublicURL
		logger.Info("S3 Storage initialized", "endpoint", settings.S3Endpoint, "bucket", settings.S3Bucket)
	} else {
		storageService = &utils.LocalStorage{UploadDir: settings.UploadDir}
		logger.Info("Local Storage initialized", "dir", settings.UploadDir)
	}

	// --- Mail Init ---
	var sender mailer.Sender
	if settings.MailConfigured() {
		smtpMailer, err := mailer.NewSMTPMailer(settings.SMTPHost, settings.SMTPPort, settings.MailUser, settings.MailPassword)
		if err != nil {
			return fmt.Errorf("initialize mailer: %w", err)
		}
		sender = smtpMailer
		logger.Info("SMTP mailer initialized", "host", settings.SMTPHost, "port", settings.SMTPPort)
	} else {
		logger.Warn("GMAIL_USER or GMAIL_APP_PASSWORD not set, email disabled")
	}

	recorder := activity.NewRecorder(dbService, logger, config.ActivityQueueSize)
	defer recorder.Close()
	rateLimiter := models.NewRateLimiter(settings.RateEvery, settings.RateBurst, settings.RatePrune, settings.RateExpire)
	defer rateLimiter.Stop()

	app := &Application{
		db:          dbService,
		rateLimiter: rateLimiter,
		botChecks: models.NewBotCheckGate(dbService, config.BotCheckTTLMinutes*time.Minute,
			config.BotCheckReissueAttempts, config.BotCheckMaxFailures, config.BotCheckMinOperand, config.BotCheckMaxOperand),
		recorder: recorder,
		hub:      realtime.NewHub(),
		index:    index,
		mail:     sender,
		storage:  storageService,
		settings: settings,
		logger:   logger,
	}

	mux := handlers.SetupRouter(app)
	finalHandler := handlers.CSRFMiddleware(handlers.NewSecurityHeadersMiddleware(s3PublicURL)(mux))

	go purgeSessions(ctx, dbService, logger)

	// --- Graceful Shutdown ---
	server := &http.Server{Addr: ":" + settings.Port, Handler: finalHandler}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	logger.Info("bluetry server started successfully",
		"version", config.AppVersion,
		"address", "http://localhost:"+settings.Port,
		"email", sender != nil,
	)

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exiting")
	return nil
}

// purgeSessions drops expired login sessions once an hour.
func purgeSessions(ctx context.Context, db *database.DatabaseService, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PurgeExpiredSessions(ctx)
			if err != nil {
				logger.Error("Failed to purge sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("Purged expired sessions", "count", n)
			}
		}
	}
}
