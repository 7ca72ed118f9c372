package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"bluetry/activity"
	"bluetry/config"
	"bluetry/database"
	"bluetry/mailer"
	"bluetry/models"
	"bluetry/realtime"
	"bluetry/search"
	"bluetry/utils"
)

// MockApplication holds dependencies for handler tests.
type MockApplication struct {
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

	admin *models.User
	user  *models.User
}

func (a *MockApplication) DB() *database.DatabaseService    { return a.db }
func (a *MockApplication) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *MockApplication) BotChecks() *models.BotCheckGate  { return a.botChecks }
func (a *MockApplication) Activity() *activity.Recorder     { return a.recorder }
func (a *MockApplication) Hub() *realtime.Hub               { return a.hub }
func (a *MockApplication) Search() *search.Index            { return a.index }
func (a *MockApplication) Mailer() mailer.Sender            { return a.mail }
func (a *MockApplication) Storage() models.StorageService   { return a.storage }
func (a *MockApplication) Settings() *config.Settings       { return a.settings }
func (a *MockApplication) Logger() *slog.Logger             { return a.logger }

// fakeMailer records every message instead of talking SMTP.
type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	fail map[string]bool
}

func (m *fakeMailer) Send(_ context.Context, to, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[to] {
		return errors.New("recipient rejected")
	}
	m.sent = append(m.sent, to)
	return nil
}

// setupTestApp creates a full application stack with a test database.
func setupTestApp(t *testing.T) *MockApplication {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	dir := t.TempDir()

	dbService, err := database.InitDB(filepath.Join(dir, "test.db")+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	dbService.SetBackupDir(filepath.Join(dir, "backups"))

	index, err := search.OpenMem()
	if err != nil {
		t.Fatalf("Failed to open search index: %v", err)
	}

	settings := &config.Settings{
		UploadDir:  dir,
		BackupDir:  filepath.Join(dir, "backups"),
		AppURL:     "http://localhost:3000",
		SessionTTL: time.Hour,

		UnsubscribeSecret: "test-unsubscribe-secret",
	}

	rateLimiter := models.NewRateLimiter(time.Millisecond, 100, time.Hour, 24*time.Hour)
	app := &MockApplication{
		db:          dbService,
		rateLimiter: rateLimiter,
		botChecks: models.NewBotCheckGate(dbService, config.BotCheckTTLMinutes*time.Minute,
			config.BotCheckReissueAttempts, config.BotCheckMaxFailures, config.BotCheckMinOperand, config.BotCheckMaxOperand),
		recorder: activity.NewRecorder(dbService, logger, config.ActivityQueueSize),
		hub:      realtime.NewHub(),
		index:    index,
		mail:     &fakeMailer{},
		storage:  &utils.LocalStorage{UploadDir: dir},
		settings: settings,
		logger:   logger,
	}

	ctx := context.Background()
	app.admin, err = dbService.ProvisionUser(ctx, "admin@example.com", "correct horse", "Poet", true)
	if err != nil {
		t.Fatalf("Failed to provision admin: %v", err)
	}
	app.user, err = dbService.ProvisionUser(ctx, "reader@example.com", "battery staple", "", false)
	if err != nil {
		t.Fatalf("Failed to provision user: %v", err)
	}

	utils.IPSalt = "test-salt"
	t.Cleanup(func() {
		app.recorder.Close()
		rateLimiter.Stop()
		index.Close()
		dbService.Close()
		utils.IPSalt = ""
	})
	return app
}

// sessionCookie signs u in and returns the login cookie.
func sessionCookie(t *testing.T, app *MockApplication, u *models.User) *http.Cookie {
	t.Helper()
	token, _, err := app.db.CreateSession(context.Background(), u.UID, time.Hour)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return &http.Cookie{Name: loginCookie, Value: token}
}

func visitorCookie(sid string) *http.Cookie {
	return &http.Cookie{Name: sessionIDCookie, Value: sid}
}

// doRequest sends a JSON request through the full router.
func doRequest(t *testing.T, app *MockApplication, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	SetupRouter(app).ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func createPoem(t *testing.T, app *MockApplication, title string, published bool) *models.Poem {
	t.Helper()
	p := &models.Poem{Title: title, Content: "<p>" + title + " verse</p>", AuthorID: app.admin.UID, AuthorName: app.admin.DisplayName, Published: published}
	if err := app.db.CreatePoem(context.Background(), p); err != nil {
		t.Fatalf("CreatePoem failed: %v", err)
	}
	if err := app.index.Sync(p); err != nil {
		t.Fatalf("Index sync failed: %v", err)
	}
	return p
}

// solveBotCheck issues and answers a challenge for sid through the API.
func solveBotCheck(t *testing.T, app *MockApplication, sid string) {
	t.Helper()
	rr := doRequest(t, app, "POST", "/api/botcheck", nil, visitorCookie(sid))
	if rr.Code != http.StatusCreated {
		t.Fatalf("Issue bot check: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var ch models.Challenge
	decodeBody(t, rr, &ch)

	rr = doRequest(t, app, "POST", "/api/botcheck/verify", map[string]string{"answer": answerFor(ch.Question)}, visitorCookie(sid))
	if rr.Code != http.StatusOK {
		t.Fatalf("Verify bot check: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

// answerFor solves an "a + b = ?" question.
func answerFor(question string) string {
	parts := strings.Fields(question)
	a, _ := strconv.Atoi(parts[0])
	b, _ := strconv.Atoi(parts[2])
	return strconv.Itoa(a + b)
}
