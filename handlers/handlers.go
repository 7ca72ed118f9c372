// bluetry/handlers/handlers.go

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"bluetry/activity"
	"bluetry/config"
	"bluetry/database"
	"bluetry/mailer"
	"bluetry/models"
	"bluetry/realtime"
	"bluetry/search"
)

// App is an interface that defines the dependencies our handlers need.
type App interface {
	DB() *database.DatabaseService
	RateLimiter() *models.RateLimiter
	BotChecks() *models.BotCheckGate
	Activity() *activity.Recorder
	Hub() *realtime.Hub
	Search() *search.Index
	// Mailer is nil when no mail credentials are configured.
	Mailer() mailer.Sender
	Storage() models.StorageService
	Settings() *config.Settings
	Logger() *slog.Logger
}

// respondJSON sends a JSON response with a given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

func respondMessage(w http.ResponseWriter, status int, msg string, app App) {
	respondJSON(w, status, map[string]string{"error": msg}, app)
}

// respondError maps a domain error onto a status code. Unknown errors are
// logged and hidden behind a generic message.
func respondError(w http.ResponseWriter, err error, app App, logger *slog.Logger) {
	var inputErr *models.InputError
	switch {
	case errors.As(err, &inputErr):
		respondMessage(w, http.StatusBadRequest, inputErr.Msg, app)
	case errors.Is(err, models.ErrInvalidInput):
		respondMessage(w, http.StatusBadRequest, "Invalid input.", app)
	case errors.Is(err, models.ErrUnauthorized):
		respondMessage(w, http.StatusUnauthorized, "Authentication required.", app)
	case errors.Is(err, models.ErrBotCheckRequired):
		respondMessage(w, http.StatusForbidden, "Please complete the bot check first.", app)
	case errors.Is(err, models.ErrForbidden):
		respondMessage(w, http.StatusForbidden, "You do not have permission to do that.", app)
	case errors.Is(err, models.ErrNotFound):
		respondMessage(w, http.StatusNotFound, "Not found.", app)
	case errors.Is(err, models.ErrAlreadySubscribed):
		respondMessage(w, http.StatusConflict, "Email already subscribed", app)
	case errors.Is(err, models.ErrRateLimited):
		respondMessage(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait a moment.", app)
	case errors.Is(err, mailer.ErrNotConfigured):
		respondMessage(w, http.StatusInternalServerError, "Email service not configured", app)
	default:
		logger.Error("Request failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Internal server error.", app)
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return models.InvalidInput("Malformed request body.")
	}
	return nil
}

// MakeHandler adapts an App-aware handler to http.HandlerFunc.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}

// HandleStatus reports database health and the running version.
func HandleStatus(w http.ResponseWriter, r *http.Request, app App) {
	status := map[string]interface{}{
		"app":     config.AppName,
		"version": config.AppVersion,
		"time":    time.Now().UTC(),
	}
	code := http.StatusOK
	if err := app.DB().Ping(r.Context()); err != nil {
		app.Logger().Error("Database ping failed", "error", err)
		status["database"] = "unavailable"
		code = http.StatusServiceUnavailable
	} else {
		status["database"] = "ok"
	}
	if n, err := app.Search().Count(); err == nil {
		status["indexedPoems"] = n
	}
	respondJSON(w, code, status, app)
}
