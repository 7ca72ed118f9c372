package handlers

import (
	"errors"
	"net/http"

	"bluetry/models"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin verifies credentials and starts a login session.
func HandleLogin(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleLogin")
	if !allowRequest(w, r, app, "login") {
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if req.Email == "" || req.Password == "" {
		respondMessage(w, http.StatusBadRequest, "Email and password are required.", app)
		return
	}

	user, err := app.DB().Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, models.ErrUnauthorized) {
		respondMessage(w, http.StatusUnauthorized, "Invalid email or password.", app)
		return
	}
	if err != nil {
		respondError(w, err, app, logger)
		return
	}

	token, expires, err := app.DB().CreateSession(r.Context(), user.UID, app.Settings().SessionTTL)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     loginCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	logger.Info("User signed in", "uid", user.UID, "admin", user.IsAdmin)
	respondJSON(w, http.StatusOK, user, app)
}

// HandleLogout revokes the current login session, if any.
func HandleLogout(w http.ResponseWriter, r *http.Request, app App) {
	if cookie, err := r.Cookie(loginCookie); err == nil && cookie.Value != "" {
		if err := app.DB().DeleteSession(r.Context(), cookie.Value); err != nil {
			app.Logger().Error("Failed to delete login session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     loginCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true}, app)
}

// HandleMe returns the signed-in user's profile.
func HandleMe(w http.ResponseWriter, r *http.Request, app App) {
	respondJSON(w, http.StatusOK, currentUser(r), app)
}
