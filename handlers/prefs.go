package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"bluetry/models"
	"bluetry/utils"
)

const prefsCookie = "bluetry_prefs"

var validThemes = map[string]bool{"light": true, "dark": true, "system": true}

func defaultUIState() models.UIState {
	return models.UIState{CurrentPage: 1, Theme: "system", LikedPoems: []string{}}
}

// readUIState decodes the preference cookie. A missing or damaged cookie
// yields the defaults.
func readUIState(r *http.Request) models.UIState {
	state := defaultUIState()
	cookie, err := r.Cookie(prefsCookie)
	if err != nil || cookie.Value == "" {
		return state
	}
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return defaultUIState()
	}
	return state
}

func writeUIState(w http.ResponseWriter, r *http.Request, state models.UIState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     prefsCookie,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		Expires:  utils.GetTime().Add(365 * 24 * time.Hour),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// HandleGetPrefs returns the caller's UI state. likedPoems comes from the
// store so it survives across devices for signed-in users.
func HandleGetPrefs(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleGetPrefs")
	state := readUIState(r)
	liked, err := app.DB().LikedPoemIDs(r.Context(), likerKey(r).Key())
	if err != nil {
		logger.Warn("Failed to load liked poems", "error", err)
	} else {
		state.LikedPoems = liked
	}
	respondJSON(w, http.StatusOK, state, app)
}

// HandlePutPrefs replaces the caller's UI state.
func HandlePutPrefs(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandlePutPrefs")
	var state models.UIState
	if err := decodeJSON(r, &state); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if state.Theme == "" {
		state.Theme = "system"
	}
	if !validThemes[state.Theme] {
		respondMessage(w, http.StatusBadRequest, "Theme must be light, dark or system.", app)
		return
	}
	if state.CurrentPage < 1 {
		state.CurrentPage = 1
	}
	// Likes live in the store; the cookie never carries them.
	state.LikedPoems = []string{}
	if err := writeUIState(w, r, state); err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, state, app)
}
