package handlers

import (
	"net/http"

	"bluetry/models"
)

// HandleIssueBotCheck issues a fresh challenge for the caller's session. It
// is also how a locked session starts over.
func HandleIssueBotCheck(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleIssueBotCheck")
	sid := sessionID(r)
	if sid == "" {
		respondError(w, models.ErrUnauthorized, app, logger)
		return
	}
	challenge, err := app.BotChecks().Issue(r.Context(), sid)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusCreated, challenge, app)
}

// HandleVerifyBotCheck validates an answer. Wrong answers come back with 400
// and, when one was generated, the replacement challenge.
func HandleVerifyBotCheck(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleVerifyBotCheck")
	var req struct {
		Answer string `json:"answer"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}

	result, err := app.BotChecks().Validate(r.Context(), sessionID(r), req.Answer)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}

	status := http.StatusOK
	switch result.Outcome {
	case models.BotCheckRetry, models.BotCheckReissued:
		status = http.StatusBadRequest
	case models.BotCheckLocked:
		status = http.StatusTooManyRequests
		logger.Warn("Bot check locked for session")
	case models.BotCheckNoChallenge:
		status = http.StatusConflict
	}
	respondJSON(w, status, result, app)
}
