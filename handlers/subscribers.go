package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"bluetry/config"
	"bluetry/database"
	"bluetry/mailer"
	"bluetry/models"
	"bluetry/utils"

	"github.com/go-chi/chi/v5"
)

// HandleSubscribe adds an email to the mailing list.
func HandleSubscribe(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleSubscribe")
	if !allowRequest(w, r, app, "subscribe") {
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}

	sub, err := app.DB().AddSubscriber(r.Context(), req.Email)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	app.Activity().Record(models.ActivitySubscriberJoined, config.SystemUserID, "", map[string]string{"email": sub.Email})
	logger.Info("New subscriber", "subscriber_id", sub.ID)
	respondJSON(w, http.StatusCreated, sub, app)
}

func HandleListSubscribers(w http.ResponseWriter, r *http.Request, app App) {
	subs, err := app.DB().ListSubscribers(r.Context())
	if err != nil {
		respondError(w, err, app, app.Logger().With("handler", "HandleListSubscribers"))
		return
	}
	respondJSON(w, http.StatusOK, subs, app)
}

func HandleUpdateSubscriber(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUpdateSubscriber")
	var req struct {
		Email      *string `json:"email"`
		Subscribed *bool   `json:"subscribed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	sub, err := app.DB().UpdateSubscriber(r.Context(), chi.URLParam(r, "subscriberID"), database.SubscriberUpdate{
		Email:      req.Email,
		Subscribed: req.Subscribed,
	})
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, sub, app)
}

func HandleDeleteSubscriber(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteSubscriber")
	id := chi.URLParam(r, "subscriberID")
	if err := app.DB().DeleteSubscriber(r.Context(), id); err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Subscriber removed", "subscriber_id", id)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true}, app)
}

var unsubscribePage = template.Must(template.New("unsubscribe").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>bluetry</title></head>
<body style="font-family: Georgia, serif; text-align: center; padding: 3em;">
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
</body></html>`))

func mailLinks(app App) mailer.Links {
	return mailer.Links{AppURL: app.Settings().AppURL, Secret: app.Settings().UnsubscribeSecret}
}

// HandleUnsubscribe is the target of the signed link in every broadcast.
func HandleUnsubscribe(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUnsubscribe")
	data := map[string]string{
		"Title":   "You have been unsubscribed",
		"Message": "You will no longer receive updates from bluetry.",
	}
	status := http.StatusOK

	email, ok := utils.NormalizeEmail(r.URL.Query().Get("email"))
	var err error
	switch {
	case !ok:
		err = models.ErrInvalidInput
	case !utils.VerifyEmailSignature(app.Settings().UnsubscribeSecret, email, r.URL.Query().Get("token")):
		err = models.ErrForbidden
	default:
		err = app.DB().Unsubscribe(r.Context(), email)
	}
	switch {
	case err == nil:
	case errors.Is(err, models.ErrForbidden):
		status = http.StatusForbidden
		data["Title"], data["Message"] = "Invalid link", "This unsubscribe link is not valid. Use the link from your latest email."
	case errors.Is(err, models.ErrInvalidInput):
		status = http.StatusBadRequest
		data["Title"], data["Message"] = "Invalid link", "The unsubscribe link is missing a valid email address."
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
		data["Title"], data["Message"] = "Not subscribed", "That address is not on the mailing list."
	default:
		logger.Error("Failed to unsubscribe", "error", err)
		status = http.StatusInternalServerError
		data["Title"], data["Message"] = "Something went wrong", "Please try again later."
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := unsubscribePage.Execute(w, data); err != nil {
		logger.Error("Failed to render unsubscribe page", "error", err)
	}
}

type sendEmailRequest struct {
	Subject     string `json:"subject"`
	Message     string `json:"message"`
	Subscribers []struct {
		Email string `json:"email"`
	} `json:"subscribers"`
}

// HandleSendEmail mails an update to an explicit recipient list.
func HandleSendEmail(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleSendEmail")
	var req sendEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Message) == "" {
		respondMessage(w, http.StatusBadRequest, "Subject and message are required", app)
		return
	}
	if len(req.Subscribers) == 0 {
		respondMessage(w, http.StatusBadRequest, "No subscribers provided", app)
		return
	}
	if app.Mailer() == nil {
		respondError(w, mailer.ErrNotConfigured, app, logger)
		return
	}

	seen := make(map[string]bool, len(req.Subscribers))
	recipients := make([]string, 0, len(req.Subscribers))
	invalid := 0
	for _, s := range req.Subscribers {
		email, ok := utils.NormalizeEmail(s.Email)
		if !ok {
			invalid++
			continue
		}
		if !seen[email] {
			seen[email] = true
			recipients = append(recipients, email)
		}
	}

	res := mailer.FanOut(r.Context(), app.Mailer(), recipients, req.Subject, req.Message, mailLinks(app), config.MailConcurrency)
	res.Failed += invalid
	logger.Info("Email sent", "sent", res.Sent, "failed", res.Failed)
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sent": res.Sent, "failed": res.Failed}, app)
}

// HandleBroadcast mails an update to every active subscriber.
func HandleBroadcast(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleBroadcast")
	var req struct {
		Subject string `json:"subject"`
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Message) == "" {
		respondMessage(w, http.StatusBadRequest, "Subject and message are required", app)
		return
	}
	if app.Mailer() == nil {
		respondError(w, mailer.ErrNotConfigured, app, logger)
		return
	}

	recipients, err := app.DB().ActiveSubscriberEmails(r.Context())
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if len(recipients) == 0 {
		respondMessage(w, http.StatusBadRequest, "No active subscribers", app)
		return
	}

	res := mailer.FanOut(r.Context(), app.Mailer(), recipients, req.Subject, req.Message, mailLinks(app), config.MailConcurrency)
	logger.Info("Broadcast sent", "sent", res.Sent, "failed", res.Failed)
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sent": res.Sent, "failed": res.Failed}, app)
}
