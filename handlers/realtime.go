package handlers

import (
	"context"
	"net/http"
	"time"

	"bluetry/realtime"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	keepAlivePingInterval = 10 * time.Second
	pongWait              = 3 * keepAlivePingInterval
	writeWait             = 5 * time.Second
)

func newUpgrader(allowedOrigin string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
}

// HandlePoemsSocket streams the published poem list on every change.
func HandlePoemsSocket(w http.ResponseWriter, r *http.Request, app App) {
	serveTopic(w, r, app, realtime.PoemsTopic, func(ctx context.Context) (interface{}, error) {
		return app.DB().ListAllPublishedPoems(ctx)
	})
}

// HandleCommentsSocket streams one poem's comments on every change.
func HandleCommentsSocket(w http.ResponseWriter, r *http.Request, app App) {
	poemID := chi.URLParam(r, "poemID")
	if rejectHiddenDraft(w, r, app, poemID, app.Logger().With("handler", "HandleCommentsSocket")) {
		return
	}
	serveTopic(w, r, app, realtime.CommentsTopic(poemID), func(ctx context.Context) (interface{}, error) {
		comments, err := app.DB().ListComments(ctx, poemID)
		if err != nil {
			return nil, err
		}
		presentComments(r, comments)
		return comments, nil
	})
}

// serveTopic subscribes before taking the first snapshot so no change in
// between is missed, then pushes a fresh snapshot per signal until the
// client goes away.
func serveTopic(w http.ResponseWriter, r *http.Request, app App, topic string, snapshot func(context.Context) (interface{}, error)) {
	logger := app.Logger().With("handler", "serveTopic", "topic", topic)
	conn, err := newUpgrader(app.Settings().AllowedOrig).Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	changes, unsubscribe := app.Hub().Subscribe(topic)
	defer unsubscribe()

	// The read loop only services control frames and notices disconnects.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := func() bool {
		data, err := snapshot(r.Context())
		if err != nil {
			logger.Error("Failed to load snapshot", "error", err)
			return false
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(data); err != nil {
			logger.Debug("WebSocket write failed", "error", err)
			return false
		}
		return true
	}

	if !push() {
		return
	}
	ticker := time.NewTicker(keepAlivePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-changes:
			if !push() {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
