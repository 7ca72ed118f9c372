package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"bluetry/config"
	"bluetry/database"
	"bluetry/models"
	"bluetry/realtime"

	"github.com/go-chi/chi/v5"
)

// HandleListPoems serves the paginated published feed.
func HandleListPoems(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListPoems")
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	result, err := app.DB().ListPublishedPoems(r.Context(), page, config.PoemsPerPage)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, result, app)
}

func HandlePinnedPoems(w http.ResponseWriter, r *http.Request, app App) {
	poems, err := app.DB().ListPinnedPoems(r.Context())
	if err != nil {
		respondError(w, err, app, app.Logger().With("handler", "HandlePinnedPoems"))
		return
	}
	respondJSON(w, http.StatusOK, poems, app)
}

// HandleGetPoem returns one poem. Drafts are only visible to admins.
func HandleGetPoem(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleGetPoem")
	poem, err := app.DB().GetPoem(r.Context(), chi.URLParam(r, "poemID"))
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if !canSeePoem(r, poem) {
		respondError(w, models.ErrNotFound, app, logger)
		return
	}
	if poem.Published {
		if err := app.DB().IncrementPoemViews(r.Context(), poem.ID); err != nil {
			logger.Warn("Failed to count poem view", "poem_id", poem.ID, "error", err)
		} else {
			poem.ViewCount++
		}
	}
	respondJSON(w, http.StatusOK, poem, app)
}

func canSeePoem(r *http.Request, poem *models.Poem) bool {
	if poem.Published {
		return true
	}
	user := currentUser(r)
	return user != nil && user.IsAdmin
}

// hiddenDraft reports whether poemID names a draft the caller may not see.
// A missing poem is not hidden; callers decide what that means.
func hiddenDraft(r *http.Request, app App, poemID string) (bool, error) {
	poem, err := app.DB().GetPoem(r.Context(), poemID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !canSeePoem(r, poem), nil
}

// rejectHiddenDraft answers 404 when poemID is a draft the caller may not
// see. It reports whether the request was handled.
func rejectHiddenDraft(w http.ResponseWriter, r *http.Request, app App, poemID string, logger *slog.Logger) bool {
	hidden, err := hiddenDraft(r, app, poemID)
	if err != nil {
		respondError(w, err, app, logger)
		return true
	}
	if hidden {
		respondError(w, models.ErrNotFound, app, logger)
		return true
	}
	return false
}

// likerKey identifies the caller for one-like-per-person bookkeeping.
func likerKey(r *http.Request) database.CommentLiker {
	liker := database.CommentLiker{SessionID: sessionID(r)}
	if user := currentUser(r); user != nil {
		liker.UserID = user.UID
	}
	return liker
}

func actorID(r *http.Request) string {
	if user := currentUser(r); user != nil {
		return user.UID
	}
	return config.AnonymousUserID
}

func HandlePoemLikeStatus(w http.ResponseWriter, r *http.Request, app App) {
	liker := likerKey(r)
	liked, err := app.DB().IsPoemLiked(r.Context(), chi.URLParam(r, "poemID"), liker.Key())
	if err != nil {
		respondError(w, err, app, app.Logger().With("handler", "HandlePoemLikeStatus"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"liked": liked}, app)
}

// HandleLikePoem records one like per user or session.
func HandleLikePoem(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleLikePoem")
	poemID := chi.URLParam(r, "poemID")
	liker := likerKey(r)
	if liker.UserID == "" && liker.SessionID == "" {
		respondError(w, models.ErrUnauthorized, app, logger)
		return
	}
	if rejectHiddenDraft(w, r, app, poemID, logger) {
		return
	}

	added, err := app.DB().LikePoem(r.Context(), poemID, liker.Key())
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	poem, err := app.DB().GetPoem(r.Context(), poemID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if added {
		app.Activity().Record(models.ActivityPoemLiked, actorID(r), poemID, map[string]string{"title": poem.Title})
		app.Hub().Publish(realtime.PoemsTopic)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"liked": true, "likeCount": poem.LikeCount}, app)
}

func HandleUnlikePoem(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUnlikePoem")
	poemID := chi.URLParam(r, "poemID")

	removed, err := app.DB().UnlikePoem(r.Context(), poemID, likerKey(r).Key())
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	poem, err := app.DB().GetPoem(r.Context(), poemID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if removed {
		app.Hub().Publish(realtime.PoemsTopic)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"liked": false, "likeCount": poem.LikeCount}, app)
}

// HandleSearch runs a full-text query over published poems.
func HandleSearch(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleSearch")
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondMessage(w, http.StatusBadRequest, "Search query is required.", app)
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > config.MaxSearchLimit {
		limit = config.MaxSearchLimit
	}
	results, err := app.Search().Search(q, limit)
	if err != nil {
		logger.Warn("Search failed", "query", q, "error", err)
		respondMessage(w, http.StatusBadRequest, "Invalid search query.", app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"query": q, "results": results}, app)
}

// --- Administration ---

type poemRequest struct {
	Title     *string `json:"title"`
	Content   *string `json:"content"`
	Published *bool   `json:"published"`
	Pinned    *bool   `json:"pinned"`
}

func validatePoemText(title, content string) error {
	if strings.TrimSpace(title) == "" {
		return models.InvalidInput("Title is required.")
	}
	if utf8.RuneCountInString(title) > config.MaxTitleLen {
		return models.InvalidInput("Title exceeds %d characters.", config.MaxTitleLen)
	}
	if strings.TrimSpace(content) == "" {
		return models.InvalidInput("Poem content is required.")
	}
	if utf8.RuneCountInString(content) > config.MaxPoemLen {
		return models.InvalidInput("Poem exceeds %d characters.", config.MaxPoemLen)
	}
	return nil
}

func HandleAdminListPoems(w http.ResponseWriter, r *http.Request, app App) {
	poems, err := app.DB().ListAllPoems(r.Context())
	if err != nil {
		respondError(w, err, app, app.Logger().With("handler", "HandleAdminListPoems"))
		return
	}
	respondJSON(w, http.StatusOK, poems, app)
}

// HandleListDrafts lists an author's drafts; it defaults to the caller.
func HandleListDrafts(w http.ResponseWriter, r *http.Request, app App) {
	authorID := r.URL.Query().Get("authorId")
	if authorID == "" {
		authorID = currentUser(r).UID
	}
	poems, err := app.DB().ListDrafts(r.Context(), authorID)
	if err != nil {
		respondError(w, err, app, app.Logger().With("handler", "HandleListDrafts"))
		return
	}
	respondJSON(w, http.StatusOK, poems, app)
}

// HandleCreatePoem stores a new poem authored by the signed-in admin.
func HandleCreatePoem(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreatePoem")
	var req poemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}

	user := currentUser(r)
	poem := &models.Poem{AuthorID: user.UID, AuthorName: user.DisplayName}
	if req.Title != nil {
		poem.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		poem.Content = *req.Content
	}
	if req.Published != nil {
		poem.Published = *req.Published
	}
	if req.Pinned != nil {
		poem.Pinned = *req.Pinned
	}
	if err := validatePoemText(poem.Title, poem.Content); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if poem.Pinned && !poem.Published {
		respondMessage(w, http.StatusBadRequest, "Only published poems can be pinned.", app)
		return
	}

	if err := app.DB().CreatePoem(r.Context(), poem); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if poem.Published {
		app.Activity().Record(models.ActivityPoemPublished, user.UID, poem.ID, map[string]string{"title": poem.Title})
	}
	syncPoem(app, logger, poem)
	logger.Info("Poem created", "poem_id", poem.ID, "published", poem.Published)
	respondJSON(w, http.StatusCreated, poem, app)
}

// HandleUpdatePoem applies a partial update.
func HandleUpdatePoem(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUpdatePoem")
	var req poemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		req.Title = &trimmed
	}
	applyPoemUpdate(w, r, app, logger, database.PoemUpdate{
		Title: req.Title, Content: req.Content, Published: req.Published, Pinned: req.Pinned,
	})
}

// HandlePublishPoem toggles publication. Unpublishing also unpins.
func HandlePublishPoem(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandlePublishPoem")
	var req struct {
		Published *bool `json:"published"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if req.Published == nil {
		respondMessage(w, http.StatusBadRequest, "Field 'published' is required.", app)
		return
	}
	applyPoemUpdate(w, r, app, logger, database.PoemUpdate{Published: req.Published})
}

// HandlePinPoem toggles the pinned flag of a published poem.
func HandlePinPoem(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandlePinPoem")
	var req struct {
		Pinned *bool `json:"pinned"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if req.Pinned == nil {
		respondMessage(w, http.StatusBadRequest, "Field 'pinned' is required.", app)
		return
	}
	applyPoemUpdate(w, r, app, logger, database.PoemUpdate{Pinned: req.Pinned})
}

func applyPoemUpdate(w http.ResponseWriter, r *http.Request, app App, logger *slog.Logger, u database.PoemUpdate) {
	poemID := chi.URLParam(r, "poemID")
	current, err := app.DB().GetPoem(r.Context(), poemID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}

	title, content, published, pinned := current.Title, current.Content, current.Published, current.Pinned
	if u.Title != nil {
		title = *u.Title
	}
	if u.Content != nil {
		content = *u.Content
	}
	if u.Published != nil {
		published = *u.Published
	}
	if u.Pinned != nil {
		pinned = *u.Pinned
	}
	if err := validatePoemText(title, content); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if !published && pinned {
		if u.Pinned != nil && *u.Pinned {
			respondMessage(w, http.StatusBadRequest, "Only published poems can be pinned.", app)
			return
		}
		unpinned := false
		u.Pinned = &unpinned
	}

	before, after, err := app.DB().UpdatePoem(r.Context(), poemID, u)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if !before.Published && after.Published {
		app.Activity().Record(models.ActivityPoemPublished, actorID(r), after.ID, map[string]string{"title": after.Title})
	}
	syncPoem(app, logger, after)
	respondJSON(w, http.StatusOK, after, app)
}

// HandleDeletePoem hard-deletes a poem. Its comments and likes are left in place.
func HandleDeletePoem(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeletePoem")
	poemID := chi.URLParam(r, "poemID")
	if err := app.DB().DeletePoem(r.Context(), poemID); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if err := app.Search().Delete(poemID); err != nil {
		logger.Warn("Failed to remove poem from search index", "poem_id", poemID, "error", err)
	}
	app.Hub().Publish(realtime.PoemsTopic)
	logger.Info("Poem deleted", "poem_id", poemID)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true}, app)
}

// syncPoem refreshes the search index and notifies feed subscribers.
func syncPoem(app App, logger *slog.Logger, poem *models.Poem) {
	if err := app.Search().Sync(poem); err != nil {
		logger.Warn("Failed to index poem", "poem_id", poem.ID, "error", err)
	}
	app.Hub().Publish(realtime.PoemsTopic)
}
