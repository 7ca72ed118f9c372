package handlers

import (
	"net/http"

	"bluetry/database"
	"bluetry/models"
	"bluetry/realtime"
	"bluetry/utils"

	"github.com/go-chi/chi/v5"
)

const reportExcerptLen = 80

// presentComments blanks deleted content and hides author emails from
// everyone but admins.
func presentComments(r *http.Request, comments []models.Comment) {
	user := currentUser(r)
	isAdmin := user != nil && user.IsAdmin
	for i := range comments {
		if comments[i].IsDeleted {
			comments[i].Content = ""
		}
		if !isAdmin {
			comments[i].AuthorEmail = nil
		}
	}
}

// HandleListComments returns every comment of a poem oldest first,
// optionally nested by parent.
func HandleListComments(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListComments")
	poemID := chi.URLParam(r, "poemID")
	if rejectHiddenDraft(w, r, app, poemID, logger) {
		return
	}
	comments, err := app.DB().ListComments(r.Context(), poemID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	presentComments(r, comments)
	if r.URL.Query().Get("threaded") == "true" {
		respondJSON(w, http.StatusOK, database.BuildCommentTree(comments), app)
		return
	}
	respondJSON(w, http.StatusOK, comments, app)
}

type commentRequest struct {
	Content     string `json:"content"`
	ParentID    string `json:"parentId"`
	AuthorName  string `json:"authorName"`
	AuthorEmail string `json:"authorEmail"`
}

// HandleSubmitComment posts a comment or reply. Anonymous visitors must have
// passed the bot check and are rate limited per address.
func HandleSubmitComment(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleSubmitComment")
	poemID := chi.URLParam(r, "poemID")

	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}

	user := currentUser(r)
	if user == nil && !allowRequest(w, r, app, "comment") {
		return
	}
	if rejectHiddenDraft(w, r, app, poemID, logger) {
		return
	}

	comment, err := app.DB().CreateComment(r.Context(), database.NewComment{
		PoemID:      poemID,
		ParentID:    req.ParentID,
		Content:     req.Content,
		Author:      user,
		AuthorName:  req.AuthorName,
		AuthorEmail: req.AuthorEmail,
		SessionID:   sessionID(r),
		IPHash:      utils.HashIP(utils.GetIPAddress(r)),
	})
	if err != nil {
		respondError(w, err, app, logger)
		return
	}

	app.Hub().Publish(realtime.CommentsTopic(poemID))
	app.Hub().Publish(realtime.PoemsTopic)
	logger.Info("Comment posted", "comment_id", comment.ID, "poem_id", poemID, "depth", comment.Depth, "anonymous", user == nil)

	comment.AuthorEmail = nil
	respondJSON(w, http.StatusCreated, comment, app)
}

// HandleDeleteComment soft-deletes a comment. Repeating the call is harmless.
func HandleDeleteComment(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteComment")
	admin := currentUser(r)

	res, err := app.DB().SoftDeleteComment(r.Context(), chi.URLParam(r, "commentID"), admin.UID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	c := res.Comment
	if res.Changed {
		app.Activity().Record(models.ActivityCommentDeleted, admin.UID, c.PoemID, map[string]string{
			"commentId":      c.ID,
			"originalAuthor": c.AuthorName,
			"title":          res.PoemTitle,
		})
		app.Hub().Publish(realtime.CommentsTopic(c.PoemID))
		app.Hub().Publish(realtime.PoemsTopic)
		logger.Info("Comment deleted", "comment_id", c.ID, "poem_id", c.PoemID, "admin", admin.UID)
	}
	respondJSON(w, http.StatusOK, c, app)
}

type reportRequest struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// HandleReportComment files a pending report. Flagging the comment itself is
// best effort.
func HandleReportComment(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleReportComment")
	if !allowRequest(w, r, app, "report") {
		return
	}

	var req reportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	comment, err := app.DB().GetComment(r.Context(), chi.URLParam(r, "commentID"))
	if err != nil {
		respondError(w, err, app, logger)
		return
	}

	report := &models.CommentReport{
		CommentID:         comment.ID,
		PoemID:            comment.PoemID,
		ReporterSessionID: sessionID(r),
		Reason:            req.Reason,
		Description:       req.Description,
	}
	if user := currentUser(r); user != nil {
		report.ReporterID = &user.UID
	}
	if err := app.DB().CreateReport(r.Context(), report); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if err := app.DB().MarkCommentReported(r.Context(), comment.ID); err != nil {
		logger.Error("Failed to flag reported comment", "comment_id", comment.ID, "error", err)
	}

	app.Activity().Record(models.ActivityCommentReported, actorID(r), comment.PoemID, map[string]string{
		"commentId": comment.ID,
		"reason":    report.Reason,
		"excerpt":   utils.Excerpt(comment.Content, reportExcerptLen),
	})
	app.Hub().Publish(realtime.CommentsTopic(comment.PoemID))
	logger.Info("Comment reported", "comment_id", comment.ID, "report_id", report.ID)
	respondJSON(w, http.StatusCreated, report, app)
}

func HandleCommentLikeStatus(w http.ResponseWriter, r *http.Request, app App) {
	liked, err := app.DB().IsCommentLiked(r.Context(), chi.URLParam(r, "commentID"), likerKey(r))
	if err != nil {
		respondError(w, err, app, app.Logger().With("handler", "HandleCommentLikeStatus"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"liked": liked}, app)
}

func HandleLikeComment(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleLikeComment")
	commentID := chi.URLParam(r, "commentID")
	target, err := app.DB().GetComment(r.Context(), commentID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if rejectHiddenDraft(w, r, app, target.PoemID, logger) {
		return
	}
	comment, added, err := app.DB().LikeComment(r.Context(), commentID, likerKey(r))
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if added {
		if user := currentUser(r); user != nil {
			app.Activity().Record(models.ActivityCommentLiked, user.UID, comment.PoemID, map[string]string{"commentId": comment.ID})
		}
		app.Hub().Publish(realtime.CommentsTopic(comment.PoemID))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"liked": true, "likeCount": comment.LikeCount}, app)
}

func HandleUnlikeComment(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUnlikeComment")
	commentID := chi.URLParam(r, "commentID")
	removed, err := app.DB().UnlikeComment(r.Context(), commentID, likerKey(r))
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	comment, err := app.DB().GetComment(r.Context(), commentID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if removed {
		app.Hub().Publish(realtime.CommentsTopic(comment.PoemID))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"liked": false, "likeCount": comment.LikeCount}, app)
}

// --- Report review ---

func HandleListReports(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListReports")
	status := models.ReportStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondMessage(w, http.StatusBadRequest, "Unknown report status.", app)
		return
	}
	reports, err := app.DB().ListReports(r.Context(), status)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, reports, app)
}

// HandleResolveReport marks a report reviewed or dismissed.
func HandleResolveReport(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleResolveReport")
	var req struct {
		Status models.ReportStatus `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if req.Status != models.ReportReviewed && req.Status != models.ReportDismissed {
		respondMessage(w, http.StatusBadRequest, "Status must be 'reviewed' or 'dismissed'.", app)
		return
	}
	reportID := chi.URLParam(r, "reportID")
	if err := app.DB().SetReportStatus(r.Context(), reportID, req.Status); err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Report resolved", "report_id", reportID, "status", req.Status)
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": reportID, "status": req.Status}, app)
}
