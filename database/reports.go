// bluetry/database/reports.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"bluetry/config"
	"bluetry/models"
	"bluetry/utils"

	"github.com/google/uuid"
)

// CreateReport stores a pending report against a comment. It does not touch
// the comment itself; see MarkCommentReported.
func (ds *DatabaseService) CreateReport(ctx context.Context, r *models.CommentReport) error {
	r.Reason = strings.TrimSpace(r.Reason)
	r.Description = strings.TrimSpace(r.Description)
	if r.Reason == "" {
		return models.InvalidInput("Reason for reporting cannot be empty.")
	}
	if utf8.RuneCountInString(r.Reason)+utf8.RuneCountInString(r.Description) > config.MaxReportLen {
		return models.InvalidInput("Report exceeds %d characters.", config.MaxReportLen)
	}
	r.ID = uuid.New().String()
	r.Status = models.ReportPending
	r.CreatedAt = utils.GetSQLTime()
	_, err := ds.DB.ExecContext(ctx, `INSERT INTO comment_reports (id, comment_id, poem_id, reporter_id, reporter_session_id, reason, description, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CommentID, r.PoemID, r.ReporterID, r.ReporterSessionID, r.Reason, r.Description, string(r.Status), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// MarkCommentReported increments reportCount and sets isReported.
func (ds *DatabaseService) MarkCommentReported(ctx context.Context, commentID string) error {
	res, err := ds.DB.ExecContext(ctx, "UPDATE comments SET report_count = report_count + 1, is_reported = 1 WHERE id = ?", commentID)
	if err != nil {
		return fmt.Errorf("mark comment reported: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListReports returns reports newest first, optionally filtered by status.
func (ds *DatabaseService) ListReports(ctx context.Context, status models.ReportStatus) ([]models.CommentReport, error) {
	query := "SELECT id, comment_id, poem_id, reporter_id, reporter_session_id, reason, description, status, created_at FROM comment_reports"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := []models.CommentReport{}
	for rows.Next() {
		var r models.CommentReport
		var reporterID, sessionID, description sql.NullString
		var st string
		if err := rows.Scan(&r.ID, &r.CommentID, &r.PoemID, &reporterID, &sessionID, &r.Reason, &description, &st, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.ReporterID = nullableString(reporterID)
		r.ReporterSessionID = sessionID.String
		r.Description = description.String
		r.Status = models.ReportStatus(st)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// SetReportStatus moves a report to reviewed or dismissed.
func (ds *DatabaseService) SetReportStatus(ctx context.Context, id string, status models.ReportStatus) error {
	if !status.Valid() {
		return models.InvalidInput("Unknown report status %q.", status)
	}
	res, err := ds.DB.ExecContext(ctx, "UPDATE comment_reports SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountReportedComments counts distinct comments carrying at least one report.
func (ds *DatabaseService) CountReportedComments(ctx context.Context) (int, error) {
	var n int
	err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(DISTINCT comment_id) FROM comment_reports").Scan(&n)
	return n, err
}
