// bluetry/database/comments.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"bluetry/config"
	"bluetry/models"
	"bluetry/utils"

	"github.com/google/uuid"
)

const commentColumns = `id, poem_id, content, author_id, author_name, author_email, ip_hash, session_id, bot_check_passed,
	parent_id, thread_path, depth, like_count, reply_count, report_count, is_reported, is_deleted,
	deleted_at, deleted_by, created_at, updated_at`

func scanComment(s scanner) (*models.Comment, error) {
	var c models.Comment
	var authorID, authorEmail, ipHash, sessionID, parentID, deletedBy sql.NullString
	var deletedAt sql.NullTime
	err := s.Scan(&c.ID, &c.PoemID, &c.Content, &authorID, &c.AuthorName, &authorEmail, &ipHash, &sessionID, &c.BotChecked,
		&parentID, &c.ThreadPath, &c.Depth, &c.LikeCount, &c.ReplyCount, &c.ReportCount, &c.IsReported, &c.IsDeleted,
		&deletedAt, &deletedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.AuthorID = nullableString(authorID)
	c.AuthorEmail = nullableString(authorEmail)
	c.ParentID = nullableString(parentID)
	c.DeletedBy = nullableString(deletedBy)
	c.DeletedAt = nullableTime(deletedAt)
	c.IPHash = ipHash.String
	c.SessionID = sessionID.String
	return &c, nil
}

// NewComment is the input to CreateComment. Author is nil for anonymous visitors.
type NewComment struct {
	PoemID      string
	ParentID    string
	Content     string
	Author      *models.User
	AuthorName  string
	AuthorEmail string
	SessionID   string
	IPHash      string
}

// ChildThreadPath derives a reply's ancestor chain from its parent.
func ChildThreadPath(parent *models.Comment) string {
	if parent.ThreadPath == "" {
		return parent.ID
	}
	return parent.ThreadPath + "/" + parent.ID
}

// CreateComment validates and stores a comment or reply. The comment row, the
// poem's commentCount, the parent's replyCount and the activity entry are
// written in one transaction.
func (ds *DatabaseService) CreateComment(ctx context.Context, in NewComment) (*models.Comment, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, models.InvalidInput("Comment cannot be empty.")
	}
	if utf8.RuneCountInString(content) > config.MaxCommentLen {
		return nil, models.InvalidInput("Comment exceeds %d characters.", config.MaxCommentLen)
	}

	now := utils.GetSQLTime()
	c := &models.Comment{
		ID:        uuid.New().String(),
		PoemID:    in.PoemID,
		Content:   content,
		SessionID: in.SessionID,
		IPHash:    in.IPHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Author != nil {
		c.AuthorID = &in.Author.UID
		c.AuthorName = in.Author.DisplayName
	} else {
		c.AuthorName = strings.TrimSpace(in.AuthorName)
		if c.AuthorName == "" {
			c.AuthorName = config.DefaultAuthorName
		}
		if utf8.RuneCountInString(c.AuthorName) > config.MaxAuthorNameLen {
			return nil, models.InvalidInput("Name exceeds %d characters.", config.MaxAuthorNameLen)
		}
		if in.AuthorEmail != "" {
			email, ok := utils.NormalizeEmail(in.AuthorEmail)
			if !ok {
				return nil, models.InvalidInput("Invalid email address.")
			}
			c.AuthorEmail = &email
		}
	}

	err := ds.withTx(ctx, "create comment", func(tx *sql.Tx) error {
		var poemTitle string
		err := tx.QueryRowContext(ctx, "SELECT title FROM poems WHERE id = ?", in.PoemID).Scan(&poemTitle)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load poem: %w", err)
		}

		if in.Author == nil {
			if in.SessionID == "" {
				return models.ErrBotCheckRequired
			}
			var passed int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM bot_checks WHERE session_id = ? AND passed = 1", in.SessionID).Scan(&passed); err != nil {
				return fmt.Errorf("check bot status: %w", err)
			}
			if passed == 0 {
				return models.ErrBotCheckRequired
			}
			c.BotChecked = true
		}

		if in.ParentID != "" {
			parent, err := scanComment(tx.QueryRowContext(ctx, "SELECT "+commentColumns+" FROM comments WHERE id = ?", in.ParentID))
			if errors.Is(err, sql.ErrNoRows) {
				return models.InvalidInput("Parent comment does not exist.")
			}
			if err != nil {
				return fmt.Errorf("load parent comment: %w", err)
			}
			if parent.PoemID != in.PoemID {
				return models.InvalidInput("Parent comment belongs to a different poem.")
			}
			c.ParentID = &parent.ID
			c.Depth = parent.Depth + 1
			c.ThreadPath = ChildThreadPath(parent)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO comments (id, poem_id, content, author_id, author_name, author_email, ip_hash,
			session_id, bot_check_passed, parent_id, thread_path, depth, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.PoemID, c.Content, c.AuthorID, c.AuthorName, c.AuthorEmail, c.IPHash,
			c.SessionID, c.BotChecked, c.ParentID, c.ThreadPath, c.Depth, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE poems SET comment_count = comment_count + 1 WHERE id = ?", c.PoemID); err != nil {
			return fmt.Errorf("increment comment count: %w", err)
		}
		if c.ParentID != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE comments SET reply_count = reply_count + 1 WHERE id = ?", *c.ParentID); err != nil {
				return fmt.Errorf("increment reply count: %w", err)
			}
		}

		// Anonymous comments are deliberately left out of the activity feed.
		if in.Author != nil {
			activity := &models.Activity{
				Type:     models.ActivityCommentAdded,
				UserID:   in.Author.UID,
				PoemID:   &c.PoemID,
				Metadata: map[string]string{"commentId": c.ID, "title": poemTitle},
			}
			if c.ParentID != nil {
				activity.Type = models.ActivityCommentReplied
				activity.Metadata["parentId"] = *c.ParentID
			}
			ds.LogActivity(ctx, tx, activity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetComment fetches a single comment.
func (ds *DatabaseService) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	c, err := scanComment(ds.DB.QueryRowContext(ctx, "SELECT "+commentColumns+" FROM comments WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get comment %s: %w", id, err)
	}
	return c, nil
}

// ListComments returns every comment of a poem, soft-deleted ones included, oldest first.
func (ds *DatabaseService) ListComments(ctx context.Context, poemID string) ([]models.Comment, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT "+commentColumns+" FROM comments WHERE poem_id = ? ORDER BY created_at ASC, rowid ASC", poemID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

// DeletedComment describes what a soft delete touched.
type DeletedComment struct {
	Comment   *models.Comment
	PoemTitle string
	Changed   bool
}

// SoftDeleteComment marks a comment deleted and decrements the poem's
// commentCount and the parent's replyCount. Deleting an already-deleted
// comment changes nothing. Replies keep their depth and threadPath.
func (ds *DatabaseService) SoftDeleteComment(ctx context.Context, commentID, deletedBy string) (*DeletedComment, error) {
	out := &DeletedComment{}
	err := ds.withTx(ctx, "delete comment", func(tx *sql.Tx) error {
		c, err := scanComment(tx.QueryRowContext(ctx, "SELECT "+commentColumns+" FROM comments WHERE id = ?", commentID))
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load comment: %w", err)
		}
		out.Comment = c
		if err := tx.QueryRowContext(ctx, "SELECT title FROM poems WHERE id = ?", c.PoemID).Scan(&out.PoemTitle); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load poem title: %w", err)
		}
		if c.IsDeleted {
			return nil
		}

		now := utils.GetSQLTime()
		if _, err := tx.ExecContext(ctx, "UPDATE comments SET is_deleted = 1, deleted_at = ?, deleted_by = ?, updated_at = ? WHERE id = ?",
			now, deletedBy, now, commentID); err != nil {
			return fmt.Errorf("mark comment deleted: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE poems SET comment_count = MAX(comment_count - 1, 0) WHERE id = ?", c.PoemID); err != nil {
			return fmt.Errorf("decrement comment count: %w", err)
		}
		if c.ParentID != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE comments SET reply_count = MAX(reply_count - 1, 0) WHERE id = ?", *c.ParentID); err != nil {
				return fmt.Errorf("decrement reply count: %w", err)
			}
		}
		c.IsDeleted = true
		c.DeletedAt = &now
		c.DeletedBy = &deletedBy
		c.UpdatedAt = now
		out.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Comment likes ---

// CommentLiker identifies who likes a comment: a user id, or an anonymous session.
type CommentLiker struct {
	UserID    string
	SessionID string
}

func (l CommentLiker) Key() string {
	if l.UserID != "" {
		return "user:" + l.UserID
	}
	return "session:" + l.SessionID
}

// LikeComment records a like and bumps likeCount. It reports false when the like already existed.
func (ds *DatabaseService) LikeComment(ctx context.Context, commentID string, liker CommentLiker) (*models.Comment, bool, error) {
	if liker.UserID == "" && liker.SessionID == "" {
		return nil, false, models.ErrUnauthorized
	}
	var c *models.Comment
	var added bool
	err := ds.withTx(ctx, "like comment", func(tx *sql.Tx) error {
		var err error
		c, err = scanComment(tx.QueryRowContext(ctx, "SELECT "+commentColumns+" FROM comments WHERE id = ?", commentID))
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load comment: %w", err)
		}
		if c.IsDeleted {
			return models.InvalidInput("Deleted comments cannot be liked.")
		}
		res, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO comment_likes (id, comment_id, liker_key, user_id, session_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			uuid.New().String(), commentID, liker.Key(), sql.NullString{String: liker.UserID, Valid: liker.UserID != ""},
			sql.NullString{String: liker.SessionID, Valid: liker.SessionID != ""}, utils.GetSQLTime())
		if err != nil {
			return fmt.Errorf("insert comment like: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "UPDATE comments SET like_count = like_count + 1 WHERE id = ?", commentID); err != nil {
			return fmt.Errorf("increment comment like count: %w", err)
		}
		c.LikeCount++
		added = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return c, added, nil
}

// UnlikeComment removes a like. It reports false when there was none.
func (ds *DatabaseService) UnlikeComment(ctx context.Context, commentID string, liker CommentLiker) (bool, error) {
	var removed bool
	err := ds.withTx(ctx, "unlike comment", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM comment_likes WHERE comment_id = ? AND liker_key = ?", commentID, liker.Key())
		if err != nil {
			return fmt.Errorf("delete comment like: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "UPDATE comments SET like_count = MAX(like_count - 1, 0) WHERE id = ?", commentID); err != nil {
			return fmt.Errorf("decrement comment like count: %w", err)
		}
		removed = true
		return nil
	})
	return removed, err
}

// IsCommentLiked reports whether the liker has liked the comment.
func (ds *DatabaseService) IsCommentLiked(ctx context.Context, commentID string, liker CommentLiker) (bool, error) {
	var n int
	err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM comment_likes WHERE comment_id = ? AND liker_key = ?", commentID, liker.Key()).Scan(&n)
	return n > 0, err
}

// BuildCommentTree nests a flat, oldest-first comment list by parentId.
// Replies whose parent is missing are promoted to the top level.
func BuildCommentTree(comments []models.Comment) []*models.ThreadedComment {
	nodes := make(map[string]*models.ThreadedComment, len(comments))
	for i := range comments {
		nodes[comments[i].ID] = &models.ThreadedComment{Comment: &comments[i], Replies: []*models.ThreadedComment{}}
	}
	roots := []*models.ThreadedComment{}
	for i := range comments {
		node := nodes[comments[i].ID]
		if comments[i].ParentID != nil {
			if parent, ok := nodes[*comments[i].ParentID]; ok {
				parent.Replies = append(parent.Replies, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}
