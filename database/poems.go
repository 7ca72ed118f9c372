// bluetry/database/poems.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bluetry/models"
	"bluetry/utils"

	"github.com/google/uuid"
)

const poemColumns = "id, title, content, author_id, author_name, published, pinned, like_count, comment_count, view_count, created_at, updated_at"

func scanPoem(s scanner) (*models.Poem, error) {
	var p models.Poem
	err := s.Scan(&p.ID, &p.Title, &p.Content, &p.AuthorID, &p.AuthorName, &p.Published, &p.Pinned,
		&p.LikeCount, &p.CommentCount, &p.ViewCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (ds *DatabaseService) queryPoems(ctx context.Context, query string, args ...any) ([]models.Poem, error) {
	rows, err := ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	poems := []models.Poem{}
	for rows.Next() {
		p, err := scanPoem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poem: %w", err)
		}
		poems = append(poems, *p)
	}
	return poems, rows.Err()
}

// CreatePoem inserts a poem and its poem_created activity in one transaction.
func (ds *DatabaseService) CreatePoem(ctx context.Context, p *models.Poem) error {
	now := utils.GetSQLTime()
	p.ID = uuid.New().String()
	p.CreatedAt, p.UpdatedAt = now, now
	p.LikeCount, p.CommentCount, p.ViewCount = 0, 0, 0

	return ds.withTx(ctx, "create poem", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO poems ("+poemColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)",
			p.ID, p.Title, p.Content, p.AuthorID, p.AuthorName, p.Published, p.Pinned, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert poem: %w", err)
		}
		ds.LogActivity(ctx, tx, &models.Activity{
			Type:     models.ActivityPoemCreated,
			UserID:   p.AuthorID,
			PoemID:   &p.ID,
			Metadata: map[string]string{"title": p.Title},
		})
		return nil
	})
}

// GetPoem fetches a poem by id.
func (ds *DatabaseService) GetPoem(ctx context.Context, id string) (*models.Poem, error) {
	p, err := scanPoem(ds.DB.QueryRowContext(ctx, "SELECT "+poemColumns+" FROM poems WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get poem %s: %w", id, err)
	}
	return p, nil
}

// IncrementPoemViews bumps the read counter of a poem.
func (ds *DatabaseService) IncrementPoemViews(ctx context.Context, id string) error {
	_, err := ds.DB.ExecContext(ctx, "UPDATE poems SET view_count = view_count + 1 WHERE id = ?", id)
	return err
}

// PoemUpdate carries the fields of a partial poem update; nil means unchanged.
type PoemUpdate struct {
	Title     *string
	Content   *string
	Published *bool
	Pinned    *bool
}

// UpdatePoem applies a partial update and returns the poem before and after.
// Counts are never touched here.
func (ds *DatabaseService) UpdatePoem(ctx context.Context, id string, u PoemUpdate) (before, after *models.Poem, err error) {
	err = ds.withTx(ctx, "update poem", func(tx *sql.Tx) error {
		before, err = scanPoem(tx.QueryRowContext(ctx, "SELECT "+poemColumns+" FROM poems WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load poem: %w", err)
		}
		next := *before
		if u.Title != nil {
			next.Title = *u.Title
		}
		if u.Content != nil {
			next.Content = *u.Content
		}
		if u.Published != nil {
			next.Published = *u.Published
		}
		if u.Pinned != nil {
			next.Pinned = *u.Pinned
		}
		next.UpdatedAt = utils.GetSQLTime()
		_, err = tx.ExecContext(ctx, "UPDATE poems SET title = ?, content = ?, published = ?, pinned = ?, updated_at = ? WHERE id = ?",
			next.Title, next.Content, next.Published, next.Pinned, next.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("update poem: %w", err)
		}
		after = &next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// DeletePoem hard-deletes a poem. Comments, likes and reports that reference it are left in place.
func (ds *DatabaseService) DeletePoem(ctx context.Context, id string) error {
	res, err := ds.DB.ExecContext(ctx, "DELETE FROM poems WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete poem: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListPublishedPoems returns one page of the public feed, newest first.
func (ds *DatabaseService) ListPublishedPoems(ctx context.Context, page, pageSize int) (*models.PoemPage, error) {
	if page < 1 {
		page = 1
	}
	var total int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM poems WHERE published = 1").Scan(&total); err != nil {
		return nil, fmt.Errorf("count published poems: %w", err)
	}
	poems, err := ds.queryPoems(ctx, "SELECT "+poemColumns+" FROM poems WHERE published = 1 ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list published poems: %w", err)
	}
	totalPages := (total + pageSize - 1) / pageSize
	return &models.PoemPage{Poems: poems, Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}, nil
}

// ListAllPublishedPoems returns every published poem, newest first.
func (ds *DatabaseService) ListAllPublishedPoems(ctx context.Context) ([]models.Poem, error) {
	return ds.queryPoems(ctx, "SELECT "+poemColumns+" FROM poems WHERE published = 1 ORDER BY created_at DESC, rowid DESC")
}

// ListPinnedPoems returns pinned, published poems, newest first.
func (ds *DatabaseService) ListPinnedPoems(ctx context.Context) ([]models.Poem, error) {
	return ds.queryPoems(ctx, "SELECT "+poemColumns+" FROM poems WHERE pinned = 1 AND published = 1 ORDER BY created_at DESC, rowid DESC")
}

// ListAllPoems returns every poem including drafts, newest first.
func (ds *DatabaseService) ListAllPoems(ctx context.Context) ([]models.Poem, error) {
	return ds.queryPoems(ctx, "SELECT "+poemColumns+" FROM poems ORDER BY created_at DESC, rowid DESC")
}

// ListDrafts returns unpublished poems by most recent edit, optionally for one author.
func (ds *DatabaseService) ListDrafts(ctx context.Context, authorID string) ([]models.Poem, error) {
	if authorID != "" {
		return ds.queryPoems(ctx, "SELECT "+poemColumns+" FROM poems WHERE published = 0 AND author_id = ? ORDER BY updated_at DESC, rowid DESC", authorID)
	}
	return ds.queryPoems(ctx, "SELECT "+poemColumns+" FROM poems WHERE published = 0 ORDER BY updated_at DESC, rowid DESC")
}

// --- Poem likes ---

// LikePoem records a like for likerKey and bumps likeCount. It reports false
// when the liker had already liked the poem.
func (ds *DatabaseService) LikePoem(ctx context.Context, poemID, likerKey string) (bool, error) {
	var added bool
	err := ds.withTx(ctx, "like poem", func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM poems WHERE id = ?", poemID).Scan(&exists); err != nil {
			return fmt.Errorf("check poem: %w", err)
		}
		if exists == 0 {
			return models.ErrNotFound
		}
		res, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO likes (id, poem_id, user_id, created_at) VALUES (?, ?, ?, ?)",
			uuid.New().String(), poemID, likerKey, utils.GetSQLTime())
		if err != nil {
			return fmt.Errorf("insert like: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "UPDATE poems SET like_count = like_count + 1 WHERE id = ?", poemID); err != nil {
			return fmt.Errorf("increment like count: %w", err)
		}
		added = true
		return nil
	})
	return added, err
}

// UnlikePoem removes a like. It reports false when there was nothing to remove.
func (ds *DatabaseService) UnlikePoem(ctx context.Context, poemID, likerKey string) (bool, error) {
	var removed bool
	err := ds.withTx(ctx, "unlike poem", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM likes WHERE poem_id = ? AND user_id = ?", poemID, likerKey)
		if err != nil {
			return fmt.Errorf("delete like: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "UPDATE poems SET like_count = MAX(like_count - 1, 0) WHERE id = ?", poemID); err != nil {
			return fmt.Errorf("decrement like count: %w", err)
		}
		removed = true
		return nil
	})
	return removed, err
}

// IsPoemLiked reports whether likerKey has liked the poem.
func (ds *DatabaseService) IsPoemLiked(ctx context.Context, poemID, likerKey string) (bool, error) {
	var n int
	err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM likes WHERE poem_id = ? AND user_id = ?", poemID, likerKey).Scan(&n)
	return n > 0, err
}

// LikedPoemIDs lists the poems a liker has liked, newest like first.
func (ds *DatabaseService) LikedPoemIDs(ctx context.Context, likerKey string) ([]string, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT poem_id FROM likes WHERE user_id = ? ORDER BY created_at DESC", likerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
