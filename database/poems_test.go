// bluetry/database/poems_test.go
package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"bluetry/models"
)

func TestCreatePoemLogsActivityAtomically(t *testing.T) {
	ds := setupTestDB(t)
	p := createTestPoem(t, ds, "Morning", false)

	if p.ID == "" || p.CreatedAt.IsZero() {
		t.Fatal("Expected server-assigned id and timestamps")
	}
	got, err := ds.GetPoem(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPoem failed: %v", err)
	}
	if got.Title != "Morning" || got.Published {
		t.Errorf("Unexpected poem %+v", got)
	}

	acts, _ := ds.ListActivity(context.Background(), 10, ActivityAll)
	if len(acts) != 1 || acts[0].Type != models.ActivityPoemCreated || *acts[0].PoemID != p.ID {
		t.Errorf("Expected a single poem_created entry, got %+v", acts)
	}
}

func TestGetPoemNotFound(t *testing.T) {
	ds := setupTestDB(t)
	if _, err := ds.GetPoem(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePoemKeepsCounts(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	p := createTestPoem(t, ds, "Dusk", true)

	if _, err := ds.LikePoem(ctx, p.ID, "user:u1"); err != nil {
		t.Fatalf("LikePoem failed: %v", err)
	}
	ds.DB.Exec("UPDATE poems SET comment_count = 4 WHERE id = ?", p.ID)

	off := false
	before, after, err := ds.UpdatePoem(ctx, p.ID, PoemUpdate{Published: &off})
	if err != nil {
		t.Fatalf("UpdatePoem failed: %v", err)
	}
	if !before.Published || after.Published {
		t.Errorf("Expected published true -> false, got %v -> %v", before.Published, after.Published)
	}
	got, _ := ds.GetPoem(ctx, p.ID)
	if got.LikeCount != 1 || got.CommentCount != 4 {
		t.Errorf("Counts changed on unpublish: likes=%d comments=%d", got.LikeCount, got.CommentCount)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Error("updatedAt went backwards")
	}

	title := "Dusk, revised"
	if _, after, err = ds.UpdatePoem(ctx, p.ID, PoemUpdate{Title: &title}); err != nil || after.Title != title {
		t.Errorf("Title update failed: %v %+v", err, after)
	}
	if _, _, err := ds.UpdatePoem(ctx, "missing", PoemUpdate{Title: &title}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPublishedFeedPagination(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		createTestPoem(t, ds, string(rune('A'+i)), true)
		time.Sleep(2 * time.Millisecond)
	}
	createTestPoem(t, ds, "draft", false)

	page1, err := ds.ListPublishedPoems(ctx, 1, 5)
	if err != nil {
		t.Fatalf("ListPublishedPoems failed: %v", err)
	}
	if page1.Total != 7 || page1.TotalPages != 2 || len(page1.Poems) != 5 {
		t.Fatalf("Unexpected page 1: total=%d pages=%d len=%d", page1.Total, page1.TotalPages, len(page1.Poems))
	}
	if page1.Poems[0].Title != "G" {
		t.Errorf("Expected newest poem first, got %s", page1.Poems[0].Title)
	}
	page2, _ := ds.ListPublishedPoems(ctx, 2, 5)
	if len(page2.Poems) != 2 || page2.Poems[1].Title != "A" {
		t.Errorf("Unexpected page 2: %+v", page2.Poems)
	}
	page0, _ := ds.ListPublishedPoems(ctx, 0, 5)
	if page0.Page != 1 {
		t.Errorf("Expected page to clamp to 1, got %d", page0.Page)
	}
}

func TestPinnedAndDrafts(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	pub := createTestPoem(t, ds, "pub", true)
	draftA := createTestPoem(t, ds, "draftA", false)
	time.Sleep(2 * time.Millisecond)
	createTestPoem(t, ds, "draftB", false)

	on := true
	ds.UpdatePoem(ctx, pub.ID, PoemUpdate{Pinned: &on})
	pinned, err := ds.ListPinnedPoems(ctx)
	if err != nil || len(pinned) != 1 || pinned[0].ID != pub.ID {
		t.Errorf("Expected the pinned poem, got %+v (%v)", pinned, err)
	}

	// Editing draftA makes it the most recently updated draft.
	time.Sleep(2 * time.Millisecond)
	title := "draftA v2"
	ds.UpdatePoem(ctx, draftA.ID, PoemUpdate{Title: &title})
	drafts, _ := ds.ListDrafts(ctx, "")
	if len(drafts) != 2 || drafts[0].ID != draftA.ID {
		t.Errorf("Expected drafts ordered by updatedAt desc, got %+v", drafts)
	}
	none, _ := ds.ListDrafts(ctx, "someone-else")
	if len(none) != 0 {
		t.Errorf("Expected no drafts for another author, got %d", len(none))
	}
	all, _ := ds.ListAllPoems(ctx)
	if len(all) != 3 {
		t.Errorf("Expected 3 poems in total, got %d", len(all))
	}
}

func TestDeletePoemDoesNotCascade(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	p := createTestPoem(t, ds, "gone", true)
	passBotCheck(t, ds, "s1")
	c, err := ds.CreateComment(ctx, NewComment{PoemID: p.ID, Content: "hello", SessionID: "s1"})
	if err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}

	if err := ds.DeletePoem(ctx, p.ID); err != nil {
		t.Fatalf("DeletePoem failed: %v", err)
	}
	if err := ds.DeletePoem(ctx, p.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := ds.GetComment(ctx, c.ID); err != nil {
		t.Errorf("Expected orphaned comment to remain, got %v", err)
	}
}

func TestPoemLikes(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	p := createTestPoem(t, ds, "liked", true)

	added, err := ds.LikePoem(ctx, p.ID, "user:u1")
	if err != nil || !added {
		t.Fatalf("Expected first like to be added: %v", err)
	}
	added, _ = ds.LikePoem(ctx, p.ID, "user:u1")
	if added {
		t.Error("Second like by the same liker must be ignored")
	}
	ds.LikePoem(ctx, p.ID, "session:s9")

	got, _ := ds.GetPoem(ctx, p.ID)
	if got.LikeCount != 2 {
		t.Errorf("Expected likeCount 2, got %d", got.LikeCount)
	}
	liked, _ := ds.IsPoemLiked(ctx, p.ID, "user:u1")
	if !liked {
		t.Error("Expected IsPoemLiked to be true")
	}
	ids, _ := ds.LikedPoemIDs(ctx, "user:u1")
	if len(ids) != 1 || ids[0] != p.ID {
		t.Errorf("Unexpected liked ids %v", ids)
	}

	removed, _ := ds.UnlikePoem(ctx, p.ID, "user:u1")
	if !removed {
		t.Error("Expected unlike to remove the like")
	}
	removed, _ = ds.UnlikePoem(ctx, p.ID, "user:u1")
	if removed {
		t.Error("Unlike without a like must be a no-op")
	}
	got, _ = ds.GetPoem(ctx, p.ID)
	if got.LikeCount != 1 {
		t.Errorf("Expected likeCount 1, got %d", got.LikeCount)
	}

	if _, err := ds.LikePoem(ctx, "missing", "user:u1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestIncrementPoemViews(t *testing.T) {
	ds := setupTestDB(t)
	p := createTestPoem(t, ds, "viewed", true)
	ds.IncrementPoemViews(context.Background(), p.ID)
	ds.IncrementPoemViews(context.Background(), p.ID)
	got, _ := ds.GetPoem(context.Background(), p.ID)
	if got.ViewCount != 2 {
		t.Errorf("Expected 2 views, got %d", got.ViewCount)
	}
}
