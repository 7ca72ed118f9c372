package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"bluetry/database"
	"bluetry/models"
)

func TestSubmitComment(t *testing.T) {
	app := setupTestApp(t)
	poem := createPoem(t, app, "Field Notes", true)
	path := "/api/poems/" + poem.ID + "/comments"

	t.Run("Anonymous without bot check", func(t *testing.T) {
		rr := doRequest(t, app, "POST", path, map[string]string{"content": "hi"}, visitorCookie("sid-unchecked"))
		if rr.Code != http.StatusForbidden {
			t.Errorf("Expected 403, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Validation", func(t *testing.T) {
		user := sessionCookie(t, app, app.user)
		tests := []struct {
			name string
			body map[string]string
			path string
			want int
		}{
			{"Empty", map[string]string{"content": "   "}, path, http.StatusBadRequest},
			{"Too long", map[string]string{"content": strings.Repeat("a", 2001)}, path, http.StatusBadRequest},
			{"Missing poem", map[string]string{"content": "hello"}, "/api/poems/nope/comments", http.StatusNotFound},
			{"Missing parent", map[string]string{"content": "hello", "parentId": "ghost"}, path, http.StatusBadRequest},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				rr := doRequest(t, app, "POST", tc.path, tc.body, user)
				if rr.Code != tc.want {
					t.Errorf("Expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
				}
			})
		}
	})

	t.Run("Anonymous after bot check", func(t *testing.T) {
		solveBotCheck(t, app, "sid-checked")
		rr := doRequest(t, app, "POST", path, map[string]string{
			"content": "  a fine poem  ", "authorName": "", "authorEmail": "Guest@Example.com",
		}, visitorCookie("sid-checked"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var c models.Comment
		decodeBody(t, rr, &c)
		if c.Content != "a fine poem" || c.AuthorName != "Anonymous" || !c.BotChecked || c.AuthorID != nil {
			t.Errorf("Unexpected anonymous comment: %+v", c)
		}
		if c.AuthorEmail != nil {
			t.Error("Author email must not be echoed to the public")
		}

		// Anonymous comments are not logged.
		app.recorder.Flush()
		if n, _ := app.db.CountActivity(t.Context(), database.ActivityComments); n != 0 {
			t.Errorf("Expected no comment activity for anonymous author, got %d", n)
		}
	})
}

func TestReplyThreading(t *testing.T) {
	app := setupTestApp(t)
	poem := createPoem(t, app, "Branches", true)
	other := createPoem(t, app, "Elsewhere", true)
	user := sessionCookie(t, app, app.user)
	path := "/api/poems/" + poem.ID + "/comments"

	post := func(body map[string]string) models.Comment {
		t.Helper()
		rr := doRequest(t, app, "POST", path, body, user)
		if rr.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var c models.Comment
		decodeBody(t, rr, &c)
		return c
	}

	root := post(map[string]string{"content": "root"})
	reply := post(map[string]string{"content": "reply", "parentId": root.ID})
	nested := post(map[string]string{"content": "nested", "parentId": reply.ID})

	if root.Depth != 0 || root.ThreadPath != "" {
		t.Errorf("Root: depth=%d path=%q", root.Depth, root.ThreadPath)
	}
	if reply.Depth != 1 || reply.ThreadPath != root.ID {
		t.Errorf("Reply: depth=%d path=%q", reply.Depth, reply.ThreadPath)
	}
	if nested.Depth != 2 || nested.ThreadPath != root.ID+"/"+reply.ID {
		t.Errorf("Nested: depth=%d path=%q", nested.Depth, nested.ThreadPath)
	}

	t.Run("Parent from another poem", func(t *testing.T) {
		rr := doRequest(t, app, "POST", "/api/poems/"+other.ID+"/comments", map[string]string{"content": "x", "parentId": root.ID}, user)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rr.Code)
		}
	})

	t.Run("Counters and activity", func(t *testing.T) {
		p, _ := app.db.GetPoem(t.Context(), poem.ID)
		if p.CommentCount != 3 {
			t.Errorf("Expected commentCount 3, got %d", p.CommentCount)
		}
		r, _ := app.db.GetComment(t.Context(), root.ID)
		if r.ReplyCount != 1 {
			t.Errorf("Expected root replyCount 1, got %d", r.ReplyCount)
		}
		entries, _ := app.db.ListActivity(t.Context(), 10, database.ActivityComments)
		var added, replied int
		for _, e := range entries {
			switch e.Type {
			case models.ActivityCommentAdded:
				added++
			case models.ActivityCommentReplied:
				replied++
			}
		}
		if added != 1 || replied != 2 {
			t.Errorf("Expected 1 added and 2 replied, got %d and %d", added, replied)
		}
	})

	t.Run("Threaded listing", func(t *testing.T) {
		rr := doRequest(t, app, "GET", path+"?threaded=true", nil)
		var tree []models.ThreadedComment
		decodeBody(t, rr, &tree)
		if len(tree) != 1 || len(tree[0].Replies) != 1 || len(tree[0].Replies[0].Replies) != 1 {
			t.Fatalf("Unexpected tree shape: %s", rr.Body.String())
		}
		if tree[0].Replies[0].Replies[0].ID != nested.ID {
			t.Errorf("Expected nested reply at depth 2")
		}
	})
}

func TestDeleteComment(t *testing.T) {
	app := setupTestApp(t)
	admin := sessionCookie(t, app, app.admin)
	user := sessionCookie(t, app, app.user)
	poem := createPoem(t, app, "Erasure", true)
	path := "/api/poems/" + poem.ID + "/comments"

	rr := doRequest(t, app, "POST", path, map[string]string{"content": "parent"}, user)
	var parent models.Comment
	decodeBody(t, rr, &parent)
	rr = doRequest(t, app, "POST", path, map[string]string{"content": "child", "parentId": parent.ID}, user)
	var child models.Comment
	decodeBody(t, rr, &child)

	if rr := doRequest(t, app, "DELETE", "/api/admin/comments/"+child.ID, nil, user); rr.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin delete, got %d", rr.Code)
	}
	if rr := doRequest(t, app, "DELETE", "/api/admin/comments/missing", nil, admin); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing comment, got %d", rr.Code)
	}

	for i := 0; i < 2; i++ {
		rr := doRequest(t, app, "DELETE", "/api/admin/comments/"+parent.ID, nil, admin)
		if rr.Code != http.StatusOK {
			t.Fatalf("Delete %d: expected 200, got %d: %s", i, rr.Code, rr.Body.String())
		}
	}

	p, _ := app.db.GetPoem(t.Context(), poem.ID)
	if p.CommentCount != 1 {
		t.Errorf("Expected commentCount 1 after idempotent delete, got %d", p.CommentCount)
	}

	rr = doRequest(t, app, "GET", path, nil)
	var listed []models.Comment
	decodeBody(t, rr, &listed)
	if len(listed) != 2 {
		t.Fatalf("Expected deleted comment to stay listed, got %d comments", len(listed))
	}
	if !listed[0].IsDeleted || listed[0].Content != "" {
		t.Errorf("Expected deleted comment to be blanked, got %+v", listed[0])
	}
	if listed[1].IsDeleted || listed[1].Depth != 1 || listed[1].ThreadPath != parent.ID {
		t.Errorf("Reply should be untouched, got %+v", listed[1])
	}

	app.recorder.Flush()
	entries, _ := app.db.ListActivity(t.Context(), 10, database.ActivityComments)
	var deletions []models.Activity
	for _, e := range entries {
		if e.Type == models.ActivityCommentDeleted {
			deletions = append(deletions, e)
		}
	}
	if len(deletions) != 1 {
		t.Fatalf("Expected exactly one comment_deleted entry, got %d", len(deletions))
	}
	if deletions[0].Metadata["originalAuthor"] != "reader" || deletions[0].Metadata["title"] != "Erasure" {
		t.Errorf("Unexpected deletion metadata: %v", deletions[0].Metadata)
	}
}

func TestReportComment(t *testing.T) {
	app := setupTestApp(t)
	admin := sessionCookie(t, app, app.admin)
	user := sessionCookie(t, app, app.user)
	poem := createPoem(t, app, "Contested", true)

	rr := doRequest(t, app, "POST", "/api/poems/"+poem.ID+"/comments", map[string]string{"content": "rude"}, user)
	var c models.Comment
	decodeBody(t, rr, &c)

	if rr := doRequest(t, app, "POST", "/api/comments/"+c.ID+"/report", map[string]string{"reason": " "}, visitorCookie("sid-r")); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty reason, got %d", rr.Code)
	}
	if rr := doRequest(t, app, "POST", "/api/comments/missing/report", map[string]string{"reason": "spam"}, visitorCookie("sid-r")); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing comment, got %d", rr.Code)
	}

	rr = doRequest(t, app, "POST", "/api/comments/"+c.ID+"/report", map[string]string{"reason": "spam", "description": "ads"}, visitorCookie("sid-r"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var report models.CommentReport
	decodeBody(t, rr, &report)
	if report.Status != models.ReportPending {
		t.Errorf("Expected pending report, got %q", report.Status)
	}

	flagged, _ := app.db.GetComment(t.Context(), c.ID)
	if !flagged.IsReported || flagged.ReportCount != 1 {
		t.Errorf("Expected comment flagged, got reported=%v count=%d", flagged.IsReported, flagged.ReportCount)
	}

	app.recorder.Flush()
	entries, _ := app.db.ListActivity(t.Context(), 10, database.ActivityReports)
	if len(entries) != 1 || entries[0].Metadata["excerpt"] != "rude" || entries[0].Metadata["reason"] != "spam" {
		t.Errorf("Expected one comment_reported entry with excerpt, got %+v", entries)
	}

	rr = doRequest(t, app, "GET", "/api/admin/reports?status=pending", nil, admin)
	var pending []models.CommentReport
	decodeBody(t, rr, &pending)
	if len(pending) != 1 {
		t.Fatalf("Expected one pending report, got %d", len(pending))
	}

	if rr := doRequest(t, app, "PATCH", "/api/admin/reports/"+report.ID, map[string]string{"status": "pending"}, admin); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for resolving to pending, got %d", rr.Code)
	}
	if rr := doRequest(t, app, "PATCH", "/api/admin/reports/"+report.ID, map[string]string{"status": "dismissed"}, admin); rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rr.Code)
	}
	rr = doRequest(t, app, "GET", "/api/admin/reports?status=pending", nil, admin)
	decodeBody(t, rr, &pending)
	if len(pending) != 0 {
		t.Errorf("Expected no pending reports after dismissal, got %d", len(pending))
	}
}

func TestCommentLikes(t *testing.T) {
	app := setupTestApp(t)
	user := sessionCookie(t, app, app.user)
	poem := createPoem(t, app, "Applause", true)

	rr := doRequest(t, app, "POST", "/api/poems/"+poem.ID+"/comments", map[string]string{"content": "bravo"}, user)
	var c models.Comment
	decodeBody(t, rr, &c)
	likePath := "/api/comments/" + c.ID + "/like"

	var resp struct {
		Liked     bool `json:"liked"`
		LikeCount int  `json:"likeCount"`
	}
	doRequest(t, app, "POST", likePath, nil, user)
	rr = doRequest(t, app, "POST", likePath, nil, user)
	decodeBody(t, rr, &resp)
	if resp.LikeCount != 1 {
		t.Errorf("Expected one like per user, got %d", resp.LikeCount)
	}

	rr = doRequest(t, app, "POST", likePath, nil, visitorCookie("sid-fan"))
	decodeBody(t, rr, &resp)
	if resp.LikeCount != 2 {
		t.Errorf("Expected anonymous session like to count, got %d", resp.LikeCount)
	}

	rr = doRequest(t, app, "GET", likePath, nil, user)
	decodeBody(t, rr, &resp)
	if !resp.Liked {
		t.Error("Expected liked status for user")
	}

	rr = doRequest(t, app, "DELETE", likePath, nil, user)
	decodeBody(t, rr, &resp)
	if resp.Liked || resp.LikeCount != 1 {
		t.Errorf("Expected unlike to drop count to 1, got %+v", resp)
	}

	app.recorder.Flush()
	entries, _ := app.db.ListActivity(t.Context(), 10, database.ActivityComments)
	var likes int
	for _, e := range entries {
		if e.Type == models.ActivityCommentLiked {
			likes++
		}
	}
	if likes != 1 {
		t.Errorf("Expected one comment_liked entry (authenticated only), got %d", likes)
	}
}

func TestBotCheckFlow(t *testing.T) {
	app := setupTestApp(t)
	sid := visitorCookie("sid-bot")

	if rr := doRequest(t, app, "POST", "/api/botcheck/verify", map[string]string{"answer": "2"}, sid); rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 with no challenge, got %d", rr.Code)
	}

	rr := doRequest(t, app, "POST", "/api/botcheck", nil, sid)
	var ch models.Challenge
	decodeBody(t, rr, &ch)
	if ch.Type != models.ChallengeSimpleMath || !strings.HasSuffix(ch.Question, "= ?") {
		t.Fatalf("Unexpected challenge: %+v", ch)
	}
	if d := time.Until(ch.ExpiresAt); d < 9*time.Minute || d > 11*time.Minute {
		t.Errorf("Expected ~10 minute expiry, got %v", d)
	}
	if strings.Contains(rr.Body.String(), "solution") {
		t.Error("Challenge response must not carry the solution")
	}

	var res models.BotCheckResult
	rr = doRequest(t, app, "POST", "/api/botcheck/verify", map[string]string{"answer": "-1"}, sid)
	decodeBody(t, rr, &res)
	if rr.Code != http.StatusBadRequest || res.Outcome != models.BotCheckRetry {
		t.Errorf("Expected retry, got %d %+v", rr.Code, res)
	}

	rr = doRequest(t, app, "POST", "/api/botcheck/verify", map[string]string{"answer": "-1"}, sid)
	decodeBody(t, rr, &res)
	if res.Outcome != models.BotCheckReissued || res.Challenge == nil {
		t.Fatalf("Expected a reissued challenge, got %+v", res)
	}

	rr = doRequest(t, app, "POST", "/api/botcheck/verify", map[string]string{"answer": answerFor(res.Challenge.Question)}, sid)
	decodeBody(t, rr, &res)
	if rr.Code != http.StatusOK || !res.Passed {
		t.Errorf("Expected pass on the reissued challenge, got %d %+v", rr.Code, res)
	}
}
