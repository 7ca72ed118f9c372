package handlers

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bluetry/models"
	"bluetry/utils"
)

func TestStats(t *testing.T) {
	app := setupTestApp(t)
	admin := sessionCookie(t, app, app.admin)
	user := sessionCookie(t, app, app.user)

	pinned := createPoem(t, app, "Pinned", true)
	createPoem(t, app, "Plain", true)
	createPoem(t, app, "Draft", false)
	doRequest(t, app, "POST", "/api/admin/poems/"+pinned.ID+"/pin", map[string]bool{"pinned": true}, admin)
	doRequest(t, app, "POST", "/api/poems/"+pinned.ID+"/like", nil, visitorCookie("sid-a"))
	doRequest(t, app, "POST", "/api/poems/"+pinned.ID+"/like", nil, visitorCookie("sid-b"))

	rr := doRequest(t, app, "POST", "/api/poems/"+pinned.ID+"/comments", map[string]string{"content": "hmm"}, user)
	var c models.Comment
	decodeBody(t, rr, &c)
	doRequest(t, app, "POST", "/api/comments/"+c.ID+"/report", map[string]string{"reason": "spam"}, user)

	app.db.AddSubscriber(t.Context(), "a@example.com")
	app.db.AddSubscriber(t.Context(), "b@example.com")
	app.db.Unsubscribe(t.Context(), "b@example.com")
	app.recorder.Flush()

	rr = doRequest(t, app, "GET", "/api/admin/stats", nil, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var stats models.DashboardStats
	decodeBody(t, rr, &stats)
	want := models.DashboardStats{
		TotalPoems: 3, PublishedPoems: 2, PinnedPoems: 1, TotalLikes: 2,
		CommentActivities: 1, ReportedComments: 1, ActiveSubscribers: 1, TotalSubscribers: 2,
	}
	if stats != want {
		t.Errorf("Expected %+v, got %+v", want, stats)
	}
}

func TestActivityFeed(t *testing.T) {
	app := setupTestApp(t)
	admin := sessionCookie(t, app, app.admin)
	poem := createPoem(t, app, "Logged", true)
	doRequest(t, app, "POST", "/api/poems/"+poem.ID+"/like", nil, sessionCookie(t, app, app.user))
	doRequest(t, app, "POST", "/api/subscribers", map[string]string{"email": "feed@example.com"})
	app.recorder.Flush()

	tests := []struct {
		query string
		want  int
		code  int
	}{
		{"", 3, http.StatusOK},
		{"?filter=poems", 2, http.StatusOK},
		{"?filter=comments", 0, http.StatusOK},
		{"?limit=1", 1, http.StatusOK},
		{"?filter=bogus", 0, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run("query"+tc.query, func(t *testing.T) {
			rr := doRequest(t, app, "GET", "/api/admin/activity"+tc.query, nil, admin)
			if rr.Code != tc.code {
				t.Fatalf("Expected %d, got %d", tc.code, rr.Code)
			}
			if tc.code != http.StatusOK {
				return
			}
			var entries []models.Activity
			decodeBody(t, rr, &entries)
			if len(entries) != tc.want {
				t.Errorf("Expected %d entries, got %d", tc.want, len(entries))
			}
		})
	}

	rr := doRequest(t, app, "GET", "/api/admin/activity?limit=1", nil, admin)
	var newest []models.Activity
	decodeBody(t, rr, &newest)
	if len(newest) == 1 && newest[0].Type != models.ActivitySubscriberJoined {
		t.Errorf("Expected newest entry first, got %s", newest[0].Type)
	}
}

func multipartImage(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	part.Write(data)
	writer.Close()
	return body, writer.FormDataContentType()
}

func TestUploadMedia(t *testing.T) {
	app := setupTestApp(t)
	admin := sessionCookie(t, app, app.admin)

	img := image.NewRGBA(image.Rect(0, 0, 800, 600))
	for x := 0; x < 800; x++ {
		img.Set(x, x%600, color.RGBA{R: 200, A: 255})
	}
	var pngData bytes.Buffer
	if err := png.Encode(&pngData, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}

	t.Run("Valid PNG", func(t *testing.T) {
		body, contentType := multipartImage(t, "image", "sketch.png", pngData.Bytes())
		req := httptest.NewRequest("POST", "/api/admin/media", body)
		req.Header.Set("Content-Type", contentType)
		req.AddCookie(admin)
		rr := httptest.NewRecorder()
		SetupRouter(app).ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]string
		decodeBody(t, rr, &resp)
		if !strings.HasPrefix(resp["url"], "/uploads/") || !strings.HasSuffix(resp["url"], ".png") {
			t.Errorf("Unexpected url %q", resp["url"])
		}
		if !strings.HasSuffix(resp["thumbnailUrl"], "_thumb.jpeg") {
			t.Errorf("Unexpected thumbnail url %q", resp["thumbnailUrl"])
		}
		stored := filepath.Join(app.settings.UploadDir, filepath.Base(resp["url"]))
		if _, err := os.Stat(stored); err != nil {
			t.Errorf("Expected stored file: %v", err)
		}

		if rr := doRequest(t, app, "DELETE", "/api/admin/media", map[string]string{"url": "/etc/passwd"}, admin); rr.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for a foreign path, got %d", rr.Code)
		}
		rr = doRequest(t, app, "DELETE", "/api/admin/media", resp, admin)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if _, err := os.Stat(stored); !os.IsNotExist(err) {
			t.Errorf("Expected image removed, stat err %v", err)
		}
		thumb := filepath.Join(app.settings.UploadDir, filepath.Base(resp["thumbnailUrl"]))
		if _, err := os.Stat(thumb); !os.IsNotExist(err) {
			t.Errorf("Expected thumbnail removed, stat err %v", err)
		}
	})

	t.Run("Rejects non-images", func(t *testing.T) {
		body, contentType := multipartImage(t, "image", "notes.txt", []byte("just some text, not an image"))
		req := httptest.NewRequest("POST", "/api/admin/media", body)
		req.Header.Set("Content-Type", contentType)
		req.AddCookie(admin)
		rr := httptest.NewRecorder()
		SetupRouter(app).ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rr.Code)
		}
	})
}

func TestDatabaseBackupEndpoint(t *testing.T) {
	app := setupTestApp(t)
	rr := doRequest(t, app, "POST", "/api/admin/backup", nil, sessionCookie(t, app, app.admin))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)
	if _, err := os.Stat(resp["path"]); err != nil {
		t.Errorf("Expected backup file at %q: %v", resp["path"], err)
	}
	if len(resp) != 1 {
		t.Errorf("Expected only the local path in the response, got %v", resp)
	}
	if filepath.Dir(resp["path"]) != app.settings.BackupDir {
		t.Errorf("Expected the snapshot under %s, got %s", app.settings.BackupDir, resp["path"])
	}
}

func TestOwnedMediaURL(t *testing.T) {
	app := setupTestApp(t)
	local := []struct {
		url  string
		want bool
	}{
		{"/uploads/123_abc.png", true},
		{"/uploads/backups/bluetry_backup.db", false},
		{"/uploads/../bluetry.db", false},
		{"/uploads/", false},
		{"/etc/passwd", false},
	}
	for _, tc := range local {
		if got := ownedMediaURL(app, tc.url); got != tc.want {
			t.Errorf("local %q: expected %v, got %v", tc.url, tc.want, got)
		}
	}

	app.storage = &utils.S3Storage{BucketName: "media", PublicURL: "https://cdn.example.com"}
	remote := []struct {
		url  string
		want bool
	}{
		{"https://cdn.example.com/123_abc.jpeg", true},
		{"https://cdn.example.com/backups/bluetry_backup_1.db", false},
		{"https://cdn.example.com.evil.test/x.png", false},
		{"/uploads/123_abc.png", false},
	}
	for _, tc := range remote {
		if got := ownedMediaURL(app, tc.url); got != tc.want {
			t.Errorf("s3 %q: expected %v, got %v", tc.url, tc.want, got)
		}
	}
}

func TestPrefs(t *testing.T) {
	app := setupTestApp(t)
	poem := createPoem(t, app, "Favourite", true)
	visitor := visitorCookie("sid-prefs")

	rr := doRequest(t, app, "GET", "/api/prefs", nil, visitor)
	var state models.UIState
	decodeBody(t, rr, &state)
	if state.Theme != "system" || state.CurrentPage != 1 || len(state.LikedPoems) != 0 {
		t.Errorf("Unexpected defaults: %+v", state)
	}

	if rr := doRequest(t, app, "PUT", "/api/prefs", map[string]interface{}{"theme": "neon"}, visitor); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown theme, got %d", rr.Code)
	}

	rr = doRequest(t, app, "PUT", "/api/prefs", map[string]interface{}{"theme": "dark", "sidebarOpen": true, "currentPage": 3}, visitor)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var prefs *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == prefsCookie {
			prefs = c
		}
	}
	if prefs == nil {
		t.Fatal("Expected a preferences cookie")
	}

	doRequest(t, app, "POST", "/api/poems/"+poem.ID+"/like", nil, visitor)
	rr = doRequest(t, app, "GET", "/api/prefs", nil, visitor, prefs)
	decodeBody(t, rr, &state)
	if state.Theme != "dark" || !state.SidebarOpen || state.CurrentPage != 3 {
		t.Errorf("Expected stored preferences, got %+v", state)
	}
	if len(state.LikedPoems) != 1 || state.LikedPoems[0] != poem.ID {
		t.Errorf("Expected liked poems from the store, got %v", state.LikedPoems)
	}

	// A tampered cookie falls back to defaults.
	rr = doRequest(t, app, "GET", "/api/prefs", nil, &http.Cookie{Name: prefsCookie, Value: "%%%"})
	decodeBody(t, rr, &state)
	if state.Theme != "system" {
		t.Errorf("Expected defaults for a damaged cookie, got %+v", state)
	}
}

func TestStatus(t *testing.T) {
	app := setupTestApp(t)
	rr := doRequest(t, app, "GET", "/api/status", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"database":"ok"`) {
		t.Errorf("Expected healthy status, got %d: %s", rr.Code, rr.Body.String())
	}
}
