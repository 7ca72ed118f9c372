package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"bluetry/config"
	"bluetry/database"
	"bluetry/models"
	"bluetry/utils"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// HandleActivity serves the admin activity feed, newest first.
func HandleActivity(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleActivity")
	limit := queryInt(r, "limit", config.DefaultActivityLimit)
	if limit < 1 {
		limit = config.DefaultActivityLimit
	}
	if limit > config.MaxActivityLimit {
		limit = config.MaxActivityLimit
	}
	filter := database.ActivityFilter(r.URL.Query().Get("filter"))
	switch filter {
	case "":
		filter = database.ActivityAll
	case database.ActivityAll, database.ActivityComments, database.ActivityPoems, database.ActivityReports:
	default:
		respondMessage(w, http.StatusBadRequest, "Unknown activity filter.", app)
		return
	}

	entries, err := app.DB().ListActivity(r.Context(), limit, filter)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if entries == nil {
		entries = []models.Activity{}
	}
	respondJSON(w, http.StatusOK, entries, app)
}

// HandleStats loads the dashboard totals concurrently.
func HandleStats(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleStats")
	var (
		poems       []models.Poem
		subscribers []models.EmailSubscriber
		stats       models.DashboardStats
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		poems, err = app.DB().ListAllPoems(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		subscribers, err = app.DB().ListSubscribers(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		stats.CommentActivities, err = app.DB().CountActivity(ctx, database.ActivityComments)
		return err
	})
	g.Go(func() error {
		var err error
		stats.ReportedComments, err = app.DB().CountReportedComments(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		respondError(w, err, app, logger)
		return
	}

	stats.TotalPoems = len(poems)
	for _, p := range poems {
		if p.Published {
			stats.PublishedPoems++
		}
		if p.Pinned {
			stats.PinnedPoems++
		}
		stats.TotalLikes += p.LikeCount
	}
	stats.TotalSubscribers = len(subscribers)
	for _, s := range subscribers {
		if s.Subscribed {
			stats.ActiveSubscribers++
		}
	}
	respondJSON(w, http.StatusOK, stats, app)
}

// HandleUploadMedia accepts an image for embedding in poem HTML.
func HandleUploadMedia(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUploadMedia")
	if err := r.ParseMultipartForm(config.MaxFileSize + 1024); err != nil {
		logger.Warn("Form parsing error", "error", err)
		respondMessage(w, http.StatusBadRequest, "Form parsing error: "+err.Error(), app)
		return
	}
	imageURL, thumbURL, err := processImage(r, app, logger)
	if err != nil {
		logger.Warn("Image processing failed", "error", err)
		respondMessage(w, http.StatusBadRequest, "Image processing failed: "+err.Error(), app)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"url": imageURL, "thumbnailUrl": thumbURL}, app)
}

var allowedImageTypes = map[string]bool{
	"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true,
}

// processImage validates, re-encodes and stores an uploaded image plus a
// thumbnail. A thumbnail failure is logged and leaves thumbURL empty.
func processImage(r *http.Request, app App, logger *slog.Logger) (imageURL, thumbURL string, err error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		if err == http.ErrMissingFile {
			return "", "", fmt.Errorf("no image provided")
		}
		return "", "", fmt.Errorf("could not get form file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Error("Failed to close upload file", "error", err)
		}
	}()

	limitedReader := &io.LimitedReader{R: file, N: config.MaxFileSize + 1}
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return "", "", fmt.Errorf("could not read file data: %w", err)
	}
	if limitedReader.N == 0 {
		return "", "", fmt.Errorf("file is larger than the %dMB limit", config.MaxFileSize/1024/1024)
	}
	if len(data) == 0 {
		return "", "", fmt.Errorf("file is empty")
	}

	contentType := http.DetectContentType(data)
	if !allowedImageTypes[contentType] {
		logger.Warn("Upload with invalid MIME type", "detected_type", contentType, "filename", header.Filename)
		return "", "", fmt.Errorf("unsupported file type: %s. Only JPG, PNG, GIF, and WebP are allowed", contentType)
	}

	reader := bytes.NewReader(data)
	cfg, format, err := image.DecodeConfig(reader)
	if err != nil {
		return "", "", fmt.Errorf("invalid image format, could not decode config: %w", err)
	}
	if cfg.Width > config.MaxWidth || cfg.Height > config.MaxHeight {
		return "", "", fmt.Errorf("image dimensions (%dx%d) exceed maximum (%dx%d)", cfg.Width, cfg.Height, config.MaxWidth, config.MaxHeight)
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("could not reset reader position: %w", err)
	}
	img, err := imaging.Decode(reader, imaging.AutoOrientation(true))
	if err != nil {
		return "", "", fmt.Errorf("failed to decode image: %w", err)
	}

	hash := sha256.Sum256(data)
	base := fmt.Sprintf("%d_%s", utils.GetTime().UnixNano(), hex.EncodeToString(hash[:])[:12])

	// PNG stays PNG; everything else becomes JPEG.
	var buf bytes.Buffer
	mainName, mainType := base+".jpeg", "image/jpeg"
	if format == "png" {
		mainName, mainType = base+".png", "image/png"
		err = imaging.Encode(&buf, img, imaging.PNG)
	} else {
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90))
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to encode image: %w", err)
	}
	imageURL, err = app.Storage().SaveFile(r.Context(), mainName, buf.Bytes(), mainType)
	if err != nil {
		return "", "", fmt.Errorf("failed to store image: %w", err)
	}

	thumb := imaging.Fit(img, config.ThumbnailWidth, config.ThumbnailHeight, imaging.Lanczos)
	var thumbBuf bytes.Buffer
	if err := imaging.Encode(&thumbBuf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		logger.Error("Failed to encode thumbnail", "error", err)
		return imageURL, "", nil
	}
	thumbURL, err = app.Storage().SaveFile(r.Context(), base+"_thumb.jpeg", thumbBuf.Bytes(), "image/jpeg")
	if err != nil {
		logger.Error("Failed to store thumbnail", "error", err)
		return imageURL, "", nil
	}
	return imageURL, thumbURL, nil
}

type deleteMediaRequest struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// ownedMediaURL reports whether url names a flat media object in the
// configured storage. Nested keys are never editor media.
func ownedMediaURL(app App, url string) bool {
	prefix := "/uploads/"
	if s3Store, ok := app.Storage().(*utils.S3Storage); ok {
		if s3Store.PublicURL == "" {
			return false
		}
		prefix = s3Store.PublicURL + "/"
	}
	key, ok := strings.CutPrefix(url, prefix)
	return ok && key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`)
}

// HandleDeleteMedia removes an uploaded image and its thumbnail.
func HandleDeleteMedia(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteMedia")
	var req deleteMediaRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if !ownedMediaURL(app, req.URL) || (req.ThumbnailURL != "" && !ownedMediaURL(app, req.ThumbnailURL)) {
		respondMessage(w, http.StatusBadRequest, "Not a media URL of this site.", app)
		return
	}
	for _, u := range []string{req.URL, req.ThumbnailURL} {
		if u == "" {
			continue
		}
		if err := app.Storage().DeleteFile(r.Context(), u); err != nil {
			respondError(w, err, app, logger)
			return
		}
	}
	logger.Info("Media deleted", "url", req.URL)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true}, app)
}

// HandleDatabaseBackup writes a VACUUM INTO snapshot to the local backup
// directory. Snapshots hold credentials and addresses, so they never go to
// the media storage.
func HandleDatabaseBackup(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDatabaseBackup")
	backupPath, err := app.DB().BackupDatabase(r.Context())
	if err != nil {
		logger.Error("Database backup failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Database backup failed.", app)
		return
	}
	logger.Info("Database backup completed", "path", backupPath, "admin", currentUser(r).UID)
	respondJSON(w, http.StatusOK, map[string]string{"path": backupPath}, app)
}
