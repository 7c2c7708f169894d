package api

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"filevault/internal/models"
	"filevault/internal/service/enrich"
	"filevault/internal/service/search"
	"filevault/internal/service/vault"
)

// maxUploadBytes bounds one multipart upload; the per-owner quota is enforced
// separately by the vault.
const maxUploadBytes = 50 << 20 // 50 MB

// defaultBacklogLimit bounds one catch-up pass over unprocessed files.
const defaultBacklogLimit = 50

// Enqueuer schedules background enrichment for a newly stored file.
type Enqueuer interface {
	Enqueue(ownerID, fileID string)
}

// Handler wires HTTP routes to the vault, enrichment and search services.
type Handler struct {
	vault    *vault.Service
	pipeline *enrich.Pipeline
	search   *search.Service
	queue    Enqueuer
}

// NewHandler constructs a Handler instance. queue may be nil; uploads then
// rely on the sweep to pick files up.
func NewHandler(v *vault.Service, pipeline *enrich.Pipeline, searchSvc *search.Service, queue Enqueuer) *Handler {
	return &Handler{vault: v, pipeline: pipeline, search: searchSvc, queue: queue}
}

// ownerID extracts the caller's identity from the UserId header. Identity is
// established upstream (gateway or reverse proxy); the service trusts the
// header and scopes every operation to it.
func (h *Handler) ownerID(c *gin.Context) (string, bool) {
	owner := strings.TrimSpace(c.GetHeader("UserId"))
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UserId header required"})
		return "", false
	}
	return owner, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	files := api.Group("/files")
	files.POST("", h.uploadFile)
	files.GET("", h.listFiles)
	files.GET("/search", h.searchFiles)
	files.GET("/storage_stats", h.storageStats)
	files.GET("/categories", h.listCategories)
	files.GET("/tags", h.listTags)
	files.GET("/media_types", h.listMediaTypes)
	files.GET("/:id", h.getFile)
	files.GET("/:id/download", h.downloadFile)
	files.POST("/process_backlog", h.processBacklog)
	files.POST("/:id/reprocess", h.reprocessFile)
	files.DELETE("/:id", h.deleteFile)
}

func (h *Handler) uploadFile(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer src.Close()

	filename := filepath.Base(fileHeader.Filename)
	mediaType := detectMediaType(fileHeader.Header.Get("Content-Type"), filename, src)

	stored, newBlob, err := h.vault.SaveFile(c.Request.Context(), owner, src, mediaType, filename)
	if err != nil {
		if errors.Is(err, vault.ErrQuotaExceeded) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "storage quota exceeded"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// references inherit metadata at creation; only fresh blobs need analysis
	if h.queue != nil && stored.State == models.StateUnprocessed {
		h.queue.Enqueue(owner, stored.ID)
	}

	c.JSON(http.StatusCreated, gin.H{
		"file":         stored,
		"deduplicated": !newBlob,
	})
}

func (h *Handler) listFiles(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	filter, err := parseListFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	files, err := h.vault.ListFiles(c.Request.Context(), owner, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"files": files,
		"count": len(files),
	})
}

func (h *Handler) getFile(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	f, err := h.vault.GetFile(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		h.fileError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": f})
}

func (h *Handler) downloadFile(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	blob, f, err := h.vault.OpenBlob(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		h.fileError(c, err)
		return
	}
	defer blob.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.OriginalFilename))
	c.Header("Content-Length", strconv.FormatInt(f.Size, 10))
	c.DataFromReader(http.StatusOK, f.Size, f.MediaType, blob, nil)
}

func (h *Handler) deleteFile(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	if err := h.vault.DeleteFile(c.Request.Context(), owner, c.Param("id")); err != nil {
		if errors.Is(err, vault.ErrFileReferenced) {
			c.JSON(http.StatusConflict, gin.H{"error": "file is referenced by other uploads"})
			return
		}
		h.fileError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) reprocessFile(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	fileID := c.Param("id")
	if err := h.pipeline.Reprocess(c.Request.Context(), owner, fileID); err != nil {
		h.fileError(c, err)
		return
	}
	f, err := h.vault.GetFile(c.Request.Context(), owner, fileID)
	if err != nil {
		h.fileError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": f})
}

// processBacklog enriches the caller's unprocessed files inline. It catches
// up files uploaded while enrichment was unconfigured or the queue was down.
func (h *Handler) processBacklog(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	limit := defaultBacklogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	n, err := h.pipeline.ProcessBacklog(c.Request.Context(), owner, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": n})
}

func (h *Handler) searchFiles(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	query := c.Query("q")
	results, err := h.search.Search(c.Request.Context(), owner, query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

func (h *Handler) storageStats(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	stats, err := h.vault.GetStats(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":              stats,
		"storage_savings":    stats.StorageSavings(),
		"savings_percentage": stats.SavingsPercentage(),
	})
}

func (h *Handler) listCategories(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	categories, err := h.vault.DistinctCategories(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (h *Handler) listTags(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	tags, err := h.vault.DistinctTags(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

func (h *Handler) listMediaTypes(c *gin.Context) {
	owner, ok := h.ownerID(c)
	if !ok {
		return
	}
	types, err := h.vault.DistinctMediaTypes(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"media_types": types})
}

// fileError maps service errors to HTTP statuses.
func (h *Handler) fileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, vault.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not your file"})
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseListFilter(c *gin.Context) (vault.ListFilter, error) {
	filter := vault.ListFilter{
		Search:    strings.TrimSpace(c.Query("search")),
		MediaType: c.Query("media_type"),
		Category:  c.Query("category"),
		Tag:       c.Query("tag"),
	}
	var err error
	if filter.MinSize, err = parseInt64(c.Query("min_size")); err != nil {
		return filter, fmt.Errorf("invalid min_size")
	}
	if filter.MaxSize, err = parseInt64(c.Query("max_size")); err != nil {
		return filter, fmt.Errorf("invalid max_size")
	}
	if filter.From, err = parseDate(c.Query("from")); err != nil {
		return filter, fmt.Errorf("invalid from date, expected YYYY-MM-DD")
	}
	if filter.To, err = parseDate(c.Query("to")); err != nil {
		return filter, fmt.Errorf("invalid to date, expected YYYY-MM-DD")
	}
	filter.ProcessedOnly = c.Query("processed") == "true"
	return filter, nil
}

func parseInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// detectMediaType prefers the declared Content-Type, falls back to the
// filename extension, then to content sniffing. The reader is rewound after
// sniffing.
func detectMediaType(declared, filename string, src io.ReadSeeker) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	buf := make([]byte, 512)
	n, _ := src.Read(buf)
	_, _ = src.Seek(0, io.SeekStart)
	return http.DetectContentType(buf[:n])
}
