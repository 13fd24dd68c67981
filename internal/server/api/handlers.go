package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"coffer/internal/core"
	"coffer/internal/server/audit"
	"coffer/internal/server/database"
	"coffer/internal/server/service"
)

// Handler contains the HTTP handlers for the Coffer API.
type Handler struct {
	files  *service.FileService
	shares *service.ShareService
	auth   *service.AuthService
	audits *service.AuditQueryService
	db     *database.DB
	base   string
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(files *service.FileService, shares *service.ShareService, auth *service.AuthService, audits *service.AuditQueryService, db *database.DB, baseURL string) *Handler {
	return &Handler{files: files, shares: shares, auth: auth, audits: audits, db: db, base: baseURL}
}

type fileResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	OriginalSize *int64    `json:"original_size,omitempty"`
	Compressed   bool      `json:"compressed"`
	CreatedAt    time.Time `json:"created_at"`
}

type shareResponse struct {
	ID         string     `json:"id"`
	FileID     string     `json:"file_id"`
	Kind       string     `json:"kind"`
	TargetID   *string    `json:"target_id,omitempty"`
	URL        string     `json:"url,omitempty"`
	Permission string     `json:"permission"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
}

type auditResponse struct {
	ID         int64     `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	FileID     *string   `json:"file_id,omitempty"`
	ShareID    *string   `json:"share_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (h *Handler) fileJSON(f *database.File) fileResponse {
	return fileResponse{
		ID:           f.ID,
		Name:         f.Name,
		ContentType:  f.ContentType,
		Size:         f.Size,
		OriginalSize: f.OriginalSize,
		Compressed:   f.Compressed,
		CreatedAt:    f.CreatedAt,
	}
}

func (h *Handler) shareJSON(s *database.Share) shareResponse {
	resp := shareResponse{
		ID:         s.ID,
		FileID:     s.FileID,
		Kind:       s.Kind,
		TargetID:   s.TargetID,
		Permission: s.Permission,
		ExpiresAt:  s.ExpiresAt,
		Active:     s.Active,
		CreatedAt:  s.CreatedAt,
	}
	if s.LinkToken != nil {
		resp.URL = fmt.Sprintf("%s/s/%s", h.base, *s.LinkToken)
	}
	return resp
}

func auditJSON(e *database.AuditEntry) auditResponse {
	return auditResponse{
		ID:         e.ID,
		Actor:      e.ActorID,
		Action:     e.Action,
		FileID:     e.FileID,
		ShareID:    e.ShareID,
		Detail:     e.Detail,
		IP:         e.IP,
		UserAgent:  e.UserAgent,
		RecordedAt: e.RecordedAt,
	}
}

func origin(c echo.Context) audit.Origin {
	return audit.Origin{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

// HandleRegister handles POST /api/auth/register.
func (h *Handler) HandleRegister(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	p, err := h.auth.Register(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"id":       p.ID,
		"username": p.Username,
	})
}

// HandleLogin handles POST /api/auth/login.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	token, err := h.auth.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"token": token})
}

// HandleUpload handles POST /api/files.
// Accepts a multipart form with a "file" field.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	file, err := h.files.Upload(
		c.Request().Context(),
		principalID(c),
		fileHeader.Filename,
		contentType,
		src,
		origin(c),
	)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, h.fileJSON(file))
}

// HandleListFiles handles GET /api/files.
func (h *Handler) HandleListFiles(c echo.Context) error {
	limit, offset := pageParams(c)

	files, err := h.files.ListByOwner(c.Request().Context(), principalID(c), limit, offset)
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, h.fileJSON(f))
	}
	return c.JSON(http.StatusOK, echo.Map{"files": out})
}

// HandleGetFile handles GET /api/files/:id.
func (h *Handler) HandleGetFile(c echo.Context) error {
	file, err := h.files.Get(c.Request().Context(), principalID(c), c.Param("id"), origin(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, h.fileJSON(file))
}

// HandleDownload handles GET /api/files/:id/download.
// Serves the file's original representation as an attachment.
func (h *Handler) HandleDownload(c echo.Context) error {
	rc, file, err := h.files.Download(c.Request().Context(), principalID(c), c.Param("id"), origin(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Name))
	return c.Stream(http.StatusOK, file.ContentType, rc)
}

// HandleDeleteFile handles DELETE /api/files/:id.
func (h *Handler) HandleDeleteFile(c echo.Context) error {
	if err := h.files.Delete(c.Request().Context(), principalID(c), c.Param("id"), origin(c)); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "file deleted"})
}

type grantRequest struct {
	TargetID   string     `json:"target_id"`
	Permission *string    `json:"permission"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

func (r *grantRequest) options() (service.GrantOptions, error) {
	opts := service.GrantOptions{ExpiresAt: r.ExpiresAt}
	if r.Permission != nil {
		perm, err := core.ParsePermission(*r.Permission)
		if err != nil {
			return opts, err
		}
		opts.Permission = &perm
	}
	return opts, nil
}

// HandleGrantUser handles POST /api/files/:id/shares.
// Granting to the same target again updates the existing share in place.
func (h *Handler) HandleGrantUser(c echo.Context) error {
	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.TargetID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "target_id is required"})
	}
	opts, err := req.options()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	share, err := h.shares.GrantToUser(c.Request().Context(), principalID(c), c.Param("id"), req.TargetID, opts, origin(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, h.shareJSON(share))
}

// HandleGrantLink handles POST /api/files/:id/links.
// Every call mints a distinct link; links are never deduplicated.
func (h *Handler) HandleGrantLink(c echo.Context) error {
	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	opts, err := req.options()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	share, err := h.shares.GrantViaLink(c.Request().Context(), principalID(c), c.Param("id"), opts, origin(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, h.shareJSON(share))
}

// HandleListShares handles GET /api/files/:id/shares.
func (h *Handler) HandleListShares(c echo.Context) error {
	shares, err := h.shares.ListForFile(c.Request().Context(), principalID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]shareResponse, 0, len(shares))
	for _, s := range shares {
		out = append(out, h.shareJSON(s))
	}
	return c.JSON(http.StatusOK, echo.Map{"shares": out})
}

// HandleRevokeShare handles DELETE /api/shares/:id.
// Revocation is idempotent: revoking a revoked share succeeds.
func (h *Handler) HandleRevokeShare(c echo.Context) error {
	if err := h.shares.Revoke(c.Request().Context(), principalID(c), c.Param("id"), origin(c)); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "share revoked"})
}

// HandleUpdateShareExpiry handles PATCH /api/shares/:id.
// A null expires_at clears the deadline so the share never expires.
func (h *Handler) HandleUpdateShareExpiry(c echo.Context) error {
	var req struct {
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.shares.UpdateExpiration(c.Request().Context(), principalID(c), c.Param("id"), req.ExpiresAt); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "share updated"})
}

// HandleLinkInfo handles GET /s/:token.
// Returns file metadata for a bearer-link share.
func (h *Handler) HandleLinkInfo(c echo.Context) error {
	file, err := h.files.GetViaLink(c.Request().Context(), principalID(c), c.Param("token"), origin(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, h.fileJSON(file))
}

// HandleLinkDownload handles GET /s/:token/download.
func (h *Handler) HandleLinkDownload(c echo.Context) error {
	rc, file, err := h.files.DownloadViaLink(c.Request().Context(), principalID(c), c.Param("token"), origin(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Name))
	return c.Stream(http.StatusOK, file.ContentType, rc)
}

// HandleFileTrail handles GET /api/files/:id/audit. Owner only.
func (h *Handler) HandleFileTrail(c echo.Context) error {
	limit, offset := pageParams(c)

	entries, err := h.audits.FileTrail(c.Request().Context(), principalID(c), c.Param("id"), limit, offset)
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditJSON(e))
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": out})
}

// HandleActorTrail handles GET /api/audit.
// Returns the caller's own trail.
func (h *Handler) HandleActorTrail(c echo.Context) error {
	limit, offset := pageParams(c)

	entries, err := h.audits.ActorTrail(c.Request().Context(), principalID(c), limit, offset)
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditJSON(e))
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": out})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

func pageParams(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return limit, offset
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "share has expired"})
	case errors.Is(err, service.ErrNotOwner):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only the owner may do this"})
	case errors.Is(err, service.ErrInsufficientPermission):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "insufficient permission"})
	case errors.Is(err, service.ErrSelfShare):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot share a file with its owner"})
	case errors.Is(err, service.ErrNotAuthenticated):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.Is(err, service.ErrUsernameTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": "username already taken"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
