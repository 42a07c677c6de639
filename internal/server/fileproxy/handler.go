package fileproxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/dmitrijs2005/taskvault/internal/logging"
	"github.com/dmitrijs2005/taskvault/internal/server/auth"
	"github.com/dmitrijs2005/taskvault/internal/server/models"
	"github.com/gin-gonic/gin"
)

const (
	msgFailedLoading = "Failed loading requested url"
	msgInternal      = "An internal error has occurred"

	taskPayloadSegment = "taskpayload"
)

// FileService is what the handler needs from Service.
type FileService interface {
	EncryptedFile(ctx context.Context, user *models.User, ref models.FileReference, requestPath, signature string) (*Content, error)
	TaskPayload(ctx context.Context, user *models.User, projectID, taskID int64, signature string) ([]byte, error)
	Attachment(ctx context.Context, user *models.User, signature, path string) (*Content, error)
}

type Handler struct {
	svc    FileService
	logger logging.Logger
}

func NewHandler(svc FileService, logger logging.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With("module", "fileproxy_http")}
}

// Register mounts the proxy routes behind mw (session authentication).
//
//	GET /fileproxy/encrypted/{store}/{bucket}/{projectId}/{path...}
//	GET /fileproxy/encrypted/{store}/{bucket}/workflow_request/{workflowId}/{projectId}/{path...}
//	GET /fileproxy/encrypted/taskpayload/{projectId}/{taskId}
//	GET /attachment/{signature}/{path...}
func (h *Handler) Register(r gin.IRouter, mw ...gin.HandlerFunc) {
	g := r.Group("", mw...)
	// one wildcard route: gin cannot mix a static taskpayload segment
	// with a :store parameter at the same level
	g.GET("/fileproxy/encrypted/*rest", h.encrypted)
	g.GET("/attachment/:signature/*path", h.attachment)
}

func (h *Handler) encrypted(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	rest := strings.TrimPrefix(c.Param("rest"), "/")
	signature := c.Query(common.TaskSignatureParam)

	if strings.HasPrefix(rest, taskPayloadSegment+"/") {
		h.taskPayload(c, user, strings.TrimPrefix(rest, taskPayloadSegment+"/"), signature)
		return
	}

	ref, err := models.ParseProxyPath(rest)
	if err != nil {
		h.fail(c, err)
		return
	}

	content, err := h.svc.EncryptedFile(c.Request.Context(), user, ref, c.Request.URL.Path, signature)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.stream(c, content)
}

func (h *Handler) taskPayload(c *gin.Context, user *models.User, rest, signature string) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		h.fail(c, common.ErrorNotFound)
		return
	}
	projectID, err1 := strconv.ParseInt(parts[0], 10, 64)
	taskID, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		h.fail(c, common.ErrorNotFound)
		return
	}

	payload, err := h.svc.TaskPayload(c.Request.Context(), user, projectID, taskID, signature)
	if err != nil {
		h.fail(c, err)
		return
	}

	noCache(c)
	c.Data(http.StatusOK, "application/json", payload)
}

func (h *Handler) attachment(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	path := strings.TrimPrefix(c.Param("path"), "/")

	content, err := h.svc.Attachment(c.Request.Context(), user, c.Param("signature"), path)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.stream(c, content)
}

func (h *Handler) stream(c *gin.Context, content *Content) {
	noCache(c)
	if content.Headers.ContentEncoding != "" {
		c.Header("Content-Encoding", content.Headers.ContentEncoding)
	}
	if content.Headers.ContentDisposition != "" {
		c.Header("Content-Disposition", content.Headers.ContentDisposition)
	}
	contentType := content.Headers.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, content.Body)
}

func noCache(c *gin.Context) {
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	c.Header("Pragma", "no-cache")
}

// fail logs the full cause and answers with a generic body.
func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := msgFailedLoading
	if status == http.StatusInternalServerError {
		msg = msgInternal
	}

	h.logger.Error(c.Request.Context(), "file proxy request failed",
		"path", c.Request.URL.Path, "status", status, "error", err)

	c.String(status, msg)
}

// StatusFor maps service errors to HTTP statuses.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrorSignatureTooLong),
		errors.Is(err, common.ErrorForbidden),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrorProjectMismatch):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorBadRequest),
		errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
