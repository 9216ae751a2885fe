package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/unilib/unilib/internal/book/repository"
	"github.com/unilib/unilib/internal/book/service"
	"github.com/unilib/unilib/pkg/logger"
	"github.com/unilib/unilib/pkg/middleware"
)

// Handler exposes the catalog and file routes over HTTP.
type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler { return &Handler{svc: svc} }

// RegisterRoutes mounts the catalog routes. authed must run AuthMiddleware
// first; download stays on the same group since catalog visibility requires a
// signed-in user.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	authed.GET("/books", h.list)
	authed.POST("/books", middleware.RequireRole("teacher"), h.upload)
	authed.GET("/books/:id", h.get)
	authed.PATCH("/books/:id", h.edit)
	authed.DELETE("/books/:id", h.delete)
	authed.POST("/books/:id/star", h.toggleStar)
	authed.POST("/books/:id/comments", h.addComment)
	authed.GET("/files/:fileId", h.download)
}

func principal(c *gin.Context) (service.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return service.Principal{}, false
	}
	return service.Principal{Sub: p.Sub, Name: p.Name, Role: p.Role}, true
}

// writeError maps service sentinels onto HTTP statuses. Validation messages
// are safe to echo; everything else gets a generic body and a log line.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrObjectMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": "file data unavailable"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		logger.Errorf("request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
	}
}

func (h *Handler) list(c *gin.Context) {
	books, err := h.svc.List(c.Request.Context(), c.Query("department"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *Handler) get(c *gin.Context) {
	b, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// upload reads the multipart body incrementally. Text fields are collected
// until the file part appears, then the part reader is handed to the service
// so the file is never buffered whole.
func (h *Handler) upload(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	mr, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form expected"})
		return
	}

	req := service.UploadRequest{Size: -1}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed multipart body"})
			return
		}

		if part.FormName() == "file" {
			req.Filename = part.FileName()
			req.ContentType = part.Header.Get("Content-Type")
			req.Body = part
			b, err := h.svc.Upload(c.Request.Context(), p, req)
			part.Close()
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusCreated, b)
			return
		}

		val, err := readField(part)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed multipart body"})
			return
		}
		switch part.FormName() {
		case "title":
			req.Title = val
		case "author":
			req.Author = val
		case "department":
			req.DepartmentID = val
		case "year":
			if req.Year, err = atoiField(val); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "year must be a number"})
				return
			}
		case "semester":
			if req.Semester, err = atoiField(val); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "semester must be a number"})
				return
			}
		}
	}
}

// fields arrive before the file part and are small
const maxFieldBytes = 4 << 10

func readField(part io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func atoiField(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// download streams the stored object. Once headers are written a mid-stream
// failure can only be logged, the status is already on the wire.
func (h *Handler) download(c *gin.Context) {
	fileID := c.Param("fileId")
	b, obj, rc, err := h.svc.Download(c.Request.Context(), fileID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", obj.ContentType)
	c.Header("Content-Length", strconv.FormatInt(obj.Length, 10))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.FileName))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		logger.Errorf("streaming file %s aborted: %v", fileID, err)
	}
}

func (h *Handler) edit(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		Title    *string `json:"title"`
		Author   *string `json:"author"`
		Year     *int    `json:"year"`
		Semester *int    `json:"semester"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	upd := repository.MetaUpdate{Title: req.Title, Author: req.Author, Year: req.Year, Semester: req.Semester}
	b, err := h.svc.Edit(c.Request.Context(), p, c.Param("id"), upd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) delete(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) toggleStar(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	res, err := h.svc.ToggleStar(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) addComment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cv, err := h.svc.AddComment(c.Request.Context(), p, c.Param("id"), req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cv)
}
