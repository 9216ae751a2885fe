package department

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/unilib/unilib/internal/book"
	"github.com/unilib/unilib/pkg/logger"
	"github.com/unilib/unilib/pkg/middleware"
)

// BookLister lets the department detail endpoint include the department's
// catalog without importing the book service package.
type BookLister interface {
	List(ctx context.Context, departmentID string) ([]*book.Book, error)
}

// RegisterRoutes mounts the department routes on an authenticated group.
// Creation is restricted to teachers.
func RegisterRoutes(authed *gin.RouterGroup, svc *Service, books BookLister) {
	authed.GET("/departments", func(c *gin.Context) {
		list, err := svc.List(c.Request.Context())
		if err != nil {
			logger.Errorf("listing departments failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		c.JSON(http.StatusOK, list)
	})

	authed.GET("/departments/:id", func(c *gin.Context) {
		d, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if err != nil {
			logger.Errorf("fetching department %s failed: %v", c.Param("id"), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		list, err := books.List(c.Request.Context(), d.ID.Hex())
		if err != nil {
			logger.Errorf("listing books for department %s failed: %v", d.ID.Hex(), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"department": d, "books": list})
	})

	authed.POST("/departments", middleware.RequireRole("teacher"), func(c *gin.Context) {
		var req struct {
			Name        string `json:"name" binding:"required"`
			Description string `json:"description"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d, err := svc.Create(c.Request.Context(), req.Name, req.Description)
		if err == ErrDuplicate {
			c.JSON(http.StatusConflict, gin.H{"error": "department already exists"})
			return
		}
		if err != nil {
			logger.Errorf("creating department failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		c.JSON(http.StatusCreated, d)
	})
}
