package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/itcshield/itc/internal/history"
	"github.com/itcshield/itc/internal/recon"
	"gorm.io/gorm"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, service HealthChecker, eventInterval time.Duration) {
	router.GET("/", handleIndex())

	api := router.Group("/api")
	api.GET("/health", handleHealth(db, service))
	api.GET("/jobs", handleJobList(db))
	api.GET("/jobs/:id", handleJobDetail(db))
	api.GET("/reconciliations", handleRunList(db))
	api.GET("/reconciliations/:id", handleRunDetail(db))
	api.GET("/events", handleSSE(db, eventInterval))
}

func handleIndex() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.html", gin.H{
			"categories": recon.AllCategories,
		})
	}
}

// serviceCheckTimeout bounds the upstream probe in /api/health.
const serviceCheckTimeout = 5 * time.Second

// handleHealth reports ledger health, and the compliance service's when a
// checker is configured. An unreachable service degrades but does not fail
// the response; the ledger views still work without it.
func handleHealth(db *gorm.DB, service HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		body := gin.H{"status": "ok"}
		if service != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), serviceCheckTimeout)
			defer cancel()
			if err := service.Health(ctx); err != nil {
				body["status"] = "degraded"
				body["service"] = err.Error()
			} else {
				body["service"] = "ok"
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

func handleJobList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := JobList(db, queryLimit(c))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": rows})
	}
}

func handleJobDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := JobDetailByID(db, c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func handleRunList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := RunList(db, c.Query("period"), queryLimit(c))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": rows})
	}
}

func handleRunDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var only recon.Category
		if q := c.Query("category"); q != "" {
			cat, err := recon.ParseCategory(q)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			only = cat
		}
		d, err := RunDetailByID(db, c.Param("id"), only)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// queryLimit reads ?limit=, capped at 500. Zero means the ledger default.
func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n < 0 {
		return 0
	}
	if n > 500 {
		return 500
	}
	return n
}

func abort(c *gin.Context, err error) {
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
