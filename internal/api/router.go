// Package api serves the public HTTP surface: keyed random selection endpoints and the
// open fetch-by-token endpoint.
package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/hfi/randmedia/internal/apperr"
	"github.com/hfi/randmedia/internal/audit"
	"github.com/hfi/randmedia/internal/media"
	"github.com/hfi/randmedia/internal/ratelimit"
)

// Service is the media operation set the handlers need
type Service interface {
	RandomInCategory(ctx context.Context, group, category string) (*media.Result, error)
	RandomInGroup(ctx context.Context, group string) (*media.Result, error)
	Fetch(ctx context.Context, resource string) (*media.Content, error)
}

// Config holds router settings
type Config struct {
	AssetPrefix string
	APIKey      string //#nosec G117 -- shared secret for listing endpoints
}

// Handler serves the public routes
type Handler struct {
	svc Service
	now func() time.Time
}

// NewRouter builds the gin engine with all middleware and routes
func NewRouter(cfg Config, svc Service, logger zerolog.Logger, auditor audit.Auditor, limiter *ratelimit.Limiter) *gin.Engine {
	if auditor == nil {
		auditor = audit.NewNopLogger()
	}
	if limiter == nil {
		limiter = ratelimit.New(0)
	}

	h := &Handler{svc: svc, now: time.Now}

	r := gin.New()
	_ = r.SetTrustedProxies(nil)
	r.Use(RequestID(), AccessLog(logger), Recovery(logger), ErrorHandler())

	r.NoRoute(func(c *gin.Context) {
		_ = c.Error(apperr.NotFound("route not found"))
	})

	// unauthenticated callers never spend the shared rate budget
	api := r.Group("/api", RequireKey(cfg.APIKey, auditor), RateLimit(limiter, auditor))
	{
		api.GET("/:group", h.RandomInGroup)
		api.GET("/:group/:category", h.RandomInCategory)
	}

	prefix := "/" + strings.Trim(cfg.AssetPrefix, "/")
	r.GET(prefix+"/:resource", h.Fetch)

	return r
}

// RandomInGroup handles GET /api/:group
func (h *Handler) RandomInGroup(c *gin.Context) {
	res, err := h.svc.RandomInGroup(c.Request.Context(), c.Param("group"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RandomInCategory handles GET /api/:group/:category
func (h *Handler) RandomInCategory(c *gin.Context) {
	res, err := h.svc.RandomInCategory(c.Request.Context(), c.Param("group"), c.Param("category"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Fetch handles GET <asset prefix>/:resource
func (h *Handler) Fetch(c *gin.Context) {
	content, err := h.svc.Fetch(c.Request.Context(), c.Param("resource"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	remaining := int(math.Max(0, math.Floor(content.ExpiresAt.Sub(h.now()).Seconds())))
	c.Header("Cache-Control", "private, max-age="+strconv.Itoa(remaining))
	c.Header("X-Content-Type-Options", "nosniff")
	if !content.ModTime.IsZero() {
		c.Header("Last-Modified", content.ModTime.UTC().Format(http.TimeFormat))
	}
	c.Data(http.StatusOK, content.ContentType, content.Data)
}
