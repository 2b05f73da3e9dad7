package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hfi/randmedia/internal/apperr"
	"github.com/hfi/randmedia/internal/audit"
	"github.com/hfi/randmedia/internal/media"
	"github.com/hfi/randmedia/internal/metrics"
	"github.com/hfi/randmedia/internal/ratelimit"
)

const (
	// RequestIDHeader carries the request ID in both directions
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
	maxIDLength  = 64
)

// RequestID assigns every request an ID, reusing a sane inbound one, and stores the
// caller details in the request context for audit records
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxIDLength {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(media.WithRequest(c.Request.Context(), media.RequestInfo{
			ID:       id,
			ClientIP: c.ClientIP(),
		}))
		c.Next()
	}
}

// AccessLog logs one line per request and records its duration
func AccessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RecordRequestDuration(route, strconv.Itoa(status), elapsed.Seconds())

		event := logger.Info()
		if status >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("request_id", c.GetString(requestIDKey)).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// Recovery turns a panic into a 500 response
func Recovery(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("request_id", c.GetString(requestIDKey)).
					Str("panic", fmt.Sprint(r)).
					Msg("handler panicked")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
					"code":  apperr.CodeInternal,
				})
			}
		}()
		c.Next()
	}
}

// ErrorHandler renders the last error a handler attached to the context.
// Causes are never sent to the caller.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		code := apperr.CodeOf(err)
		message := "internal server error"
		if e, ok := err.(*apperr.Error); ok {
			message = e.Message
		}

		c.JSON(apperr.HTTPStatus(code), gin.H{
			"error": message,
			"code":  code,
		})
	}
}

// RequireKey rejects requests whose key query parameter does not match key.
// An empty key rejects everything.
func RequireKey(key string, auditor audit.Auditor) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		got := []byte(c.Query("key"))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			metrics.AuthFailuresTotal.Inc()
			auditor.LogAuthFailed(c.GetString(requestIDKey), c.ClientIP())
			_ = c.Error(apperr.Unauthorized("invalid key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimit refuses requests once limiter is exhausted
func RateLimit(limiter *ratelimit.Limiter, auditor audit.Auditor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			metrics.RateLimitedTotal.Inc()
			auditor.Log(&audit.Event{
				Type:      audit.EventRateLimited,
				RequestID: c.GetString(requestIDKey),
				ClientIP:  c.ClientIP(),
			})
			_ = c.Error(apperr.New(apperr.CodeRateLimit, "too many requests"))
			c.Abort()
			return
		}
		c.Next()
	}
}
