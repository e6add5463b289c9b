package server

import (
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tfvieira/tic43/internal/async"
	"github.com/tfvieira/tic43/internal/logging"
	"github.com/tfvieira/tic43/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// JSONMiddleware requires JSON bodies on write requests.
func JSONMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost {
			contentType := c.GetHeader("Content-Type")
			if contentType != "" {
				mediaType, _, err := mime.ParseMediaType(contentType)
				if err != nil || mediaType != "application/json" {
					c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, APIResponse{
						Error: "Content-Type must be application/json",
					})
					return
				}
			}
		}
		c.Next()
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := async.Guard(logger, c.FullPath(), func() error {
			c.Next()
			return nil
		})
		if err != nil && !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusInternalServerError, APIResponse{Error: "internal server error"})
		}
	}
}

// RequestLogMiddleware assigns a request ID and logs each request.
func RequestLogMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		c.Set("request_id", requestID)

		start := time.Now()
		c.Next()
		logger.Debug("%s %s -> %d in %v [%s]", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Millisecond), requestID)
	}
}

// TracingMiddleware opens one span per request.
func TracingMiddleware(tp *observability.TracerProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tp.StartSpan(c.Request.Context(), observability.SpanHTTPServer,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if c.Writer.Status() >= http.StatusInternalServerError {
			span.SetAttributes(observability.ErrorAttrs(fmt.Errorf("status %d", c.Writer.Status()))...)
		}
	}
}
