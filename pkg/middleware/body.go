package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodySizeLimiter caps the request body at maxBytes. Requests announcing a
// bigger Content-Length are refused before the handler runs, the rest are cut
// off by http.MaxBytesReader while the handler reads them
func BodySizeLimiter(maxBytes int64) gin.HandlerFunc {
	tooLarge := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":     "Request body size exceeds limit",
			"requestID": c.GetString("requestID"),
		})
	}

	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			tooLarge(c)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()

		if c.Writer.Written() {
			return
		}

		var mbe *http.MaxBytesError
		for _, e := range c.Errors {
			if errors.As(e.Err, &mbe) {
				tooLarge(c)
				return
			}
		}
	}
}
