// Package redeem contains the public handlers a print kiosk calls with a
// one-time token
package redeem

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal/blob"
	"github.com/vishant8491/Kawach/internal/token"
	"go.uber.org/zap"
)

type errorMapping struct {
	err    error
	status int
	msg    string
}

// First match wins
var errorMappings = []errorMapping{
	{token.ErrNotFound, http.StatusNotFound, "invalid link"},
	{token.ErrExpired, http.StatusGone, "this link has expired"},
	{token.ErrAlreadyUsed, http.StatusForbidden, "this link has already been used"},
	{blob.ErrUnavailable, http.StatusServiceUnavailable, "error processing request"},
}

func respondError(c *gin.Context, err error) {
	requestID := c.MustGet("requestID").(string)

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			if m.status == http.StatusServiceUnavailable {
				c.Header("Retry-After", "5")
				zap.L().Warn("Blob store unavailable during redemption", zap.Error(err), zap.String("requestID", requestID))
			}

			c.JSON(m.status, gin.H{
				"error":     m.msg,
				"requestID": requestID,
			})
			return
		}
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":     "error processing request",
		"requestID": requestID,
	})

	zap.L().Error("Redemption failed", zap.Error(err), zap.String("requestID", requestID))
}

func requestMeta(c *gin.Context) token.RequestMeta {
	return token.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
