package redeem

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal"
	"go.uber.org/zap"
)

// Complete closes the token for good. It always succeeds from the client's
// point of view, an unclosed token still runs out when it expires
func Complete(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	if err := d.Redeemer.Complete(c.Request.Context(), c.Param("token")); err != nil {
		zap.L().Warn("Failed to close token", zap.Error(err), zap.String("requestID", requestID))
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "completed",
	})
}
