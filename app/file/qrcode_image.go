package file

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal"
	"github.com/vishant8491/Kawach/internal/qr"
	"go.uber.org/zap"
)

// QRCodeImage streams a stored QR image. Used when the blob store has no
// public URL of its own
func QRCodeImage(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	obj, err := d.Issuer.Image(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, qr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "QR code not found",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to open qr image", zap.Error(err), zap.String("requestID", requestID))
		return
	}
	defer obj.Body.Close()

	c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, obj.Body, map[string]string{
		"Cache-Control":          "no-store, max-age=0",
		"X-Content-Type-Options": "nosniff",
	})
}
