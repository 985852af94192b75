package redeem

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal"
	"github.com/vishant8491/Kawach/pkg/util"
	"go.uber.org/zap"
)

// Content streams the file bytes through the API. Clients never get redirected
// to the blob store
func Content(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	file, obj, err := d.Redeemer.Open(c.Request.Context(), c.Param("token"), requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	defer obj.Body.Close()

	size := obj.Size
	if size <= 0 {
		size = file.Size
	}

	c.DataFromReader(http.StatusOK, size, file.MimeType, obj.Body, map[string]string{
		"Cache-Control":          "no-store, max-age=0",
		"Pragma":                 "no-cache",
		"X-Content-Type-Options": "nosniff",
		"Content-Disposition":    fmt.Sprintf(`inline; filename="%s"`, util.SanitizeFilename(file.Filename)),
	})

	zap.L().Info("File delivered to kiosk",
		zap.String("fileID", file.ID),
		zap.Int64("size", size),
		zap.String("requestID", requestID),
	)
}
