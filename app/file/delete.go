package file

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal"
	"github.com/vishant8491/Kawach/internal/registry"
	"go.uber.org/zap"
)

func FileDelete(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	fileID := c.Param("id")
	if fileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "ID is missing",
			"requestID": requestID,
		})
		return
	}

	err := d.Files.Delete(c.Request.Context(), fileID, userID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "File not found. It either doesn't exist or you don't own it",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to delete file", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	zap.L().Info("File deleted", zap.String("fileID", fileID), zap.String("requestID", requestID))

	c.JSON(http.StatusOK, gin.H{
		"deleted": fileID,
	})
}
