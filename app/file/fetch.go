// Package file contains the handlers owners use to manage their files and
// the QR codes issued for them
package file

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal"
	"github.com/vishant8491/Kawach/internal/registry"
	"go.uber.org/zap"
)

func FileFetch(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	fileID := c.Param("id")
	if fileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "No file ID provided",
			"requestID": requestID,
		})

		return
	}

	file, err := d.Files.GetOwned(c.Request.Context(), fileID, userID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "File not found",
				"requestID": requestID,
			})

			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch file from db", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, file)
}
