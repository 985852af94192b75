package file

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/vishant8491/Kawach/internal"
	"github.com/vishant8491/Kawach/internal/blob"
	"github.com/vishant8491/Kawach/internal/registry"
	"github.com/vishant8491/Kawach/pkg/validators"
	"go.uber.org/zap"
)

func FileUpload(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "No file provided",
				"requestID": requestID,
			})
			return
		}

		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":     validators.ErrFileTooLarge.Error(),
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid multipart form",
			"requestID": requestID,
		})

		zap.L().Debug("Failed to open multipart file", zap.String("requestID", requestID), zap.Error(err))
		return
	}

	code, f, mime, err := validators.FileValidator(fh, viper.GetInt64("upload.max_size"), viper.GetStringSlice("upload.allowed_types"))
	if err != nil {
		c.JSON(code, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})

		if code == http.StatusInternalServerError {
			zap.L().Error("Failed to validate upload", zap.String("requestID", requestID), zap.Error(err))
		}
		return
	}
	defer f.Close()

	file, err := d.Files.Create(c.Request.Context(), registry.Upload{
		OwnerID:  userID,
		Filename: fh.Filename,
		MimeType: mime,
		Size:     fh.Size,
		Body:     f,
	})
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Internal server error"

		if errors.Is(err, blob.ErrUnavailable) {
			status = http.StatusServiceUnavailable
			msg = "Storage is temporarily unavailable. Please try again"
		}

		c.JSON(status, gin.H{
			"error":     msg,
			"requestID": requestID,
		})

		zap.L().Error("Failed to store upload", zap.String("requestID", requestID), zap.Error(err))
		return
	}

	zap.L().Info("File uploaded",
		zap.String("fileID", file.ID),
		zap.String("mimetype", file.MimeType),
		zap.Int64("size", file.Size),
		zap.String("requestID", requestID),
	)

	c.JSON(http.StatusCreated, gin.H{
		"fileId":      file.ID,
		"blobLocator": file.BlobURL,
		"filename":    file.Filename,
		"mimetype":    file.MimeType,
		"size":        file.Size,
		"createdAt":   file.CreatedAt,
	})
}
