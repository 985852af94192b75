package file

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/vishant8491/Kawach/internal"
	"github.com/vishant8491/Kawach/internal/registry"
	"go.uber.org/zap"
)

type qrcodeBody struct {
	ValidityMinutes int `json:"validityMinutes"`
}

// QRCodeIssue issues a new QR code for a file. Any code issued before stops
// working
func QRCodeIssue(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	var data qrcodeBody
	if err := c.ShouldBindJSON(&data); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	validity := data.ValidityMinutes
	if validity == 0 {
		validity = viper.GetInt("token.validity_minutes")
	}

	if validity < 0 || validity > viper.GetInt("token.max_validity_minutes") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid validity",
			"requestID": requestID,
		})
		return
	}

	file, err := d.Files.GetOwned(c.Request.Context(), c.Param("id"), userID)
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

	art, err := d.Issuer.Issue(c.Request.Context(), file.ID, viper.GetString("host.frontend_url"), time.Duration(validity)*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Failed to generate QR code",
			"requestID": requestID,
		})

		zap.L().Error("Failed to issue qr code", zap.Error(err), zap.String("fileID", file.ID), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"qrCodeId":       art.QRCode.ID,
		"qrImageUrl":     art.QRCode.ImageURL,
		"redemptionUrl":  art.QRCode.RedemptionURL,
		"expiresAt":      art.ExpiresAt,
		"displaySeconds": viper.GetInt("qr.display_seconds"),
	})
}

// QRCodeFetch returns the latest QR code issued for a file
func QRCodeFetch(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	file, err := d.Files.GetOwned(c.Request.Context(), c.Param("id"), userID)
	if err == nil {
		q, qerr := d.Files.LatestQRCode(c.Request.Context(), file.ID)
		if qerr == nil {
			c.JSON(http.StatusOK, gin.H{
				"qrCodeId":      q.ID,
				"qrImageUrl":    q.ImageURL,
				"redemptionUrl": q.RedemptionURL,
				"expiresAt":     q.ExpiresAt,
				"filename":      file.Filename,
				"uploadDate":    file.CreatedAt,
			})
			return
		}

		err = qerr
	}

	if errors.Is(err, registry.ErrNotFound) {
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

	zap.L().Error("Failed to fetch qr code", zap.Error(err), zap.String("requestID", requestID))
}
