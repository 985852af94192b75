package root

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

// Settings exposes the values a client needs to render the upload form and
// the QR countdown
func Settings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"qrDisplaySeconds":       viper.GetInt("qr.display_seconds"),
		"maxUploadSize":          viper.GetInt64("upload.max_size"),
		"allowedTypes":           viper.GetStringSlice("upload.allowed_types"),
		"defaultValidityMinutes": viper.GetInt("token.validity_minutes"),
	})
}
