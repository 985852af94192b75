package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal/model"
	"github.com/vishant8491/Kawach/pkg/security"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewJWTMiddleware authenticates requests carrying an "Authorization: Bearer"
// header and sets userID
func NewJWTMiddleware(d *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.MustGet("requestID").(string)

		header := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "Missing authorization token",
				"requestID": requestID,
			})
			return
		}

		userID, err := security.ParseAuthToken(secret, tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "Authorization token invalid",
				"requestID": requestID,
			})

			zap.L().Debug("Failed to parse token", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		// The account may have been removed after the token was issued
		var count int64
		err = d.Model(&model.User{}).Where("id = ?", userID).Count(&count).Error
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to check if user exists", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		if count == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "User not found",
				"requestID": requestID,
			})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}
