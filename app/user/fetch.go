package user

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal"
	"github.com/vishant8491/Kawach/internal/model"
	"go.uber.org/zap"
)

// UserFetch returns the account of the authenticated user
func UserFetch(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	var user model.User

	if err := d.DB.Where("id = ?", userID).Take(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch user", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	var files int64
	if err := d.DB.Model(&model.File{}).Where("owner_id = ?", userID).Count(&files).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to count user files", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userID":    user.ID,
		"email":     user.Email,
		"createdAt": user.CreatedAt,
		"files":     files,
	})
}
