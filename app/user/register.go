// Package user contains the account handlers
package user

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal"
	"github.com/vishant8491/Kawach/internal/model"
	"github.com/vishant8491/Kawach/pkg/validators"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type registerBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func UserRegister(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	var data registerBody
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})

		zap.L().Debug("Can't bind request body", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	data.Email = validators.NormalizeEmail(data.Email)

	if err := validators.Credentials(data.Email, data.Password); err != nil {
		zap.L().Debug("Invalid credentials", zap.Error(err), zap.String("requestID", requestID))

		c.JSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	hash, err := d.Argon.GenerateFromPassword(data.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to hash password", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	user := &model.User{
		Email:        data.Email,
		PasswordHash: hash,
	}

	// The unique index on email settles concurrent registrations
	if err := d.DB.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{
				"error":     "This email is already registered. Please login or use a different email",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to create user", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	zap.L().Info("User registered", zap.String("userID", user.ID), zap.String("requestID", requestID))

	c.JSON(http.StatusCreated, gin.H{
		"userID": user.ID,
	})
}
