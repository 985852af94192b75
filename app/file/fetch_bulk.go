package file

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal"
	"github.com/vishant8491/Kawach/internal/registry"
	"go.uber.org/zap"
)

func FileFetchBulk(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	pageStr := c.DefaultQuery("page", "0")
	page, err := strconv.Atoi(pageStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Page must be a number",
			"requestID": requestID,
		})
		return
	}

	if page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Page can't be negative",
			"requestID": requestID,
		})
		return
	}

	limitStr := c.DefaultQuery("limit", "10")
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Limit must be a number",
			"requestID": requestID,
		})
		return
	}

	if limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Limit must be greater than 0",
			"requestID": requestID,
		})
		return
	}

	if limit > 250 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Limit must be smaller than 250",
			"requestID": requestID,
		})
		return
	}

	sort := strings.ToLower(c.DefaultQuery("sort", "newest"))
	if !registry.ValidSort(sort) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid sort option",
			"requestID": requestID,
		})
		return
	}

	files, err := d.Files.List(c.Request.Context(), userID, registry.ListOpts{
		Page:  page,
		Limit: limit,
		Sort:  sort,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to list files", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files": files,
		"page":  page,
		"limit": limit,
	})
}
