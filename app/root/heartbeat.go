// Package root contains handlers that don't belong to any resource
package root

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal"
	"go.uber.org/zap"
)

// Heartbeat answers 200 while the database is reachable and 503 otherwise
func Heartbeat(c *gin.Context, d *internal.Deps) {
	sqlDB, err := d.DB.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		err = sqlDB.PingContext(ctx)
	}

	if err != nil {
		zap.L().Warn("Heartbeat failed, database unreachable", zap.Error(err))
		c.Status(http.StatusServiceUnavailable)
		return
	}

	c.Status(http.StatusOK)
}
