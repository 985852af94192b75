package redeem

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vishant8491/Kawach/internal"
)

// Metadata validates the token and describes the file behind it. The token is
// marked used but delivery isn't recorded yet
func Metadata(c *gin.Context, d *internal.Deps) {
	md, err := d.Redeemer.Metadata(c.Request.Context(), c.Param("token"), requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store, max-age=0")
	c.JSON(http.StatusOK, md)
}
