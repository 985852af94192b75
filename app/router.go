// Package app builds the HTTP router and everything it depends on
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"github.com/vishant8491/Kawach/app/file"
	"github.com/vishant8491/Kawach/app/redeem"
	"github.com/vishant8491/Kawach/app/root"
	"github.com/vishant8491/Kawach/app/user"
	"github.com/vishant8491/Kawach/db"
	"github.com/vishant8491/Kawach/internal"
	"github.com/vishant8491/Kawach/internal/blob"
	"github.com/vishant8491/Kawach/internal/qr"
	redeemsvc "github.com/vishant8491/Kawach/internal/redeem"
	"github.com/vishant8491/Kawach/internal/registry"
	"github.com/vishant8491/Kawach/internal/token"
	"github.com/vishant8491/Kawach/pkg/middleware"
	"github.com/vishant8491/Kawach/pkg/security"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

var store = persist.NewMemoryStore(time.Minute)

// NewRouter connects to the database and the blob store configured in viper
// and returns the ready engine together with its dependencies
func NewRouter(ctx context.Context) (*gin.Engine, *internal.Deps, error) {
	database, err := db.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database, %w", err)
	}

	blobs, err := NewBlobStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize blob store, %w", err)
	}

	d := NewDeps(database, blobs)

	return NewEngine(d), d, nil
}

func NewBlobStore(ctx context.Context) (blob.Store, error) {
	switch viper.GetString("storage.type") {
	case "s3":
		return blob.NewS3(ctx)
	case "r2":
		return blob.NewR2(ctx)
	case "local":
		return blob.NewLocal(viper.GetString("storage.local_path"))
	default:
		return nil, errors.New("invalid storage type provided")
	}
}

// NewDeps builds the services on top of a database and a blob store
func NewDeps(database *gorm.DB, blobs blob.Store, opts ...token.Option) *internal.Deps {
	tokens := token.NewManager(database, opts...)
	files := registry.New(database, blobs, tokens)

	return &internal.Deps{
		DB:     database,
		Argon:  security.New(),
		Blobs:  blobs,
		Tokens: tokens,
		Files:  files,
		Issuer: qr.NewIssuer(database, tokens, blobs, qr.PNGRenderer{Size: viper.GetInt("qr.size")}, viper.GetString("host.public_url")),
		Redeemer: redeemsvc.New(tokens, files, blobs,
			redeemsvc.WithRetries(viper.GetInt("redeem.retries"), viper.GetDuration("redeem.retry_backoff")),
		),
	}
}

func corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "TurnstileToken", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	origins := viper.GetStringSlice("host.cors_origins")
	switch {
	case slices.Contains(origins, "*"):
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	case len(origins) == 0:
		cfg.AllowOrigins = []string{viper.GetString("host.public_url")}
	default:
		cfg.AllowOrigins = origins
	}

	return cfg
}

// NewEngine registers every route on a new gin engine
func NewEngine(d *internal.Deps) *gin.Engine {
	router := gin.New()

	router.Use(
		cors.New(corsConfig()),
		ginzap.RecoveryWithZap(zap.L(), true),
		middleware.NewRequestIDMiddleware(),
		middleware.MetricsMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("userID"); v != "" {
					fields = append(fields, zap.String("userID", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true
	router.MaxMultipartMemory = 5 << 20

	// GET /metrics			-> Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rateLimit := viper.GetInt("security.rate_limit")
	maxUploadSize := viper.GetInt64("upload.max_size")

	jwt := middleware.NewJWTMiddleware(d.DB, viper.GetString("jwt.secret"))
	turnstile := middleware.NewTurnstileMiddleware(
		viper.GetBool("cloudflare.turnstile.enabled"),
		viper.GetString("cloudflare.turnstile.secret_token"),
	)
	rateLimiter := middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: rateLimit,
		Burst:             rateLimit * 2,
	})

	m := router.Group("/api", rateLimiter)
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		m.HEAD("/heartbeat", func(c *gin.Context) { root.Heartbeat(c, d) })

		// GET /api/settings		-> Public client settings
		m.GET("/settings", cacheFor(viper.GetDuration("cache.ttl")), root.Settings)
	}

	u := m.Group("/users", middleware.BodySizeLimiter(1<<20))
	{
		// GET /api/users		-> Returns the basic info of a user
		u.GET("", jwt, func(c *gin.Context) { user.UserFetch(c, d) })

		// POST /api/users 		-> Registers a new user
		u.POST("", turnstile, func(c *gin.Context) { user.UserRegister(c, d) })

		// POST /api/users/login 	-> Logs in a user and returns a bearer token
		u.POST("/login", func(c *gin.Context) { user.UserLogin(c, d) })
	}

	ff := m.Group("/files", jwt)
	{
		// GET /api/files		-> Returns a user's files in pages
		ff.GET("", func(c *gin.Context) { file.FileFetchBulk(c, d) })

		// GET /api/files/:id		-> Returns a file by it's ID if the user owns it
		ff.GET("/:id", func(c *gin.Context) { file.FileFetch(c, d) })

		// POST /api/files         	-> Uploads a new file and stores it
		ff.POST("", middleware.BodySizeLimiter(maxUploadSize+1<<20), func(c *gin.Context) { file.FileUpload(c, d) })

		// DELETE /api/files/:id	-> Deletes a file together with its tokens and QR codes
		ff.DELETE("/:id", func(c *gin.Context) { file.FileDelete(c, d) })

		// POST /api/files/:id/qrcode	-> Issues a new QR code, older ones stop working
		ff.POST("/:id/qrcode", middleware.BodySizeLimiter(1<<10), func(c *gin.Context) { file.QRCodeIssue(c, d) })

		// GET /api/files/:id/qrcode	-> Returns the latest QR code of a file
		ff.GET("/:id/qrcode", func(c *gin.Context) { file.QRCodeFetch(c, d) })
	}

	q := m.Group("/qrcodes")
	{
		// GET /api/qrcodes/:id/image	-> Serves a QR image
		q.GET("/:id/image", func(c *gin.Context) { file.QRCodeImage(c, d) })
	}

	r := m.Group("/redeem")
	{
		// GET /api/redeem/:token		-> Validates a token and returns file metadata
		r.GET("/:token", func(c *gin.Context) { redeem.Metadata(c, d) })

		// GET /api/redeem/:token/content	-> Streams the file bytes
		r.GET("/:token/content", func(c *gin.Context) { redeem.Content(c, d) })

		// POST /api/redeem/:token/complete	-> Closes the token for good
		r.POST("/:token/complete", func(c *gin.Context) { redeem.Complete(c, d) })
	}

	return router
}

func cacheFor(ttl time.Duration) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = time.Minute
	}

	return cache.CacheByRequestURI(store, ttl)
}
