package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vishant8491/Kawach/app"
	"github.com/vishant8491/Kawach/config"
	"github.com/vishant8491/Kawach/db"
	"github.com/vishant8491/Kawach/internal/service"
	"go.uber.org/zap"
)

func main() {
	gin.SetMode(gin.ReleaseMode)
	pflag.Parse()

	err := config.Setup()
	if err != nil {
		panic(err)
	}

	logger, err := config.SetupLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if config.MigrateOnly() {
		if _, err := db.New(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}

		logger.Info("Database migrated")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router, d, err := app.NewRouter(ctx)
	if err != nil {
		logger.Fatal("Failed to create router", zap.Error(err))
	}

	schedule := viper.GetString("cleanup.schedule")
	retention := viper.GetDuration("token.retention")

	c := service.NewScheduler()
	if _, err := service.TokenCleanup(c, schedule, d.Tokens, retention); err != nil {
		logger.Fatal("Failed to schedule token cleanup", zap.Error(err))
	}
	if _, err := service.QRCleanup(c, schedule, d.DB, d.Blobs, retention); err != nil {
		logger.Fatal("Failed to schedule qr code cleanup", zap.Error(err))
	}
	c.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("host.port")),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr), zap.Bool("tls", viper.GetBool("host.ssl.enabled")))

		var err error
		if viper.GetBool("host.ssl.enabled") {
			err = srv.ListenAndServeTLS(
				viper.GetString("host.ssl.certificate_path"),
				viper.GetString("host.ssl.certificate_key_path"),
			)
		} else {
			err = srv.ListenAndServe()
		}

		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	cronCtx := c.Stop()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down server", zap.Error(err))
	}

	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Cleanup jobs still running at shutdown")
	}

	logger.Info("Server stopped")
}
