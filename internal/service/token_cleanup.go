// Package service contains the background jobs of the application
package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var tokensSwept = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kawach_print_tokens_swept_total",
	Help: "Expired print tokens removed by the retention sweep",
})

const jobTimeout = 5 * time.Minute

type TokenSweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (int64, error)
}

// NewScheduler returns a cron scheduler that logs through zap, recovers from
// panicking jobs and never runs two instances of the same job at once
func NewScheduler() *cron.Cron {
	logger := cron.PrintfLogger(zap.NewStdLog(zap.L()))

	return cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
}

// SweepTokens removes print tokens that expired more than retention ago
func SweepTokens(ctx context.Context, tokens TokenSweeper, retention time.Duration) (int64, error) {
	n, err := tokens.Sweep(ctx, retention)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		tokensSwept.Add(float64(n))
		zap.L().Debug("Cleaned up expired tokens", zap.Int64("count", n))
	}

	return n, nil
}

// TokenCleanup schedules SweepTokens on c using a cron spec such as "@every 1h"
func TokenCleanup(c *cron.Cron, spec string, tokens TokenSweeper, retention time.Duration) (cron.EntryID, error) {
	zap.L().Debug("Token cleanup attached", zap.String("schedule", spec), zap.Duration("retention", retention))

	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if _, err := SweepTokens(ctx, tokens, retention); err != nil {
			zap.L().Error("Failed to cleanup expired tokens", zap.Error(err))
		}
	})
}
