package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vishant8491/Kawach/internal/blob"
	"github.com/vishant8491/Kawach/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SweepQRCodes deletes QR codes, images included, whose token expired more
// than retention ago. A code can't be redeemed anymore at that point
func SweepQRCodes(ctx context.Context, db *gorm.DB, blobs blob.Store, retention time.Duration) (int, error) {
	var expired []model.QRCode

	err := db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC().Add(-retention)).
		Find(&expired).
		Error
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, q := range expired {
		if err := blobs.Delete(ctx, q.ImageKey); err != nil {
			zap.L().Error("Failed to delete qr image", zap.String("key", q.ImageKey), zap.Error(err))
			continue
		}

		if err := db.WithContext(ctx).Delete(&model.QRCode{}, "id = ?", q.ID).Error; err != nil {
			zap.L().Error("Failed to delete qr code", zap.String("id", q.ID), zap.Error(err))
			continue
		}

		deleted++
	}

	if deleted > 0 {
		zap.L().Debug("Cleaned up expired qr codes", zap.Int("count", deleted))
	}

	return deleted, nil
}

func QRCleanup(c *cron.Cron, spec string, db *gorm.DB, blobs blob.Store, retention time.Duration) (cron.EntryID, error) {
	zap.L().Debug("QR code cleanup attached", zap.String("schedule", spec))

	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if _, err := SweepQRCodes(ctx, db, blobs, retention); err != nil {
			zap.L().Error("Failed to query db for qr codes to clean", zap.Error(err))
		}
	})
}
