// Package registry keeps track of uploaded files, where their bytes live
// and who owns them
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lithammer/shortuuid/v4"
	"github.com/sourcegraph/conc/pool"
	"github.com/vishant8491/Kawach/internal/blob"
	"github.com/vishant8491/Kawach/internal/model"
	"github.com/vishant8491/Kawach/pkg/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("file not found")

// TokenCloser invalidates the outstanding print tokens of a file
type TokenCloser interface {
	CloseForFile(ctx context.Context, fileID, keep string) (int64, error)
}

type Upload struct {
	OwnerID  string
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

// AZ = A - Z as in alphabetic same for ZA
var sortOrders = map[string]string{
	"newest":    "created_at DESC",
	"oldest":    "created_at ASC",
	"az":        "filename ASC",
	"za":        "filename DESC",
	"size-asc":  "size ASC",
	"size-desc": "size DESC",
}

type ListOpts struct {
	Page  int
	Limit int
	Sort  string
}

func ValidSort(s string) bool {
	_, ok := sortOrders[s]
	return ok
}

type Registry struct {
	db     *gorm.DB
	blobs  blob.Store
	tokens TokenCloser
}

func New(db *gorm.DB, blobs blob.Store, tokens TokenCloser) *Registry {
	return &Registry{
		db:     db,
		blobs:  blobs,
		tokens: tokens,
	}
}

// Create stores the upload body and records the file. The blob is removed
// again if the record can't be written
func (r *Registry) Create(ctx context.Context, u Upload) (*model.File, error) {
	if u.OwnerID == "" {
		return nil, errors.New("no owner provided")
	}

	name := util.SanitizeFilename(u.Filename)

	// Names collide between owners, the random prefix keeps keys unique
	key := "uploads/" + shortuuid.New() + "_" + name

	loc, err := r.blobs.Put(ctx, key, u.Body, u.Size, u.MimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store file, %w", err)
	}

	f := &model.File{
		OwnerID:  u.OwnerID,
		BlobKey:  loc.Key,
		BlobURL:  loc.URL,
		Filename: name,
		MimeType: u.MimeType,
		Size:     u.Size,
	}

	if err := r.db.WithContext(ctx).Create(f).Error; err != nil {
		if derr := r.blobs.Delete(context.WithoutCancel(ctx), loc.Key); derr != nil {
			zap.L().Error("Failed to cleanup after failed upload", zap.String("key", loc.Key), zap.Error(derr))
		}

		return nil, fmt.Errorf("failed to save file record, %w", err)
	}

	return f, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*model.File, error) {
	var f model.File

	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &f, nil
}

// GetOwned returns the file only if ownerID owns it. Files owned by someone
// else are reported as not found
func (r *Registry) GetOwned(ctx context.Context, id, ownerID string) (*model.File, error) {
	var f model.File

	err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &f, nil
}

func (r *Registry) List(ctx context.Context, ownerID string, o ListOpts) ([]model.File, error) {
	order, ok := sortOrders[o.Sort]
	if !ok {
		order = sortOrders["newest"]
	}

	if o.Limit <= 0 {
		o.Limit = 10
	}

	files := []model.File{}

	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order(order).
		Offset(o.Page * o.Limit).
		Limit(o.Limit).
		Find(&files).
		Error
	if err != nil {
		return nil, err
	}

	return files, nil
}

// LatestQRCode returns the most recently issued QR code of a file
func (r *Registry) LatestQRCode(ctx context.Context, fileID string) (*model.QRCode, error) {
	var q model.QRCode

	err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("created_at DESC").
		Take(&q).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &q, nil
}

// Delete removes a file owned by ownerID together with its QR codes and print
// tokens. Outstanding tokens are closed first so a kiosk holding one can't
// fetch the file while it's being removed. Blob removal is best effort
func (r *Registry) Delete(ctx context.Context, id, ownerID string) error {
	f, err := r.GetOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}

	if n, err := r.tokens.CloseForFile(ctx, f.ID, ""); err != nil {
		zap.L().Warn("Failed to invalidate tokens of deleted file", zap.String("fileID", f.ID), zap.Error(err))
	} else if n > 0 {
		zap.L().Debug("Invalidated tokens of deleted file", zap.String("fileID", f.ID), zap.Int64("count", n))
	}

	var qrs []model.QRCode
	if err := r.db.WithContext(ctx).Where("file_id = ?", f.ID).Find(&qrs).Error; err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", f.ID).Delete(&model.QRCode{}).Error; err != nil {
			return err
		}

		if err := tx.Where("file_id = ?", f.ID).Delete(&model.PrintToken{}).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", f.ID).Delete(&model.File{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete file records, %w", err)
	}

	keys := []string{f.BlobKey}
	for _, q := range qrs {
		keys = append(keys, q.ImageKey)
	}

	p := pool.New().WithMaxGoroutines(4).WithErrors()
	for _, key := range keys {
		p.Go(func() error {
			if err := r.blobs.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete %s, %w", key, err)
			}

			zap.L().Debug("Deleted item", zap.String("item", key))
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		zap.L().Error("Failed to delete blobs of deleted file", zap.String("fileID", f.ID), zap.Error(err))
	}

	return nil
}
