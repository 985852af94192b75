// Package qr issues QR codes that carry a one-time redemption URL
package qr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/skip2/go-qrcode"
	"github.com/vishant8491/Kawach/internal/blob"
	"github.com/vishant8491/Kawach/internal/model"
	"github.com/vishant8491/Kawach/internal/token"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("qr code not found")

var qrIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kawach_qr_codes_issued_total",
	Help: "Number of QR codes issued",
})

// Renderer turns a URL into image bytes
type Renderer interface {
	Render(content string) ([]byte, error)
	ContentType() string
}

type PNGRenderer struct {
	Size int
}

func (r PNGRenderer) Render(content string) ([]byte, error) {
	size := r.Size
	if size <= 0 {
		size = 400
	}

	return qrcode.Encode(content, qrcode.Highest, size)
}

func (PNGRenderer) ContentType() string {
	return "image/png"
}

// Artifact is what the owner gets back after issuing a QR code
type Artifact struct {
	QRCode    *model.QRCode
	Token     string
	ExpiresAt time.Time
}

type Issuer struct {
	db       *gorm.DB
	tokens   *token.Manager
	blobs    blob.Store
	renderer Renderer

	// Where this API is reachable, used to serve QR images the store
	// can't hand out publicly
	apiURL string
}

func NewIssuer(db *gorm.DB, tokens *token.Manager, blobs blob.Store, renderer Renderer, apiURL string) *Issuer {
	return &Issuer{
		db:       db,
		tokens:   tokens,
		blobs:    blobs,
		renderer: renderer,
		apiURL:   strings.TrimRight(apiURL, "/"),
	}
}

// RedemptionURL builds the link a scanner opens for tok
func RedemptionURL(baseURL, tok string) string {
	return strings.TrimRight(baseURL, "/") + "/print/" + tok
}

// Issue creates a token for fileID, renders a QR code with the redemption URL
// and stores it. If any step fails nothing is returned and the token is left
// to expire. After success every older open token of the file is closed
func (i *Issuer) Issue(ctx context.Context, fileID, baseURL string, validity time.Duration) (*Artifact, error) {
	pt, err := i.tokens.CreateToken(ctx, fileID, validity)
	if err != nil {
		return nil, fmt.Errorf("failed to create token, %w", err)
	}

	redemptionURL := RedemptionURL(baseURL, pt.Token)

	png, err := i.renderer.Render(redemptionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code, %w", err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	key := "qrcodes/qr_" + id + ".png"

	loc, err := i.blobs.Put(ctx, key, bytes.NewReader(png), int64(len(png)), i.renderer.ContentType())
	if err != nil {
		return nil, fmt.Errorf("failed to store qr code, %w", err)
	}

	q := &model.QRCode{
		FileID:        fileID,
		TokenID:       pt.ID,
		ImageKey:      loc.Key,
		RedemptionURL: redemptionURL,
		ExpiresAt:     pt.ExpiresAt,
	}

	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(q).Error; err != nil {
			return err
		}

		q.ImageURL = loc.URL
		if !loc.IsPublic() {
			q.ImageURL = i.apiURL + "/api/qrcodes/" + q.ID + "/image"
		}

		return tx.Model(q).Update("image_url", q.ImageURL).Error
	})
	if err != nil {
		if derr := i.blobs.Delete(context.WithoutCancel(ctx), loc.Key); derr != nil {
			zap.L().Error("Failed to cleanup qr image", zap.String("key", loc.Key), zap.Error(derr))
		}

		return nil, fmt.Errorf("failed to save qr code, %w", err)
	}

	// One live code per file
	if n, err := i.tokens.CloseForFile(ctx, fileID, pt.Token); err != nil {
		zap.L().Warn("Failed to close previous tokens", zap.String("fileID", fileID), zap.Error(err))
	} else if n > 0 {
		zap.L().Debug("Closed previous tokens", zap.String("fileID", fileID), zap.Int64("count", n))
	}

	qrIssued.Inc()

	return &Artifact{
		QRCode:    q,
		Token:     pt.Token,
		ExpiresAt: pt.ExpiresAt,
	}, nil
}

// Image opens the stored image of a QR code
func (i *Issuer) Image(ctx context.Context, id string) (*blob.Object, error) {
	var q model.QRCode

	err := i.db.WithContext(ctx).Where("id = ?", id).Take(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	obj, err := i.blobs.Get(ctx, q.ImageKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	obj.ContentType = i.renderer.ContentType()
	return obj, nil
}
