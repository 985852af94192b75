// Package token manages the lifecycle of one-time print tokens. Every state
// change is a single conditional UPDATE so concurrent redemptions of the same
// token can never both win a transition the other already made
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vishant8491/Kawach/internal/model"
	"github.com/vishant8491/Kawach/pkg/security"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("token not found")
	ErrExpired          = errors.New("token expired")
	ErrAlreadyUsed      = errors.New("token already used")
	ErrNotRedeemed      = errors.New("token was never redeemed")
	ErrStoreUnavailable = errors.New("token store unavailable")
)

const maxCreateAttempts = 5

var (
	tokensCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kawach_print_tokens_created_total",
		Help: "Number of print tokens persisted",
	})

	tokenCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kawach_print_token_collisions_total",
		Help: "Number of generated tokens rejected by the uniqueness constraint",
	})

	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kawach_print_token_validations_total",
		Help: "Token validations by outcome",
	}, []string{"outcome"})
)

// RequestMeta is the forensic information recorded when a token is redeemed
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type Option func(*Manager)

// WithClock replaces the time source used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

type Manager struct {
	db  *gorm.DB
	now func() time.Time
}

func NewManager(db *gorm.DB, opts ...Option) *Manager {
	m := &Manager{
		db:  db,
		now: time.Now,
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// CreateToken persists a fresh unused token for fileID that expires after validity.
// A generated value that collides with an existing token is thrown away and
// generated again
func (m *Manager) CreateToken(ctx context.Context, fileID string, validity time.Duration) (*model.PrintToken, error) {
	for range maxCreateAttempts {
		pt, err := security.MakePrintToken(&security.PrintTokenOpts{
			FileID:   fileID,
			Validity: validity,
			Now:      m.clock(),
		})
		if err != nil {
			return nil, err
		}

		err = m.db.WithContext(ctx).Create(pt).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			tokenCollisions.Inc()
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}

		tokensCreated.Inc()
		return pt, nil
	}

	return nil, fmt.Errorf("failed to generate a unique token after %d attempts", maxCreateAttempts)
}

// ValidateAndMarkUsed redeems tok and returns the ID of the file it grants
// access to. Redeeming again before delivery is confirmed succeeds and returns
// the same file
func (m *Manager) ValidateAndMarkUsed(ctx context.Context, tok string, meta RequestMeta) (string, error) {
	if tok == "" {
		validations.WithLabelValues("not_found").Inc()
		return "", ErrNotFound
	}

	now := m.clock()
	db := m.db.WithContext(ctx)

	updates := map[string]any{
		"used":    true,
		"used_at": gorm.Expr("COALESCE(used_at, ?)", now),
	}
	if meta.IPAddress != "" {
		updates["ip_address"] = meta.IPAddress
	}
	if meta.UserAgent != "" {
		updates["user_agent"] = meta.UserAgent
	}

	res := db.
		Model(&model.PrintToken{}).
		Where("token = ? AND expires_at > ? AND (used = ? OR response_delivered = ?)", tok, now, false, false).
		Updates(updates)
	if res.Error != nil {
		validations.WithLabelValues("error").Inc()
		return "", storeErr(res.Error)
	}

	if res.RowsAffected == 1 {
		var pt model.PrintToken
		if err := db.Select("file_id").Where("token = ?", tok).Take(&pt).Error; err != nil {
			validations.WithLabelValues("error").Inc()
			return "", storeErr(err)
		}

		validations.WithLabelValues("ok").Inc()
		return pt.FileID, nil
	}

	err := m.classify(ctx, tok, now)
	switch {
	case errors.Is(err, ErrNotFound):
		validations.WithLabelValues("not_found").Inc()
	case errors.Is(err, ErrExpired):
		validations.WithLabelValues("expired").Inc()
	case errors.Is(err, ErrAlreadyUsed):
		validations.WithLabelValues("already_used").Inc()
	default:
		validations.WithLabelValues("error").Inc()
	}

	return "", err
}

// classify explains why a conditional update matched no row. Expiry wins over
// reuse
func (m *Manager) classify(ctx context.Context, tok string, now time.Time) error {
	var pt model.PrintToken

	err := m.db.WithContext(ctx).Where("token = ?", tok).Take(&pt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storeErr(err)
	}

	switch {
	case pt.Redeemable(now):
		// The row changed between the update and the read
		return storeErr(errors.New("token state changed concurrently"))
	case pt.Expired(now):
		return ErrExpired
	default:
		return ErrAlreadyUsed
	}
}

// MarkDelivered records that the file behind a redeemed token reached the
// client. Calling it again is a no-op
func (m *Manager) MarkDelivered(ctx context.Context, tok string) error {
	res := m.db.WithContext(ctx).
		Model(&model.PrintToken{}).
		Where("token = ? AND used = ? AND response_delivered = ?", tok, true, false).
		Update("response_delivered", true)
	if res.Error != nil {
		return storeErr(res.Error)
	}

	if res.RowsAffected == 1 {
		return nil
	}

	pt, err := m.Get(ctx, tok)
	if err != nil {
		return err
	}

	if !pt.Used {
		return ErrNotRedeemed
	}

	return nil
}

// ForceClose makes tok permanently unusable whatever state it is in.
// Closing an already closed token is a no-op
func (m *Manager) ForceClose(ctx context.Context, tok string) error {
	now := m.clock()

	res := m.db.WithContext(ctx).
		Model(&model.PrintToken{}).
		Where("token = ? AND (used = ? OR response_delivered = ?)", tok, false, false).
		Updates(map[string]any{
			"used":               true,
			"response_delivered": true,
			"used_at":            gorm.Expr("COALESCE(used_at, ?)", now),
		})
	if res.Error != nil {
		return storeErr(res.Error)
	}

	if res.RowsAffected == 1 {
		return nil
	}

	_, err := m.Get(ctx, tok)
	return err
}

// CloseForFile force closes every open token of a file except keep, which may
// be empty. Returns the number of tokens closed
func (m *Manager) CloseForFile(ctx context.Context, fileID, keep string) (int64, error) {
	now := m.clock()

	q := m.db.WithContext(ctx).
		Model(&model.PrintToken{}).
		Where("file_id = ? AND (used = ? OR response_delivered = ?)", fileID, false, false)
	if keep != "" {
		q = q.Where("token <> ?", keep)
	}

	res := q.Updates(map[string]any{
		"used":               true,
		"response_delivered": true,
		"used_at":            gorm.Expr("COALESCE(used_at, ?)", now),
	})
	if res.Error != nil {
		return 0, storeErr(res.Error)
	}

	return res.RowsAffected, nil
}

func (m *Manager) Get(ctx context.Context, tok string) (*model.PrintToken, error) {
	var pt model.PrintToken

	err := m.db.WithContext(ctx).Where("token = ?", tok).Take(&pt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}

	return &pt, nil
}

// Sweep deletes tokens that expired more than retention ago
func (m *Manager) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := m.clock().Add(-retention)

	res := m.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&model.PrintToken{})
	if res.Error != nil {
		return 0, storeErr(res.Error)
	}

	return res.RowsAffected, nil
}
