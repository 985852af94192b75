// Package redeem implements the three phase handshake a print kiosk uses to
// turn a token into file bytes: metadata, content and completion
package redeem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vishant8491/Kawach/internal/blob"
	"github.com/vishant8491/Kawach/internal/model"
	"github.com/vishant8491/Kawach/internal/registry"
	"github.com/vishant8491/Kawach/internal/token"
	"go.uber.org/zap"
)

var (
	redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kawach_redemptions_total",
		Help: "Redemption requests by phase and outcome",
	}, []string{"phase", "outcome"})

	blobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kawach_redemption_blob_retries_total",
		Help: "Blob reads retried while serving content",
	})
)

type Files interface {
	Get(ctx context.Context, id string) (*model.File, error)
}

// Metadata is returned by the first phase. ContentPath is where the bytes
// can be fetched from
type Metadata struct {
	Filename    string `json:"filename"`
	MimeType    string `json:"mimetype"`
	Size        int64  `json:"size"`
	ContentPath string `json:"contentPath"`
}

type Option func(*Service)

// WithRetries sets how many times a blob read is attempted and the delay
// before the first retry. Later retries back off exponentially
func WithRetries(attempts int, delay time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if delay > 0 {
			s.delay = delay
		}
	}
}

type Service struct {
	tokens   *token.Manager
	files    Files
	blobs    blob.Store
	attempts int
	delay    time.Duration
}

func New(tokens *token.Manager, files Files, blobs blob.Store, opts ...Option) *Service {
	s := &Service{
		tokens:   tokens,
		files:    files,
		blobs:    blobs,
		attempts: 3,
		delay:    200 * time.Millisecond,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

func ContentPath(tok string) string {
	return "/api/redeem/" + tok + "/content"
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, token.ErrNotFound):
		return "not_found"
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, blob.ErrUnavailable):
		return "blob_unavailable"
	default:
		return "error"
	}
}

// resolve redeems tok and looks up the file it points to. A file that has
// disappeared is treated like an unknown token
func (s *Service) resolve(ctx context.Context, tok string, meta token.RequestMeta) (*model.File, error) {
	fileID, err := s.tokens.ValidateAndMarkUsed(ctx, tok, meta)
	if err != nil {
		return nil, err
	}

	f, err := s.files.Get(ctx, fileID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", token.ErrStoreUnavailable, err)
	}

	return f, nil
}

// Metadata is the first phase. It marks the token used but not delivered so
// the following phases can still be retried
func (s *Service) Metadata(ctx context.Context, tok string, meta token.RequestMeta) (*Metadata, error) {
	f, err := s.resolve(ctx, tok, meta)
	redemptions.WithLabelValues("metadata", outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	return &Metadata{
		Filename:    f.Filename,
		MimeType:    f.MimeType,
		Size:        f.Size,
		ContentPath: ContentPath(tok),
	}, nil
}

// Open is the second phase. The token is validated again and the blob is
// opened, retrying transient store failures. The caller must close the
// object body
func (s *Service) Open(ctx context.Context, tok string, meta token.RequestMeta) (*model.File, *blob.Object, error) {
	f, err := s.resolve(ctx, tok, meta)
	if err != nil {
		redemptions.WithLabelValues("content", outcome(err)).Inc()
		return nil, nil, err
	}

	obj, err := s.openBlob(ctx, f.BlobKey)
	redemptions.WithLabelValues("content", outcome(err)).Inc()
	if err != nil {
		return nil, nil, err
	}

	return f, obj, nil
}

func (s *Service) openBlob(ctx context.Context, key string) (*blob.Object, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.delay
	b.MaxElapsedTime = 0

	var obj *blob.Object

	op := func() error {
		var err error

		obj, err = s.blobs.Get(ctx, key)
		if err == nil {
			return nil
		}

		// Only transient store failures are worth another attempt
		if !errors.Is(err, blob.ErrUnavailable) {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, next time.Duration) {
		blobRetries.Inc()
		zap.L().Warn("Retrying blob read", zap.String("key", key), zap.Duration("in", next), zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.attempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}

	return obj, nil
}

// Complete is the last phase. The token is closed for good whatever state it
// was in
func (s *Service) Complete(ctx context.Context, tok string) error {
	err := s.tokens.ForceClose(ctx, tok)
	redemptions.WithLabelValues("complete", outcome(err)).Inc()

	return err
}
