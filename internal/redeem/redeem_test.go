package redeem

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishant8491/Kawach/db"
	"github.com/vishant8491/Kawach/internal/blob"
	"github.com/vishant8491/Kawach/internal/model"
	"github.com/vishant8491/Kawach/internal/registry"
	"github.com/vishant8491/Kawach/internal/token"
)

// flakyStore fails the first n reads with a transient error
type flakyStore struct {
	blob.Store
	failures atomic.Int32
	calls    atomic.Int32
}

func (s *flakyStore) Get(ctx context.Context, key string) (*blob.Object, error) {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return nil, blob.ErrUnavailable
	}

	return s.Store.Get(ctx, key)
}

type fixture struct {
	svc    *Service
	tokens *token.Manager
	store  *flakyStore
	file   *model.File
	clock  *time.Time
}

func newFixture(t *testing.T, failures int32, opts ...Option) *fixture {
	t.Helper()

	d, err := db.Open("sqlite", filepath.Join(t.TempDir(), "redeem.db"))
	require.NoError(t, err)

	sqlDB, err := d.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{clock: &now}

	f.tokens = token.NewManager(d, token.WithClock(func() time.Time { return *f.clock }))
	f.store = &flakyStore{Store: blob.NewLocalFromFs(afero.NewMemMapFs())}
	f.store.failures.Store(failures)

	reg := registry.New(d, f.store, f.tokens)
	f.file, err = reg.Create(context.Background(), registry.Upload{
		OwnerID:  "user-1",
		Filename: "invoice.pdf",
		MimeType: "application/pdf",
		Size:     int64(len("%PDF-1.4 invoice")),
		Body:     strings.NewReader("%PDF-1.4 invoice"),
	})
	require.NoError(t, err)

	f.svc = New(f.tokens, reg, f.store, append([]Option{WithRetries(3, time.Millisecond)}, opts...)...)
	return f
}

var meta = token.RequestMeta{IPAddress: "127.0.0.1", UserAgent: "test"}

func TestFullHandshake(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	pt, err := f.tokens.CreateToken(ctx, f.file.ID, time.Hour)
	require.NoError(t, err)

	md, err := f.svc.Metadata(ctx, pt.Token, meta)
	require.NoError(t, err)
	assert.Equal(t, "invoice.pdf", md.Filename)
	assert.Equal(t, "application/pdf", md.MimeType)
	assert.Equal(t, "/api/redeem/"+pt.Token+"/content", md.ContentPath)

	file, obj, err := f.svc.Open(ctx, pt.Token, meta)
	require.NoError(t, err)
	data, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 invoice", string(data))
	assert.Equal(t, f.file.ID, file.ID)

	// Content can be fetched again until completion
	_, obj, err = f.svc.Open(ctx, pt.Token, meta)
	require.NoError(t, err)
	obj.Body.Close()

	require.NoError(t, f.svc.Complete(ctx, pt.Token))
	require.NoError(t, f.svc.Complete(ctx, pt.Token))

	_, err = f.svc.Metadata(ctx, pt.Token, meta)
	assert.ErrorIs(t, err, token.ErrAlreadyUsed)

	_, _, err = f.svc.Open(ctx, pt.Token, meta)
	assert.ErrorIs(t, err, token.ErrAlreadyUsed)
}

func TestMetadataErrors(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.Metadata(ctx, "unknown", meta)
	assert.ErrorIs(t, err, token.ErrNotFound)

	pt, err := f.tokens.CreateToken(ctx, f.file.ID, time.Minute)
	require.NoError(t, err)

	*f.clock = f.clock.Add(61 * time.Second)

	_, err = f.svc.Metadata(ctx, pt.Token, meta)
	assert.ErrorIs(t, err, token.ErrExpired)
}

func TestOpenRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	pt, err := f.tokens.CreateToken(ctx, f.file.ID, time.Hour)
	require.NoError(t, err)

	_, obj, err := f.svc.Open(ctx, pt.Token, meta)
	require.NoError(t, err)
	obj.Body.Close()

	assert.EqualValues(t, 3, f.store.calls.Load())
}

func TestOpenGivesUpAfterRetries(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	pt, err := f.tokens.CreateToken(ctx, f.file.ID, time.Hour)
	require.NoError(t, err)

	_, _, err = f.svc.Open(ctx, pt.Token, meta)
	assert.ErrorIs(t, err, blob.ErrUnavailable)
	assert.EqualValues(t, 3, f.store.calls.Load())

	// The token wasn't consumed by the failure
	got, err := f.tokens.Get(ctx, pt.Token)
	require.NoError(t, err)
	assert.False(t, got.ResponseDelivered)
}

func TestOpenDoesNotRetryMissingBlob(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.store.Delete(ctx, f.file.BlobKey))

	pt, err := f.tokens.CreateToken(ctx, f.file.ID, time.Hour)
	require.NoError(t, err)

	_, _, err = f.svc.Open(ctx, pt.Token, meta)
	assert.ErrorIs(t, err, blob.ErrNotFound)
	assert.EqualValues(t, 1, f.store.calls.Load())
}

func TestCompleteUnknownToken(t *testing.T) {
	f := newFixture(t, 0)

	assert.ErrorIs(t, f.svc.Complete(context.Background(), "unknown"), token.ErrNotFound)
}
