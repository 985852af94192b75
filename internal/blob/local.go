package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// LocalStore keeps objects on a filesystem. It has no public endpoint so
// locators use the local:// scheme and the bytes are served through the API
type LocalStore struct {
	fs afero.Fs
}

// NewLocal stores objects under root on the host filesystem
func NewLocal(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("no storage path provided")
	}

	base := afero.NewOsFs()
	if err := base.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory, %w", err)
	}

	return NewLocalFromFs(afero.NewBasePathFs(base, root)), nil
}

// NewLocalFromFs uses fs as the root of the store
func NewLocalFromFs(fs afero.Fs) *LocalStore {
	return &LocalStore{fs: fs}
}

func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}

	if path.Clean(key) != key {
		return ErrInvalidKey
	}

	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return ErrInvalidKey
		}
	}

	return nil
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Locator, error) {
	if err := checkKey(key); err != nil {
		return Locator{}, err
	}

	if err := ctx.Err(); err != nil {
		return Locator{}, err
	}

	if ok, _ := afero.Exists(s.fs, key); ok {
		return Locator{}, fmt.Errorf("object %s already exists", key)
	}

	if err := afero.WriteReader(s.fs, key, r); err != nil {
		s.fs.Remove(key)
		return Locator{}, fmt.Errorf("%w: failed to write %s, %w", ErrUnavailable, key, err)
	}

	return Locator{Key: key, URL: "local://" + key}, nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	mime, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return &Object{
		Body:        f,
		ContentType: mime.String(),
		Size:        st.Size(),
	}, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	err := s.fs.Remove(key)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return nil
}
