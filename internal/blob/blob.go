// Package blob stores the uploaded documents and the rendered QR images.
// Objects are written once under a key chosen by the caller and never modified
package blob

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrUnavailable = errors.New("blob store unavailable")
	ErrInvalidKey  = errors.New("invalid blob key")
)

// Locator identifies a stored object. Stores without a public endpoint
// return a scheme specific URL such as s3:// or local://
type Locator struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Object is an open stored object. The caller must close Body
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Locator, error)
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// IsPublic reports whether the locator can be handed to a browser directly
func (l Locator) IsPublic() bool {
	return strings.HasPrefix(l.URL, "http://") || strings.HasPrefix(l.URL, "https://")
}
