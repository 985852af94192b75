package validators

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrFileNameTooLong     = errors.New("file name is too long")
	ErrFileTypeUnsupported = errors.New("unsupported file type")
	ErrNoFile              = errors.New("no file provided")
)

const maxFileNameSize = 255

// Content types accepted for each extension. Legacy .doc files are plain
// OLE containers so the generic OLE type is accepted too
var extensionTypes = map[string][]string{
	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"png":  {"image/png"},
	"pdf":  {"application/pdf"},
	"doc":  {"application/msword", "application/x-ole-storage"},
	"docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
}

// DefaultAllowedTypes is the list of extensions accepted for upload
var DefaultAllowedTypes = []string{"jpg", "jpeg", "png", "pdf", "doc", "docx"}

// FileValidator checks the uploaded file against the size limit and the allowed
// extensions. The content is sniffed so a renamed file doesn't get through. On
// success the opened file is returned rewound to the start together with the
// detected MIME type
func FileValidator(fh *multipart.FileHeader, maxSize int64, allowed []string) (int, multipart.File, string, error) {
	if fh == nil {
		return http.StatusBadRequest, nil, "", ErrNoFile
	}

	if len(fh.Filename) > maxFileNameSize {
		return http.StatusBadRequest, nil, "", ErrFileNameTooLong
	}

	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fh.Filename), "."))
	if !slices.Contains(allowed, ext) {
		return http.StatusBadRequest, nil, "", ErrFileTypeUnsupported
	}

	if maxSize > 0 && fh.Size > maxSize {
		return http.StatusRequestEntityTooLarge, nil, "", ErrFileTooLarge
	}

	// And now do the checks on the actual file to avoid
	// malicious clients
	f, err := fh.Open()
	if err != nil {
		return http.StatusInternalServerError, nil, "", err
	}

	mime, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return http.StatusInternalServerError, nil, "", err
	}

	if !matchesExtension(mime, ext) {
		f.Close()
		return http.StatusBadRequest, nil, "", ErrFileTypeUnsupported
	}

	if maxSize > 0 {
		if _, err := f.Seek(maxSize, io.SeekStart); err != nil {
			f.Close()
			return http.StatusInternalServerError, nil, "", err
		}

		buf := make([]byte, 1)
		n, err := f.Read(buf)
		if err != nil && err != io.EOF {
			f.Close()
			return http.StatusInternalServerError, nil, "", err
		}

		if n > 0 {
			f.Close()
			return http.StatusRequestEntityTooLarge, nil, "", ErrFileTooLarge
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return http.StatusInternalServerError, nil, "", err
	}

	ct := mime.String()
	if i := strings.IndexByte(ct, ';'); i != -1 {
		ct = ct[:i]
	}

	return 0, f, ct, nil
}

func matchesExtension(mime *mimetype.MIME, ext string) bool {
	for _, want := range extensionTypes[ext] {
		if mime.Is(want) {
			return true
		}
	}

	return false
}
