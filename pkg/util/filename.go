package util

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFilenameLen = 200

// SanitizeFilename strips directory parts, quotes and control characters from a
// client supplied file name so it can be used inside a Content-Disposition
// header or an object key. The result is always valid UTF-8
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || r == '"' || r == ';' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == ".." || name == "/" {
		return "document"
	}

	if len(name) > maxFilenameLen {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}

		cut := maxFilenameLen - len(ext)
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + ext
	}

	return name
}
