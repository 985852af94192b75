package util

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	assert.Len(t, a, 64)

	b, err := GenerateToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = GenerateToken(0)
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\scan.png`, "scan.png"},
		{"evil\"\r\n.pdf", "evil.pdf"},
		{"", "document"},
		{"..", "document"},
		{"a\tb\x00c.pdf", "abc.pdf"},
		{"bad\xffname.pdf", "badname.pdf"},
		{"\x1b[31mred.pdf", "[31mred.pdf"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}

func TestSanitizeFilenameTruncatesOnRuneBoundary(t *testing.T) {
	got := SanitizeFilename("a" + strings.Repeat("é", 100) + ".pdf")

	assert.True(t, utf8.ValidString(got), "got %q", got)
	assert.LessOrEqual(t, len(got), maxFilenameLen)
	assert.Equal(t, "a"+strings.Repeat("é", 97)+".pdf", got)

	got = SanitizeFilename(strings.Repeat("名", 100))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("名", 66), got)
}
