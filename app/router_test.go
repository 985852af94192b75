package app

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishant8491/Kawach/config"
	"github.com/vishant8491/Kawach/db"
	"github.com/vishant8491/Kawach/internal/blob"
	"github.com/vishant8491/Kawach/internal/token"
)

var pdfData = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	clock  *clock
	auth   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	viper.Reset()
	config.SetDefaults()
	viper.Set("jwt.secret", "test-secret")
	viper.Set("security.rate_limit", 1000)
	viper.Set("host.public_url", "http://api.test")
	viper.Set("host.frontend_url", "https://kawach.test")
	viper.Set("redeem.retry_backoff", time.Millisecond)
	config.Normalize()
	t.Cleanup(viper.Reset)

	database, err := db.Open("sqlite", filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	c := &clock{t: time.Now().UTC()}
	d := NewDeps(database, blob.NewLocalFromFs(afero.NewMemMapFs()), token.WithClock(c.Now))

	return &testServer{t: t, router: NewEngine(d), clock: c}
}

func (s *testServer) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "192.0.2.1:4000"
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.auth != "" && strings.HasPrefix(path, "/api/files") {
		req.Header.Set("Authorization", "Bearer "+s.auth)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) json(method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(b)
	}

	return s.do(method, path, r, "application/json")
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) login() {
	w := s.json(http.MethodPost, "/api/users", map[string]string{"email": "owner@example.com", "password": "password123"})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	w = s.json(http.MethodPost, "/api/users/login", map[string]string{"email": "owner@example.com", "password": "password123"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	s.auth = decode(s.t, w)["token"].(string)
}

func (s *testServer) upload(name string, data []byte) string {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(s.t, err)
	part.Write(data)
	require.NoError(s.t, mw.Close())

	w := s.do(http.MethodPost, "/api/files", &buf, mw.FormDataContentType())
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	out := decode(s.t, w)
	assert.Equal(s.t, "application/pdf", out["mimetype"])
	assert.NotEmpty(s.t, out["blobLocator"])

	return out["fileId"].(string)
}

// issue returns the redemption token of a fresh QR code
func (s *testServer) issue(fileID string, validityMinutes int) (string, map[string]any) {
	var body any
	if validityMinutes > 0 {
		body = map[string]int{"validityMinutes": validityMinutes}
	}

	w := s.json(http.MethodPost, "/api/files/"+fileID+"/qrcode", body)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	out := decode(s.t, w)
	redemptionURL := out["redemptionUrl"].(string)
	require.True(s.t, strings.HasPrefix(redemptionURL, "https://kawach.test/print/"))

	return strings.TrimPrefix(redemptionURL, "https://kawach.test/print/"), out
}

func TestRedemptionHandshake(t *testing.T) {
	s := newTestServer(t)
	s.login()

	fileID := s.upload("contract.pdf", pdfData)
	tok, _ := s.issue(fileID, 0)

	w := s.do(http.MethodGet, "/api/redeem/"+tok, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	md := decode(t, w)
	assert.Equal(t, "contract.pdf", md["filename"])
	assert.Equal(t, "application/pdf", md["mimetype"])
	assert.Equal(t, "/api/redeem/"+tok+"/content", md["contentPath"])

	w = s.do(http.MethodGet, "/api/redeem/"+tok+"/content", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, pdfData, w.Body.Bytes())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store, max-age=0", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, `inline; filename="contract.pdf"`, w.Header().Get("Content-Disposition"))

	w = s.do(http.MethodPost, "/api/redeem/"+tok+"/complete", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/redeem/"+tok, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "this link has already been used", decode(t, w)["error"])

	w = s.do(http.MethodGet, "/api/redeem/"+tok+"/content", nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Completion is always acknowledged
	w = s.do(http.MethodPost, "/api/redeem/"+tok+"/complete", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRedeemUnknownToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/redeem/never-issued", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "invalid link", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/api/redeem/never-issued/complete", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRedeemExpiredToken(t *testing.T) {
	s := newTestServer(t)
	s.login()

	fileID := s.upload("scan.pdf", pdfData)
	tok, _ := s.issue(fileID, 1)

	s.clock.Advance(61 * time.Second)

	w := s.do(http.MethodGet, "/api/redeem/"+tok, nil, "")
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "this link has expired", decode(t, w)["error"])
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	s := newTestServer(t)
	s.login()

	fileID := s.upload("scan.pdf", pdfData)
	first, _ := s.issue(fileID, 0)
	second, out := s.issue(fileID, 0)

	w := s.do(http.MethodGet, "/api/redeem/"+first, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/redeem/"+second, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/files/"+fileID+"/qrcode", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	latest := decode(t, w)
	assert.Equal(t, out["qrCodeId"], latest["qrCodeId"])
	assert.Equal(t, "scan.pdf", latest["filename"])

	imageURL := out["qrImageUrl"].(string)
	require.True(t, strings.HasPrefix(imageURL, "http://api.test/api/qrcodes/"))

	w = s.do(http.MethodGet, strings.TrimPrefix(imageURL, "http://api.test"), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", w.Body.String()[:4])
}

func TestDeleteFileInvalidatesTokens(t *testing.T) {
	s := newTestServer(t)
	s.login()

	fileID := s.upload("scan.pdf", pdfData)
	tok, _ := s.issue(fileID, 0)

	w := s.do(http.MethodDelete, "/api/files/"+fileID, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/redeem/"+tok, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/files/"+fileID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/files", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	s.login()
	fileID := s.upload("a.pdf", pdfData)
	s.upload("b.pdf", pdfData)

	w = s.do(http.MethodGet, "/api/files?sort=az", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	files := decode(t, w)["files"].([]any)
	require.Len(t, files, 2)
	assert.Equal(t, "a.pdf", files[0].(map[string]any)["filename"])

	w = s.do(http.MethodGet, "/api/files?sort=random", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/files/"+fileID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fileID, decode(t, w)["id"])

	w = s.do(http.MethodGet, "/api/files/"+fileID+"/qrcode", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.json(http.MethodPost, "/api/files/"+fileID+"/qrcode", map[string]int{"validityMinutes": 100000})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	s := newTestServer(t)
	s.login()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "virus.exe")
	part.Write([]byte("MZ\x90\x00"))
	mw.Close()

	w := s.do(http.MethodPost, "/api/files", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)
	s.login()

	w := s.json(http.MethodPost, "/api/users/login", map[string]string{"email": "owner@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.json(http.MethodPost, "/api/users", map[string]string{"email": "owner@example.com", "password": "password123"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPublicRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodHead, "/api/heartbeat", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/settings", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	settings := decode(t, w)
	assert.EqualValues(t, 60, settings["qrDisplaySeconds"])
	assert.EqualValues(t, 10<<20, settings["maxUploadSize"])

	w = s.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kawach_http_requests_total")
}
