package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishant8491/Kawach/db"
	"github.com/vishant8491/Kawach/internal/model"
	"github.com/vishant8491/Kawach/pkg/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(NewRequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.MustGet("requestID").(string)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Body.String(), 10)
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id_1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "upstream-id_1", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nwith newline")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Len(t, w.Body.String(), 10)
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiterMiddleware(RateLimiterConfig{RequestsPerSecond: 1, Burst: 2, TTL: time.Minute}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := []int{}
	for range 3 {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Other visitors have their own bucket
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTMiddleware(t *testing.T) {
	d, err := db.Open("sqlite", filepath.Join(t.TempDir(), "mw.db"))
	require.NoError(t, err)
	sqlDB, _ := d.DB()
	t.Cleanup(func() { sqlDB.Close() })

	user := &model.User{Email: "a@b.c", PasswordHash: "x"}
	require.NoError(t, d.Create(user).Error)

	r := gin.New()
	r.Use(NewRequestIDMiddleware(), NewJWTMiddleware(d, "secret"))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.MustGet("userID").(string)) })

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage").Code)

	tok, err := security.SignAuthToken("secret", user.ID, time.Hour)
	require.NoError(t, err)

	w := call("Bearer " + tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.ID, w.Body.String())

	ghost, err := security.SignAuthToken("secret", "deleted-user", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+ghost).Code)
}

func TestTurnstile(t *testing.T) {
	verify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"response":"good"`) {
			w.Write([]byte(`{"success":true}`))
			return
		}
		w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer verify.Close()

	old := turnstileVerifyURL
	turnstileVerifyURL = verify.URL
	defer func() { turnstileVerifyURL = old }()

	r := gin.New()
	r.POST("/", NewTurnstileMiddleware(true, "secret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(tok string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tok != "" {
			req.Header.Set("TurnstileToken", tok)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusBadRequest, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("bad"))
	assert.Equal(t, http.StatusOK, call("good"))

	off := gin.New()
	off.POST("/", NewTurnstileMiddleware(false, ""), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	off.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBodySizeLimiter(t *testing.T) {
	r := gin.New()
	r.POST("/", BodySizeLimiter(4), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.Equal(t, http.StatusOK, w.Code)
}
