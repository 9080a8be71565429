package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/health-ledger/internal/model"
	"github.com/jwalitptl/health-ledger/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", "test")
	m := NewAuthMiddleware(jwtSvc, time.Minute)

	engine := gin.New()
	engine.GET("/whoami", m.Authenticate(), func(c *gin.Context) {
		c.String(http.StatusOK, string(Caller(c)))
	})

	token, err := jwtSvc.GenerateToken("alice", time.Hour)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := serve(engine, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "alice", w.Body.String())
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic " + token},
		{"empty token", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, http.StatusUnauthorized, serve(engine, req).Code)
		})
	}
}

func TestCallerOutsideAuthenticate(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, model.Principal(""), Caller(c))
}

func TestRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	tests := []struct {
		name    string
		inbound string
		echoed  bool
	}{
		{"absent", "", false},
		{"well formed", "req-1", true},
		{"trace style", "svc.edge:42_a", true},
		{"embedded space", "req 1", false},
		{"newline injection", "req-1\nlevel=error", false},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
		{"at limit", strings.Repeat("a", maxRequestIDLen), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(HeaderXRequestID, tt.inbound)
			}
			w := serve(engine, req)
			got := w.Header().Get(HeaderXRequestID)
			assert.Equal(t, got, w.Body.String())
			if tt.echoed {
				assert.Equal(t, tt.inbound, got)
				return
			}
			_, err := uuid.Parse(got)
			assert.NoError(t, err)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	engine := gin.New()
	engine.Use(SecurityHeaders(DefaultSecurityConfig()))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}

func TestCORS(t *testing.T) {
	engine := gin.New()
	engine.Use(CORS(DefaultCORSConfig([]string{"https://portal.example.com"})))
	engine.GET("/records", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/records", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	w := serve(engine, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://portal.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	req = httptest.NewRequest(http.MethodGet, "/records", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = serve(engine, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSizeLimit(t *testing.T) {
	engine := gin.New()
	engine.Use(SizeLimit(16))
	engine.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(engine, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(engine, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 17))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 2})

	engine := gin.New()
	engine.Use(limiter.RateLimit())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(engine, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(engine, httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.9:4000"
	assert.Equal(t, http.StatusOK, serve(engine, other).Code)
}

type principalBody struct {
	Who string `json:"who" binding:"principal"`
}

func TestValidationPrincipal(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorHandler(), Validation(DefaultValidationConfig()))
	engine.POST("/", func(c *gin.Context) {
		var body principalBody
		if err := c.ShouldBindJSON(&body); err != nil {
			_ = c.Error(err)
			return
		}
		c.Status(http.StatusOK)
	})

	tests := []struct {
		body string
		code int
	}{
		{`{"who":"alice"}`, http.StatusOK},
		{`{"who":"has space"}`, http.StatusBadRequest},
		{`{"who":""}`, http.StatusBadRequest},
		{`{"who":"` + strings.Repeat("a", 257) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := serve(engine, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
		assert.Equal(t, tt.code, w.Code, tt.body)
	}

	w := serve(engine, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"who":"a b"}`)))
	assert.Contains(t, w.Body.String(), `"field":"who"`)
}

func TestErrorHandlerHidesInternalDetail(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorHandler())
	engine.GET("/", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
	})

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}
