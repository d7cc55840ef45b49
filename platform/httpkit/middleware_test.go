package httpkit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type jwtConfigStub string

func (s jwtConfigStub) GetJWTAccessSecret() string { return string(s) }

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthRequiredExposesIdentityAndRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	engine := gin.New()
	engine.GET("/admin", AuthRequired(jwtConfigStub("s3cret")), RequireRole("admin"), func(c *gin.Context) {
		id := MustGetIdentity(c)
		if id == nil {
			return
		}
		c.String(http.StatusOK, id.Actor())
	})

	token := signToken(t, "s3cret", jwt.MapClaims{
		"sub":   userID.String(),
		"type":  "access",
		"roles": []string{"admin"},
		"name":  "alice",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "alice" {
		t.Fatalf("expected actor alice, got %q", rec.Body.String())
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/admin", AuthRequired(jwtConfigStub("s3cret")), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	token := signToken(t, "s3cret", jwt.MapClaims{
		"sub":   uuid.NewString(),
		"type":  "access",
		"roles": []string{"executive"},
	})
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error != errForbidden {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/me", AuthRequired(jwtConfigStub("s3cret")), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error != errMissingToken {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRequestLoggerCarriesRequestAndUserIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	log := &logger.Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	engine := gin.New()
	engine.Use(RequestID(), RequestLogger(log), func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), logger.UserIDKey, "user-7")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Header().Get(HeaderRequestID) != "req-42" {
		t.Fatalf("request id not echoed")
	}
	line := buf.String()
	if !strings.Contains(line, `"request_id":"req-42"`) || !strings.Contains(line, `"user_id":"user-7"`) {
		t.Fatalf("request log missing ids: %s", line)
	}
}

func TestHandleErrorMapsKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("visitor not found"), http.StatusNotFound},
		{apperr.Conflict("stale"), http.StatusConflict},
		{apperr.Unavailable("db down"), http.StatusServiceUnavailable},
		{http.ErrAbortHandler, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		if !HandleError(c, tc.err) {
			t.Fatalf("expected error to be handled")
		}
		if rec.Code != tc.want {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
		if tc.want == http.StatusInternalServerError && !strings.Contains(rec.Body.String(), msgInternalError) {
			t.Fatalf("untyped error leaked: %s", rec.Body.String())
		}
	}
}

func TestHandleErrorExposesValidationDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	HandleError(c, apperr.Validation("validation failed").WithDetails(map[string]string{"phone": "required"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "validation failed" || body.Details["phone"] != "required" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestIntakeRateLimiterBlocksBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewIntakeRateLimiter(nil)
	engine := gin.New()
	engine.POST("/intake", limiter.RateLimit(), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	var last int
	for i := 0; i < 11; i++ {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/intake", nil))
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last)
	}
}
