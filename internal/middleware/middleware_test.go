package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/card-service/internal/config"
	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const testSecret = "middleware-secret"

func signToken(t *testing.T, sub, role string, exp time.Time) string {
	t.Helper()
	claims := service.TokenClaims{Role: role}
	claims.Subject = sub
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// echoPrincipal writes 200 and records the principal it saw
func echoPrincipal(got *models.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFrom(r.Context()); ok {
			*got = p
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: testSecret}
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		header string
		status int
		want   models.Principal
	}{
		{"valid user", "Bearer " + signToken(t, "7", "USER", future), http.StatusOK, models.Principal{UserID: 7, Role: models.RoleUser}},
		{"valid admin", "Bearer " + signToken(t, "1", "ADMIN", future), http.StatusOK, models.Principal{UserID: 1, Role: models.RoleAdmin}},
		{"missing header", "", http.StatusUnauthorized, models.Principal{}},
		{"wrong scheme", "Basic dXNlcjpwdw==", http.StatusUnauthorized, models.Principal{}},
		{"empty token", "Bearer ", http.StatusUnauthorized, models.Principal{}},
		{"expired", "Bearer " + signToken(t, "7", "USER", time.Now().Add(-time.Minute)), http.StatusUnauthorized, models.Principal{}},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized, models.Principal{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got models.Principal
			h := AuthMiddleware(cfg)(echoPrincipal(&got))
			req := httptest.NewRequest(http.MethodGet, "/cards", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if got != tt.want {
				t.Errorf("principal = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name   string
		ctx    func(context.Context) context.Context
		status int
	}{
		{"admin", func(c context.Context) context.Context {
			return WithPrincipal(c, models.Principal{UserID: 1, Role: models.RoleAdmin})
		}, http.StatusOK},
		{"user", func(c context.Context) context.Context {
			return WithPrincipal(c, models.Principal{UserID: 2, Role: models.RoleUser})
		}, http.StatusForbidden},
		{"anonymous", func(c context.Context) context.Context { return c }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got models.Principal
			req := httptest.NewRequest(http.MethodGet, "/admin/cards", nil)
			req = req.WithContext(tt.ctx(req.Context()))
			rec := httptest.NewRecorder()
			RequireAdmin(echoPrincipal(&got)).ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var seen string
	h := RequestLogger(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("generated id %q, header %q", seen, rec.Header().Get(RequestIDHeader))
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}

	const clientID = "0f8fad5b-d9cb-469f-a165-70867728950e"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, clientID)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != clientID {
		t.Errorf("client id not reused: %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid\nforged")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "not-a-uuid\nforged" {
		t.Error("malformed client id accepted")
	}
}

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (c *fakeCounter) Hit(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[key]++
	return c.counts[key], nil
}

func TestRateLimit(t *testing.T) {
	counter := &fakeCounter{}
	var got models.Principal
	h := RateLimit(counter, DecryptKeyPrefix, 2, time.Minute, quietLogger())(echoPrincipal(&got))

	do := func(userID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/cards/1/number", nil)
		req = req.WithContext(WithPrincipal(req.Context(), models.Principal{UserID: userID, Role: models.RoleUser}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do(1); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	rec := do(1)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("headers = %v", rec.Header())
	}

	// limits are per caller
	if rec := do(2); rec.Code != http.StatusOK {
		t.Errorf("other user status = %d", rec.Code)
	}
	if _, ok := counter.counts[DecryptKeyPrefix+"user:2"]; !ok {
		t.Errorf("keys = %v", counter.counts)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	counter := &fakeCounter{err: errors.New("connection refused")}
	h := RateLimit(counter, DecryptKeyPrefix, 1, time.Minute, quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 while counter is down", rec.Code)
		}
	}
}

func TestCallerKeyFallsBackToAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5123"
	if got := callerKey(req); got != "ip:203.0.113.9" {
		t.Errorf("callerKey = %q", got)
	}
}
