package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/agencyctl/internal/devserver"
	"github.com/vovakirdan/agencyctl/internal/identity/local"
)

const (
	testUID   = "user-1"
	testEmail = "alice@example.com"
)

type testEnv struct {
	server  *httptest.Server
	backend *devserver.Backend
	jwt     *local.JWTConfig
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtConfig := &local.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
	backend := devserver.NewBackend()
	router := NewRouter(backend, local.NewProvider(jwtConfig), DefaultBasePath, rateLimit, nil)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, backend: backend, jwt: jwtConfig}
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	tok, err := local.GenerateToken(e.jwt, testUID, testEmail, time.Now())
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}
