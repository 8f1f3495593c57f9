package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	apppkg "github.com/aidly/aidly-go/cmd/api/app"
	authpkg "github.com/aidly/aidly-go/cmd/api/auth"
)

func TestMiddlewarePopulatesUserFromClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := apppkg.Config{Env: "test", OIDCGroupClaim: "roles"}
	key := []byte("secret")
	keyf := func(t *jwt.Token) (any, error) { return key, nil }

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user-123",
		"email": "user@example.com",
		"name":  "User Name",
		"roles": []string{"agent", "manager"},
	})
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	a := apppkg.NewApp(cfg, nil, keyf, nil, nil, nil, nil)
	a.R.GET("/me", authpkg.Middleware(a), authpkg.Me)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	a.R.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var u authpkg.AuthUser
	if err := json.Unmarshal(rr.Body.Bytes(), &u); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if u.Email != "user@example.com" || u.DisplayName != "User Name" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(u.Roles) != 2 || u.Roles[0] != "agent" || u.Roles[1] != "manager" {
		t.Fatalf("roles not populated: %+v", u.Roles)
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := apppkg.Config{Env: "test"}
	keyf := func(t *jwt.Token) (any, error) { return []byte("secret"), nil }
	a := apppkg.NewApp(cfg, nil, keyf, nil, nil, nil, nil)
	a.R.GET("/me", authpkg.Middleware(a), authpkg.Me)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := apppkg.Config{Env: "test", OIDCGroupClaim: "roles"}
	key := []byte("secret")
	keyf := func(t *jwt.Token) (any, error) { return key, nil }
	a := apppkg.NewApp(cfg, nil, keyf, nil, nil, nil, nil)
	a.R.GET("/admin-only", authpkg.Middleware(a), authpkg.RequireRole("manager"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	sign := func(roles []string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "u", "roles": roles,
		})
		s, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"agent_forbidden", []string{"agent"}, http.StatusForbidden},
		{"manager_allowed", []string{"manager"}, http.StatusOK},
		{"admin_passes_all", []string{"admin"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin-only", nil)
			req.Header.Set("Authorization", "Bearer "+sign(tt.roles))
			a.R.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}
