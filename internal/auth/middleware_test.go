package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/tradergate/internal/models"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestAuthMiddleware(t *testing.T) {
	tm, _ := newTestTokenManager()
	access, err := tm.GenerateAccessToken(testTrader())
	require.NoError(t, err)
	challenge, err := tm.GenerateMFAChallenge("user-1", "trader1")
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"challenge token refused", "Bearer " + challenge, http.StatusUnauthorized},
		{"valid access token", "Bearer " + access, http.StatusOK},
		{"lowercase scheme", "bearer " + access, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			var seen *models.TokenClaims
			handler := AuthMiddleware(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				seen = GetUserFromContext(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.True(t, called)
				require.NotNil(t, seen)
				assert.Equal(t, "user-1", seen.UserID)
			} else {
				assert.False(t, called)
				assert.Equal(t, pkghttp.ErrCodeUnauthorized, errorCode(t, w))
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		claims     *models.TokenClaims
		wantStatus int
	}{
		{"no claims", nil, http.StatusUnauthorized},
		{"trader forbidden", &models.TokenClaims{UserID: "u", Role: models.RoleTrader}, http.StatusForbidden},
		{"reviewer allowed", &models.TokenClaims{UserID: "u", Role: models.RoleReviewer}, http.StatusOK},
		{"admin allowed", &models.TokenClaims{UserID: "u", Role: models.RoleAdmin}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			handler := RequireRole(models.RoleAdmin, models.RoleReviewer)(okHandler(&called))

			req := httptest.NewRequest(http.MethodGet, "/api/admin/payments", nil)
			if tt.claims != nil {
				req = req.WithContext(contextWithClaims(req, tt.claims))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
		})
	}
}

func TestGetUserFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetUserFromContext(req))
	assert.Nil(t, GetAccessFromContext(req))
}
