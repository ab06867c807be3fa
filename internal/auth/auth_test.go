package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "attendance-ledger"
)

func TestIssueParse(t *testing.T) {
	pair, err := Issue("prof-1", RoleFaculty, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "prof-1", claims.Subject)
	assert.True(t, claims.IsFaculty())
	assert.Equal(t, KindAccess, claims.Kind)

	refresh, err := Parse(pair.RefreshToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, KindRefresh, refresh.Kind)
}

func TestIssueRejects(t *testing.T) {
	tests := []struct {
		name, subject, role string
	}{
		{"empty subject", "", RoleStudent},
		{"unknown role", "u1", "device"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Issue(tt.subject, tt.role, testIssuer, testKey, time.Minute, time.Hour)
			assert.Error(t, err)
		})
	}
}

func TestParseRejects(t *testing.T) {
	pair, err := Issue("s1", RoleStudent, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	expired, err := Issue("s1", RoleStudent, testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name, token, key, issuer string
	}{
		{"wrong key", pair.AccessToken, "other", testIssuer},
		{"wrong issuer", pair.AccessToken, testKey, "someone-else"},
		{"expired", expired.AccessToken, testKey, testIssuer},
		{"garbage", "not.a.token", testKey, testIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.token, tt.key, tt.issuer)
			assert.Error(t, err)
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/faculty", Bearer(testKey, testIssuer), RequireRole(RoleFaculty), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	faculty, err := Issue("prof-1", RoleFaculty, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	student, err := Issue("s1", RoleStudent, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"refresh token", "Bearer " + faculty.RefreshToken, http.StatusUnauthorized},
		{"student", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"faculty", "bearer " + faculty.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/faculty", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}
