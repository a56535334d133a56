package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"lmsrmarket/migration"
	"lmsrmarket/models"
	"lmsrmarket/setup"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.MigrateDB(db))
	return db
}

func authConfig() *setup.AuthConfig {
	return &setup.AuthConfig{JWTSecret: "test-secret", TokenLifetimeMinutes: 60}
}

func createUser(t *testing.T, db *gorm.DB, username string) *models.User {
	apiKey, err := models.GenerateAPIKey()
	require.NoError(t, err)
	user := models.User{Username: username, DisplayName: username, PasswordHash: "x", APIKey: apiKey}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func TestAPIKeyHeader(t *testing.T) {
	db := newTestDB(t)
	user := createUser(t, db, "alice")

	r := httptest.NewRequest(http.MethodGet, "/v0/users/me", nil)
	r.Header.Set("X-API-Key", user.APIKey)

	got, httpErr := ValidateTokenAndGetUser(r, db, authConfig())
	require.Nil(t, httpErr)
	assert.Equal(t, "alice", got.Username)
}

func TestAPIKeyAsBearer(t *testing.T) {
	db := newTestDB(t)
	user := createUser(t, db, "alice")

	r := httptest.NewRequest(http.MethodGet, "/v0/users/me", nil)
	r.Header.Set("Authorization", "Bearer "+user.APIKey)

	got, httpErr := ValidateTokenAndGetUser(r, db, authConfig())
	require.Nil(t, httpErr)
	assert.Equal(t, "alice", got.Username)
}

func TestInvalidAPIKey(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice")

	r := httptest.NewRequest(http.MethodGet, "/v0/users/me", nil)
	r.Header.Set("X-API-Key", "pm_sk_deadbeef")

	_, httpErr := ValidateTokenAndGetUser(r, db, authConfig())
	require.NotNil(t, httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestMalformedAPIKey(t *testing.T) {
	db := newTestDB(t)

	r := httptest.NewRequest(http.MethodGet, "/v0/users/me", nil)
	r.Header.Set("X-API-Key", "not-a-key")

	_, httpErr := ValidateTokenAndGetUser(r, db, authConfig())
	require.NotNil(t, httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestJWTRoundTrip(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice")

	tokenString, err := CreateToken("alice", authConfig())
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/v0/users/me", nil)
	r.Header.Set("Authorization", "Bearer "+tokenString)

	got, httpErr := ValidateTokenAndGetUser(r, db, authConfig())
	require.Nil(t, httpErr)
	assert.Equal(t, "alice", got.Username)
}

func TestJWTWrongSecret(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice")

	tokenString, err := CreateToken("alice", &setup.AuthConfig{JWTSecret: "other", TokenLifetimeMinutes: 60})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/v0/users/me", nil)
	r.Header.Set("Authorization", "Bearer "+tokenString)

	_, httpErr := ValidateTokenAndGetUser(r, db, authConfig())
	require.NotNil(t, httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestExpiredJWT(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice")

	tokenString, err := CreateToken("alice", &setup.AuthConfig{JWTSecret: "test-secret", TokenLifetimeMinutes: -1})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/v0/users/me", nil)
	r.Header.Set("Authorization", "Bearer "+tokenString)

	_, httpErr := ValidateTokenAndGetUser(r, db, authConfig())
	require.NotNil(t, httpErr)
}

func TestMissingCredentials(t *testing.T) {
	db := newTestDB(t)

	r := httptest.NewRequest(http.MethodGet, "/v0/users/me", nil)
	_, httpErr := ValidateTokenAndGetUser(r, db, authConfig())
	require.NotNil(t, httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}
