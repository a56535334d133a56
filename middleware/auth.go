package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"lmsrmarket/models"
	"lmsrmarket/setup"

	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

// HTTPError carries an HTTP status and message for auth failures.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// Claims is the JWT payload issued at login.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// CreateToken issues a signed session token for a user.
func CreateToken(username string, auth *setup.AuthConfig) (string, error) {
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(auth.TokenLifetimeMinutes) * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(auth.JWTSecret))
}

// ValidateTokenAndGetUser authenticates a request and returns the user. It
// accepts either an API key (X-API-Key header, or "Bearer pm_sk_...") or a
// session JWT ("Bearer <token>").
func ValidateTokenAndGetUser(r *http.Request, db *gorm.DB, auth *setup.AuthConfig) (*models.User, *HTTPError) {
	apiKey := r.Header.Get("X-API-Key")
	authHeader := r.Header.Get("Authorization")

	if apiKey == "" && strings.HasPrefix(authHeader, "Bearer pm_sk_") {
		apiKey = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if apiKey != "" {
		return userByAPIKey(db, apiKey)
	}

	if strings.HasPrefix(authHeader, "Bearer ") {
		return userByJWT(db, strings.TrimPrefix(authHeader, "Bearer "), auth)
	}

	return nil, &HTTPError{
		StatusCode: http.StatusUnauthorized,
		Message:    "Authentication required. Use X-API-Key or a Bearer token",
	}
}

func userByAPIKey(db *gorm.DB, apiKey string) (*models.User, *HTTPError) {
	if !strings.HasPrefix(apiKey, "pm_sk_") {
		return nil, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Invalid API key format",
		}
	}

	var user models.User
	result := db.Where("api_key = ?", apiKey).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, &HTTPError{
				StatusCode: http.StatusUnauthorized,
				Message:    "Invalid API key",
			}
		}
		return nil, &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Database error validating API key",
		}
	}
	return &user, nil
}

func userByJWT(db *gorm.DB, tokenString string, auth *setup.AuthConfig) (*models.User, *HTTPError) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(auth.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Invalid or expired session token",
		}
	}

	var user models.User
	result := db.Where("username = ?", claims.Username).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, &HTTPError{
				StatusCode: http.StatusUnauthorized,
				Message:    "Unknown user",
			}
		}
		return nil, &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Database error validating session",
		}
	}
	return &user, nil
}
