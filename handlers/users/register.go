package users

import (
	"encoding/json"
	"net/http"

	"lmsrmarket/models"
	"lmsrmarket/security"
	"lmsrmarket/setup"
	"lmsrmarket/token"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var validate = validator.New()

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=30,alphanum"`
	DisplayName string `json:"displayName" validate:"max=60"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
}

// RegisterResponse is returned after successful registration.
type RegisterResponse struct {
	User    models.UserPublic `json:"user"`
	APIKey  string            `json:"apiKey"`
	Balance string            `json:"balance"`
}

// RegisterHandler handles POST /v0/users/register. New accounts receive the
// configured initial token grant.
func RegisterHandler(db *gorm.DB, economics *setup.EconomicsConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Username must be 3-30 alphanumeric characters and password at least 8", http.StatusBadRequest)
			return
		}

		var existing models.User
		if db.Where("username = ?", req.Username).First(&existing).Error == nil {
			http.Error(w, "Username already taken", http.StatusConflict)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "Failed to hash password", http.StatusInternalServerError)
			return
		}

		apiKey, err := models.GenerateAPIKey()
		if err != nil {
			http.Error(w, "Failed to generate API key", http.StatusInternalServerError)
			return
		}

		user := models.User{
			Username:     req.Username,
			DisplayName:  security.SanitizeText(req.DisplayName),
			PasswordHash: string(hash),
			APIKey:       apiKey,
		}
		if user.DisplayName == "" {
			user.DisplayName = user.Username
		}

		tx := db.Begin()
		if result := tx.Create(&user); result.Error != nil {
			tx.Rollback()
			http.Error(w, "Failed to create user", http.StatusInternalServerError)
			return
		}

		grant := economics.InitialAccountGrant * token.UnitScale
		if grant > 0 {
			if err := token.Mint(tx, user.Username, grant); err != nil {
				tx.Rollback()
				http.Error(w, "Failed to fund account", http.StatusInternalServerError)
				return
			}
		}

		if err := tx.Commit().Error; err != nil {
			http.Error(w, "Failed to create user", http.StatusInternalServerError)
			return
		}

		response := RegisterResponse{
			User:    user.ToPublic(),
			APIKey:  apiKey,
			Balance: formatTokens(grant),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(response)
	}
}
