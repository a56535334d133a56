package users

import (
	"encoding/json"
	"errors"
	"net/http"

	"lmsrmarket/middleware"
	"lmsrmarket/setup"
	"lmsrmarket/token"

	"gorm.io/gorm"
)

// ApproveRequest grants a spender an allowance, in token base units.
type ApproveRequest struct {
	Spender string `json:"spender" validate:"required"`
	Amount  int64  `json:"amount" validate:"gte=0"`
}

// ApproveHandler handles POST /v0/wallet/approve. Traders approve a market's
// account before buying and the registry account before creating a market.
func ApproveHandler(db *gorm.DB, auth *setup.AuthConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		user, httpErr := middleware.ValidateTokenAndGetUser(r, db, auth)
		if httpErr != nil {
			http.Error(w, httpErr.Message, httpErr.StatusCode)
			return
		}

		var req ApproveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Spender is required and amount must be non-negative", http.StatusBadRequest)
			return
		}

		if err := token.Approve(db, user.Username, req.Spender, req.Amount); err != nil {
			http.Error(w, "Failed to set allowance", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"owner":   user.Username,
			"spender": req.Spender,
			"amount":  req.Amount,
		})
	}
}

// TransferRequest moves tokens to another account, in token base units.
type TransferRequest struct {
	To     string `json:"to" validate:"required"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

// TransferHandler handles POST /v0/wallet/transfer.
func TransferHandler(db *gorm.DB, auth *setup.AuthConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		user, httpErr := middleware.ValidateTokenAndGetUser(r, db, auth)
		if httpErr != nil {
			http.Error(w, httpErr.Message, httpErr.StatusCode)
			return
		}

		var req TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Recipient is required and amount must be positive", http.StatusBadRequest)
			return
		}

		if err := token.Transfer(db, user.Username, req.To, req.Amount); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, token.ErrInsufficientBalance) {
				status = http.StatusPaymentRequired
			}
			http.Error(w, err.Error(), status)
			return
		}

		balance, _ := token.BalanceOf(db, user.Username)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"to":         req.To,
			"amount":     req.Amount,
			"newBalance": balance,
		})
	}
}
