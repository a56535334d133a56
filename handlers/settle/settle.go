// Package settle exposes the lifecycle and redemption endpoints: closing a
// market, reporting its outcome, claiming payouts, and withdrawing fees.
package settle

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"lmsrmarket/engine"
	"lmsrmarket/middleware"
	"lmsrmarket/setup"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotOracle),
		errors.Is(err, engine.ErrNotFeeRecipient):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrMarketStillOpen),
		errors.Is(err, engine.ErrMarketClosed),
		errors.Is(err, engine.ErrMarketNotClosed),
		errors.Is(err, engine.ErrMarketSettled),
		errors.Is(err, engine.ErrMarketNotSettled),
		errors.Is(err, engine.ErrNoWinnings):
		return http.StatusConflict
	case errors.Is(err, engine.ErrSolvency):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func marketIDVar(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["marketId"], 10, 64)
	return id, err == nil
}

// CloseHandler handles POST /v0/markets/{marketId}/close. Any authenticated
// user may trigger the transition once the end time has passed.
func CloseHandler(db *gorm.DB, eng *engine.Engine, auth *setup.AuthConfig) http.HandlerFunc {
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

		marketID, ok := marketIDVar(r)
		if !ok {
			http.Error(w, "Invalid market id", http.StatusBadRequest)
			return
		}

		if err := eng.CloseMarket(user.Username, marketID); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"marketId": marketID, "status": "closed"})
	}
}

// OutcomeRequest is the oracle's report.
type OutcomeRequest struct {
	OutcomeIndex int `json:"outcomeIndex"`
}

// SetOutcomeHandler handles POST /v0/markets/{marketId}/outcome. Oracle only.
func SetOutcomeHandler(db *gorm.DB, eng *engine.Engine, auth *setup.AuthConfig) http.HandlerFunc {
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

		marketID, ok := marketIDVar(r)
		if !ok {
			http.Error(w, "Invalid market id", http.StatusBadRequest)
			return
		}

		var req OutcomeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := eng.SetOutcome(user.Username, marketID, req.OutcomeIndex); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"marketId":       marketID,
			"status":         "settled",
			"winningOutcome": req.OutcomeIndex,
		})
	}
}

// ClaimHandler handles POST /v0/markets/{marketId}/claim. Redeems the
// caller's full winning position at one token per share.
func ClaimHandler(db *gorm.DB, eng *engine.Engine, auth *setup.AuthConfig) http.HandlerFunc {
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

		marketID, ok := marketIDVar(r)
		if !ok {
			http.Error(w, "Invalid market id", http.StatusBadRequest)
			return
		}

		payout, err := eng.ClaimPayout(user.Username, marketID)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"marketId": marketID, "payout": payout})
	}
}

// WithdrawFeesHandler handles POST /v0/markets/{marketId}/fees/withdraw.
// Fee recipient only.
func WithdrawFeesHandler(db *gorm.DB, eng *engine.Engine, auth *setup.AuthConfig) http.HandlerFunc {
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

		marketID, ok := marketIDVar(r)
		if !ok {
			http.Error(w, "Invalid market id", http.StatusBadRequest)
			return
		}

		amount, err := eng.WithdrawFees(user.Username, marketID)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"marketId": marketID, "amount": amount})
	}
}
