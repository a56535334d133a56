// Package trade exposes the buy, sell, quote, and price endpoints.
package trade

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"lmsrmarket/engine"
	"lmsrmarket/middleware"
	"lmsrmarket/positions"
	"lmsrmarket/setup"
	"lmsrmarket/token"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// TradeRequest is the request body for buys and sells.
type TradeRequest struct {
	OutcomeIndex int   `json:"outcomeIndex"`
	Shares       int64 `json:"shares"`
}

// TradeResponse reports the executed trade.
type TradeResponse struct {
	MarketID     int64 `json:"marketId"`
	OutcomeIndex int   `json:"outcomeIndex"`
	Shares       int64 `json:"shares"`
	Amount       int64 `json:"amount"`
	NewBalance   int64 `json:"newBalance"`
	NewPosition  int64 `json:"newPosition"`
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusPaymentRequired
	case errors.Is(err, engine.ErrMarketNotOpen),
		errors.Is(err, positions.ErrInsufficientShares):
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

func executeTrade(db *gorm.DB, eng *engine.Engine, auth *setup.AuthConfig, sell bool) http.HandlerFunc {
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

		var req TradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Shares <= 0 {
			http.Error(w, "Shares must be positive", http.StatusBadRequest)
			return
		}

		var amount int64
		var err error
		if sell {
			amount, err = eng.SellShares(user.Username, marketID, req.OutcomeIndex, req.Shares)
		} else {
			amount, err = eng.BuyShares(user.Username, marketID, req.OutcomeIndex, req.Shares)
		}
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		balance, _ := token.BalanceOf(db, user.Username)
		held, _ := positions.BalanceOf(db, user.Username, marketID, req.OutcomeIndex)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TradeResponse{
			MarketID:     marketID,
			OutcomeIndex: req.OutcomeIndex,
			Shares:       req.Shares,
			Amount:       amount,
			NewBalance:   balance,
			NewPosition:  held,
		})
	}
}

// BuyHandler handles POST /v0/markets/{marketId}/buy.
func BuyHandler(db *gorm.DB, eng *engine.Engine, auth *setup.AuthConfig) http.HandlerFunc {
	return executeTrade(db, eng, auth, false)
}

// SellHandler handles POST /v0/markets/{marketId}/sell.
func SellHandler(db *gorm.DB, eng *engine.Engine, auth *setup.AuthConfig) http.HandlerFunc {
	return executeTrade(db, eng, auth, true)
}

// QuoteResponse is the estimated cost of a prospective trade in token base
// units. Negative shares quote a sell.
type QuoteResponse struct {
	MarketID     int64 `json:"marketId"`
	OutcomeIndex int   `json:"outcomeIndex"`
	Shares       int64 `json:"shares"`
	Cost         int64 `json:"cost"`
}

// QuoteHandler handles GET /v0/markets/{marketId}/quote?outcome=0&shares=10.
// It is unauthenticated and works in every market state.
func QuoteHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		marketID, ok := marketIDVar(r)
		if !ok {
			http.Error(w, "Invalid market id", http.StatusBadRequest)
			return
		}
		outcomeIndex, err := strconv.Atoi(r.URL.Query().Get("outcome"))
		if err != nil {
			http.Error(w, "Invalid outcome index", http.StatusBadRequest)
			return
		}
		shares, err := strconv.ParseInt(r.URL.Query().Get("shares"), 10, 64)
		if err != nil || shares == 0 {
			http.Error(w, "Invalid share count", http.StatusBadRequest)
			return
		}

		cost, err := eng.EstimateCost(marketID, outcomeIndex, shares)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(QuoteResponse{
			MarketID:     marketID,
			OutcomeIndex: outcomeIndex,
			Shares:       shares,
			Cost:         cost,
		})
	}
}

// PriceResponse is one outcome's marginal price scaled to engine.PriceScale.
type PriceResponse struct {
	MarketID     int64 `json:"marketId"`
	OutcomeIndex int   `json:"outcomeIndex"`
	Price        int64 `json:"price"`
	PriceScale   int64 `json:"priceScale"`
}

// PriceHandler handles GET /v0/markets/{marketId}/price?outcome=0.
func PriceHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		marketID, ok := marketIDVar(r)
		if !ok {
			http.Error(w, "Invalid market id", http.StatusBadRequest)
			return
		}
		outcomeIndex, err := strconv.Atoi(r.URL.Query().Get("outcome"))
		if err != nil {
			http.Error(w, "Invalid outcome index", http.StatusBadRequest)
			return
		}

		price, err := eng.Price(marketID, outcomeIndex)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(PriceResponse{
			MarketID:     marketID,
			OutcomeIndex: outcomeIndex,
			Price:        price,
			PriceScale:   engine.PriceScale,
		})
	}
}
