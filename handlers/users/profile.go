package users

import (
	"encoding/json"
	"net/http"

	"lmsrmarket/middleware"
	"lmsrmarket/positions"
	"lmsrmarket/setup"
	"lmsrmarket/token"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// formatTokens renders base units as a whole-token decimal string.
func formatTokens(baseUnits int64) string {
	return decimal.NewFromInt(baseUnits).
		Div(decimal.NewFromInt(token.UnitScale)).
		String()
}

// HoldingView is one position in the portfolio response.
type HoldingView struct {
	MarketID     int64 `json:"marketId"`
	OutcomeIndex int   `json:"outcomeIndex"`
	TokenID      int64 `json:"tokenId"`
	Shares       int64 `json:"shares"`
}

// PortfolioResponse is the authenticated user's balance and holdings.
type PortfolioResponse struct {
	Username string        `json:"username"`
	Balance  string        `json:"balance"`
	Holdings []HoldingView `json:"holdings"`
}

// PortfolioHandler handles GET /v0/users/me.
func PortfolioHandler(db *gorm.DB, auth *setup.AuthConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		user, httpErr := middleware.ValidateTokenAndGetUser(r, db, auth)
		if httpErr != nil {
			http.Error(w, httpErr.Message, httpErr.StatusCode)
			return
		}

		balance, err := token.BalanceOf(db, user.Username)
		if err != nil {
			http.Error(w, "Failed to fetch balance", http.StatusInternalServerError)
			return
		}

		holdings, err := positions.HoldingsFor(db, user.Username)
		if err != nil {
			http.Error(w, "Failed to fetch holdings", http.StatusInternalServerError)
			return
		}

		response := PortfolioResponse{
			Username: user.Username,
			Balance:  formatTokens(balance),
			Holdings: make([]HoldingView, 0, len(holdings)),
		}
		for _, h := range holdings {
			response.Holdings = append(response.Holdings, HoldingView{
				MarketID:     h.MarketID,
				OutcomeIndex: h.OutcomeIndex,
				TokenID:      h.TokenID,
				Shares:       h.Shares,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}
