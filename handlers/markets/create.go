package markets

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"lmsrmarket/engine"
	"lmsrmarket/middleware"
	"lmsrmarket/registry"
	"lmsrmarket/security"
	"lmsrmarket/setup"
	"lmsrmarket/token"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var validate = validator.New()

// CreateRequest is the request body for market creation. Amounts are whole
// tokens.
type CreateRequest struct {
	Title          string    `json:"title" validate:"required,max=200"`
	Description    string    `json:"description" validate:"max=4000"`
	OutcomeLabels  []string  `json:"outcomeLabels" validate:"required,min=2"`
	Oracle         string    `json:"oracle" validate:"required"`
	LiquidityParam int64     `json:"liquidityParam" validate:"required,gt=0"`
	FeePercent     int64     `json:"feePercent" validate:"gte=0"`
	FeeRecipient   string    `json:"feeRecipient" validate:"required"`
	EndTime        time.Time `json:"endTime" validate:"required"`
	InitialFunds   int64     `json:"initialFunds" validate:"required,gt=0"`
}

// CreateHandler handles POST /v0/markets. The creator must have approved the
// registry account for at least the initial funds.
func CreateHandler(db *gorm.DB, eng *engine.Engine, config *setup.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		user, httpErr := middleware.ValidateTokenAndGetUser(r, db, &config.Auth)
		if httpErr != nil {
			http.Error(w, httpErr.Message, httpErr.StatusCode)
			return
		}

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Invalid market parameters", http.StatusBadRequest)
			return
		}

		labels := make([]string, len(req.OutcomeLabels))
		for i, label := range req.OutcomeLabels {
			labels[i] = security.SanitizeText(label)
		}

		params := registry.CreateMarketParams{
			Title:          security.SanitizeText(req.Title),
			Description:    req.Description,
			OutcomeLabels:  labels,
			Oracle:         req.Oracle,
			LiquidityParam: req.LiquidityParam,
			FeePercent:     req.FeePercent,
			FeeRecipient:   req.FeeRecipient,
			EndTime:        req.EndTime,
			InitialFunds:   req.InitialFunds * token.UnitScale,
		}

		market, err := registry.CreateMarket(db, &config.Economics, user.Username, params)
		if err != nil {
			status := http.StatusBadRequest
			switch {
			case errors.Is(err, token.ErrInsufficientAllowance),
				errors.Is(err, token.ErrInsufficientBalance):
				status = http.StatusPaymentRequired
			case errors.Is(err, registry.ErrUnknownPrincipal):
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(marketView(market, eng))
	}
}
