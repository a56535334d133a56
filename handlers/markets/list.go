package markets

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"lmsrmarket/engine"
	"lmsrmarket/models"
	"lmsrmarket/registry"
	"lmsrmarket/security"
	"lmsrmarket/token"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"gorm.io/gorm"
)

// OutcomeView is one outcome in a market response. Price is the implied
// probability scaled to engine.PriceScale.
type OutcomeView struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

// MarketView is the API shape of a market.
type MarketView struct {
	ID              int64         `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	DescriptionHTML string        `json:"descriptionHtml,omitempty"`
	Outcomes        []OutcomeView `json:"outcomes"`
	Oracle          string        `json:"oracle"`
	FeeRecipient    string        `json:"feeRecipient"`
	Creator         string        `json:"creator"`
	LiquidityParam  int64         `json:"liquidityParam"`
	FeePercent      int64         `json:"feePercent"`
	EndTime         time.Time     `json:"endTime"`
	Status          string        `json:"status"`
	WinningOutcome  *int          `json:"winningOutcome,omitempty"`
	MakerFunds      string        `json:"makerFunds"`
	CollectedFees   string        `json:"collectedFees"`
}

func formatTokens(baseUnits int64) string {
	return decimal.NewFromInt(baseUnits).Div(decimal.NewFromInt(token.UnitScale)).String()
}

func marketStatus(m *models.Market) string {
	switch {
	case m.Settled:
		return "settled"
	case m.Closed:
		return "closed"
	default:
		return "open"
	}
}

// marketView renders a market with live prices. Markdown descriptions are
// rendered to sanitized HTML.
func marketView(m *models.Market, eng *engine.Engine) MarketView {
	view := MarketView{
		ID:             m.ID,
		Title:          m.Title,
		Description:    m.Description,
		Oracle:         m.OracleUsername,
		FeeRecipient:   m.FeeRecipientUsername,
		Creator:        m.CreatorUsername,
		LiquidityParam: m.LiquidityParam,
		FeePercent:     m.FeePercent,
		EndTime:        m.EndTime,
		Status:         marketStatus(m),
		MakerFunds:     formatTokens(m.MarketMakerFunds),
		CollectedFees:  formatTokens(m.CollectedFees),
	}
	if m.Settled {
		winning := m.WinningOutcome
		view.WinningOutcome = &winning
	}
	if m.Description != "" {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(m.Description), &buf); err == nil {
			view.DescriptionHTML = security.SanitizeHTML(buf.String())
		}
	}

	for _, outcome := range m.Outcomes {
		price, err := eng.Price(m.ID, outcome.Index)
		if err != nil {
			price = 0
		}
		view.Outcomes = append(view.Outcomes, OutcomeView{
			Index:    outcome.Index,
			Label:    outcome.Label,
			Quantity: outcome.Quantity,
			Price:    price,
		})
	}
	return view
}

// ListHandler handles GET /v0/markets.
func ListHandler(db *gorm.DB, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		list, err := registry.ActiveMarkets(db)
		if err != nil {
			http.Error(w, "Failed to list markets", http.StatusInternalServerError)
			return
		}

		views := make([]MarketView, 0, len(list))
		for i := range list {
			views = append(views, marketView(&list[i], eng))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

// DetailHandler handles GET /v0/markets/{marketId}.
func DetailHandler(db *gorm.DB, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		marketID, err := strconv.ParseInt(mux.Vars(r)["marketId"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid market id", http.StatusBadRequest)
			return
		}

		market, err := registry.GetMarket(db, marketID)
		if err != nil {
			if err == engine.ErrMarketNotFound {
				http.Error(w, "Market not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(marketView(market, eng))
	}
}

// EventsHandler handles GET /v0/markets/{marketId}/events.
func EventsHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		marketID, err := strconv.ParseInt(mux.Vars(r)["marketId"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid market id", http.StatusBadRequest)
			return
		}

		events, err := eng.Events(marketID)
		if err != nil {
			http.Error(w, "Failed to fetch events", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}
