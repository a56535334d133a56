// Package registry creates market instances and lists them. Creation pulls
// the creator's initial liquidity into the new market's account, writes the
// outcome rows, and authorizes the trading engine on the shared position
// ledger — the one place ledger authorizations come from.
package registry

import (
	"errors"
	"time"

	"lmsrmarket/engine"
	"lmsrmarket/handlers/math/probabilities/lmsr"
	"lmsrmarket/models"
	"lmsrmarket/positions"
	"lmsrmarket/setup"
	"lmsrmarket/token"

	"gorm.io/gorm"
)

// Account is the ledger account creators approve so the registry can pull
// initial liquidity.
const Account = "registry"

var (
	ErrTitleRequired       = errors.New("registry: market title is required")
	ErrTooFewOutcomes      = errors.New("registry: a market needs at least two outcomes")
	ErrTooManyOutcomes     = errors.New("registry: outcome count exceeds ledger encoding limit")
	ErrBlankOutcomeLabel   = errors.New("registry: outcome labels must be non-empty")
	ErrLiquidityTooSmall   = errors.New("registry: liquidity parameter below configured minimum")
	ErrFeeOutOfRange       = errors.New("registry: fee percent out of range")
	ErrEndTimeNotFuture    = errors.New("registry: end time must be in the future")
	ErrUnknownPrincipal    = errors.New("registry: oracle and fee recipient must be registered users")
	ErrInsufficientSubsidy = errors.New("registry: initial funds below worst-case loss bound")
)

// CreateMarketParams carries everything a creator supplies for a new market.
type CreateMarketParams struct {
	Title          string
	Description    string
	OutcomeLabels  []string
	Oracle         string
	LiquidityParam int64
	FeePercent     int64
	FeeRecipient   string
	EndTime        time.Time
	InitialFunds   int64 // token base units
}

// CreateMarket validates params, pulls the initial liquidity from the creator
// (who must have approved the registry account), and writes the market, its
// outcomes, the engine's ledger authorization, and the creation event in one
// transaction.
func CreateMarket(db *gorm.DB, economics *setup.EconomicsConfig, creator string, params CreateMarketParams) (*models.Market, error) {
	if params.Title == "" {
		return nil, ErrTitleRequired
	}
	if len(params.OutcomeLabels) < 2 {
		return nil, ErrTooFewOutcomes
	}
	if len(params.OutcomeLabels) > positions.MaxOutcomes {
		return nil, ErrTooManyOutcomes
	}
	for _, label := range params.OutcomeLabels {
		if label == "" {
			return nil, ErrBlankOutcomeLabel
		}
	}
	if params.LiquidityParam < economics.MinimumLiquidityParam {
		return nil, ErrLiquidityTooSmall
	}
	if params.FeePercent < 0 || params.FeePercent > economics.MaximumFeePercent {
		return nil, ErrFeeOutOfRange
	}
	if !params.EndTime.After(time.Now()) {
		return nil, ErrEndTimeNotFuture
	}

	// The LMSR loss bound: funding below b*ln(n) can leave the maker unable
	// to cover the worst-case payout.
	maxLoss, err := lmsr.MaxLoss(params.LiquidityParam, len(params.OutcomeLabels))
	if err != nil {
		return nil, err
	}
	subsidyFloor := (int64(maxLoss) + subsidyRound - 1) / subsidyRound
	if params.InitialFunds < subsidyFloor {
		return nil, ErrInsufficientSubsidy
	}

	tx := db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	for _, username := range []string{params.Oracle, params.FeeRecipient} {
		var user models.User
		if result := tx.Where("username = ?", username).First(&user); result.Error != nil {
			tx.Rollback()
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil, ErrUnknownPrincipal
			}
			return nil, result.Error
		}
	}

	market := models.Market{
		Title:                params.Title,
		Description:          params.Description,
		LiquidityParam:       params.LiquidityParam,
		FeePercent:           params.FeePercent,
		OracleUsername:       params.Oracle,
		FeeRecipientUsername: params.FeeRecipient,
		CreatorUsername:      creator,
		EndTime:              params.EndTime,
		MarketMakerFunds:     params.InitialFunds,
	}
	if err := tx.Create(&market).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	for i, label := range params.OutcomeLabels {
		outcome := models.Outcome{MarketID: market.ID, Index: i, Label: label}
		if err := tx.Create(&outcome).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		market.Outcomes = append(market.Outcomes, outcome)
	}

	if err := positions.Authorize(tx, market.ID, engine.LedgerCaller); err != nil {
		tx.Rollback()
		return nil, err
	}

	// Seed the market's funds from the creator. A failed pull unwinds the
	// whole creation.
	if err := token.TransferFrom(tx, Account, creator, token.MarketAccount(market.ID), params.InitialFunds); err != nil {
		tx.Rollback()
		return nil, err
	}

	event := models.MarketEvent{
		MarketID:   market.ID,
		Type:       models.EventMarketCreated,
		Username:   creator,
		Amount:     params.InitialFunds,
		OccurredAt: time.Now(),
	}
	if err := tx.Create(&event).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &market, nil
}

// subsidyRound converts the fixed-point loss bound to base units, rounding up.
const subsidyRound = 1_000_000_000 / token.UnitScale

// ActiveMarkets returns every market in creation order. The list is
// append-only; settled markets stay enumerable for history.
func ActiveMarkets(db *gorm.DB) ([]models.Market, error) {
	var markets []models.Market
	result := db.Preload("Outcomes", func(db *gorm.DB) *gorm.DB {
		return db.Order("outcome_index")
	}).Order("id").Find(&markets)
	if result.Error != nil {
		return nil, result.Error
	}
	return markets, nil
}

// GetMarket fetches one market with its outcomes.
func GetMarket(db *gorm.DB, marketID int64) (*models.Market, error) {
	var market models.Market
	result := db.Preload("Outcomes", func(db *gorm.DB) *gorm.DB {
		return db.Order("outcome_index")
	}).First(&market, marketID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, engine.ErrMarketNotFound
		}
		return nil, result.Error
	}
	return &market, nil
}
