// Package positions is the shared multi-outcome position ledger. One table
// serves every market; mint and burn are restricted to callers the registry
// authorized for that market, so trading engines cannot touch each other's
// inventory.
package positions

import (
	"errors"

	"lmsrmarket/models"

	"gorm.io/gorm"
)

// MaxOutcomes bounds outcomes per market so token ids cannot collide across
// markets under the marketId*1000+outcome encoding.
const MaxOutcomes = 1000

var (
	ErrNotAuthorized      = errors.New("positions: caller not authorized for market")
	ErrAmountNotPositive  = errors.New("positions: amount must be positive")
	ErrInsufficientShares = errors.New("positions: insufficient share balance")
	ErrOutcomeRange       = errors.New("positions: outcome index out of range")
)

// TokenID deterministically encodes (marketId, outcomeIndex). The registry
// enforces outcomeIndex < MaxOutcomes at creation, which keeps the encoding
// collision-free.
func TokenID(marketID int64, outcomeIndex int) int64 {
	return marketID*MaxOutcomes + int64(outcomeIndex)
}

// Authorize allows caller to mint and burn positions for a market.
func Authorize(db *gorm.DB, marketID int64, caller string) error {
	auth := models.LedgerAuthorization{MarketID: marketID, Caller: caller}
	return db.Create(&auth).Error
}

func checkAuthorized(db *gorm.DB, marketID int64, caller string) error {
	var auth models.LedgerAuthorization
	result := db.Where("market_id = ? AND caller = ?", marketID, caller).First(&auth)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrNotAuthorized
		}
		return result.Error
	}
	return nil
}

// Mint issues shares of (marketID, outcomeIndex) to owner.
func Mint(db *gorm.DB, caller, owner string, marketID int64, outcomeIndex int, shares int64) error {
	if shares <= 0 {
		return ErrAmountNotPositive
	}
	if outcomeIndex < 0 || outcomeIndex >= MaxOutcomes {
		return ErrOutcomeRange
	}
	if err := checkAuthorized(db, marketID, caller); err != nil {
		return err
	}

	tokenID := TokenID(marketID, outcomeIndex)
	var position models.Position
	result := db.Where("username = ? AND token_id = ?", owner, tokenID).First(&position)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		position = models.Position{
			Username:     owner,
			TokenID:      tokenID,
			MarketID:     marketID,
			OutcomeIndex: outcomeIndex,
			Shares:       shares,
		}
		return db.Create(&position).Error
	}
	position.Shares += shares
	return db.Save(&position).Error
}

// Burn destroys shares of (marketID, outcomeIndex) held by owner. Fails
// without mutation if the holding is too small.
func Burn(db *gorm.DB, caller, owner string, marketID int64, outcomeIndex int, shares int64) error {
	if shares <= 0 {
		return ErrAmountNotPositive
	}
	if err := checkAuthorized(db, marketID, caller); err != nil {
		return err
	}

	tokenID := TokenID(marketID, outcomeIndex)
	var position models.Position
	result := db.Where("username = ? AND token_id = ?", owner, tokenID).First(&position)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrInsufficientShares
		}
		return result.Error
	}
	if position.Shares < shares {
		return ErrInsufficientShares
	}
	position.Shares -= shares
	return db.Save(&position).Error
}

// BalanceOf returns owner's share count for (marketID, outcomeIndex), zero if
// no position exists.
func BalanceOf(db *gorm.DB, owner string, marketID int64, outcomeIndex int) (int64, error) {
	var position models.Position
	result := db.Where("username = ? AND token_id = ?", owner, TokenID(marketID, outcomeIndex)).First(&position)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return position.Shares, nil
}

// HoldingsFor returns every non-empty position owner holds, for portfolio
// views.
func HoldingsFor(db *gorm.DB, owner string) ([]models.Position, error) {
	var holdings []models.Position
	result := db.Where("username = ? AND shares > 0", owner).Order("market_id, outcome_index").Find(&holdings)
	if result.Error != nil {
		return nil, result.Error
	}
	return holdings, nil
}
