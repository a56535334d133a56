package models

import (
	"gorm.io/gorm"
)

// Position is an externally owned balance of (marketId, outcomeIndex) units in
// the shared position ledger. One unit redeems for one token unit if and only
// if its outcome wins and the market is settled.
type Position struct {
	gorm.Model
	Username     string `json:"username" gorm:"not null;uniqueIndex:idx_owner_token,priority:1"`
	TokenID      int64  `json:"tokenId" gorm:"not null;uniqueIndex:idx_owner_token,priority:2;index"`
	MarketID     int64  `json:"marketId" gorm:"not null;index"`
	OutcomeIndex int    `json:"outcomeIndex" gorm:"not null"`
	Shares       int64  `json:"shares" gorm:"default:0"`
}

// LedgerAuthorization lists the callers allowed to mint and burn positions for
// a market. The registry populates it at market creation.
type LedgerAuthorization struct {
	gorm.Model
	MarketID int64  `json:"marketId" gorm:"not null;uniqueIndex:idx_market_caller,priority:1"`
	Caller   string `json:"caller" gorm:"not null;uniqueIndex:idx_market_caller,priority:2"`
}
