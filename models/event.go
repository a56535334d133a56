package models

import (
	"time"

	"gorm.io/gorm"
)

// Market event types, one per mutating engine operation. The event log is the
// source for off-chain style reconstruction of market history.
const (
	EventMarketCreated   = "MarketCreated"
	EventSharesPurchased = "SharesPurchased"
	EventSharesSold      = "SharesSold"
	EventMarketClosed    = "MarketClosed"
	EventOutcomeSet      = "OutcomeSet"
	EventPayoutClaimed   = "PayoutClaimed"
	EventFeesWithdrawn   = "FeesWithdrawn"
)

// MarketEvent records one mutating operation with its key arguments and
// resulting amounts.
type MarketEvent struct {
	gorm.Model
	MarketID     int64     `json:"marketId" gorm:"not null;index"`
	Type         string    `json:"type" gorm:"not null;index"`
	Username     string    `json:"username"`
	OutcomeIndex int       `json:"outcomeIndex" gorm:"default:-1"`
	Shares       int64     `json:"shares" gorm:"default:0"`
	Amount       int64     `json:"amount" gorm:"default:0"` // token base units
	OccurredAt   time.Time `json:"occurredAt" gorm:"not null;index"`
}
