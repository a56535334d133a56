package models

import (
	"time"

	"gorm.io/gorm"
)

// Market is one LMSR market maker instance. The outstanding-share vector the
// cost function depends on lives in the Outcome rows; everything else the
// pricing and lifecycle logic needs is here.
type Market struct {
	gorm.Model
	ID                   int64     `json:"id" gorm:"primary_key"`
	Title                string    `json:"title" gorm:"not null"`
	Description          string    `json:"description"`
	LiquidityParam       int64     `json:"liquidityParam" gorm:"not null"` // b, in whole shares
	FeePercent           int64     `json:"feePercent" gorm:"not null"`
	OracleUsername       string    `json:"oracleUsername" gorm:"not null"`
	FeeRecipientUsername string    `json:"feeRecipientUsername" gorm:"not null"`
	CreatorUsername      string    `json:"creatorUsername" gorm:"not null"`
	EndTime              time.Time `json:"endTime" gorm:"not null"`
	Closed               bool      `json:"closed" gorm:"default:false"`
	Settled              bool      `json:"settled" gorm:"default:false"`
	WinningOutcome       int       `json:"winningOutcome" gorm:"default:-1"` // valid only when Settled

	// Funds and fees are disjoint buckets of token base units. Their sum
	// equals the market account's token balance at all times.
	MarketMakerFunds int64 `json:"marketMakerFunds" gorm:"default:0"`
	CollectedFees    int64 `json:"collectedFees" gorm:"default:0"`

	Outcomes []Outcome `json:"outcomes" gorm:"foreignKey:MarketID"`
}

// Outcome is one leg of a market's quantity vector.
type Outcome struct {
	gorm.Model
	MarketID int64  `json:"marketId" gorm:"not null;uniqueIndex:idx_market_outcome,priority:1"`
	Index    int    `json:"index" gorm:"column:outcome_index;not null;uniqueIndex:idx_market_outcome,priority:2"`
	Label    string `json:"label" gorm:"not null"`
	Quantity int64  `json:"quantity" gorm:"default:0"` // outstanding shares, never negative
}
