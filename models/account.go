package models

import (
	"gorm.io/gorm"
)

// Account is a value-transfer token balance. Markets hold their funds in
// accounts named "market:<id>" alongside user accounts keyed by username.
type Account struct {
	gorm.Model
	Owner   string `json:"owner" gorm:"not null;uniqueIndex"`
	Balance int64  `json:"balance" gorm:"default:0"` // token base units
}

// Allowance lets a spender pull tokens from an owner's account, ERC-20 style.
type Allowance struct {
	gorm.Model
	Owner   string `json:"owner" gorm:"not null;uniqueIndex:idx_owner_spender,priority:1"`
	Spender string `json:"spender" gorm:"not null;uniqueIndex:idx_owner_spender,priority:2"`
	Amount  int64  `json:"amount" gorm:"default:0"`
}
