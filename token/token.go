// Package token is the value-transfer ledger every deposit, payout, and fee
// settlement moves through. It keeps standard fungible-asset semantics:
// balances, direct transfers, and allowance-gated pulls. Markets hold funds in
// accounts named by MarketAccount next to ordinary user accounts.
package token

import (
	"errors"
	"fmt"

	"lmsrmarket/models"

	"gorm.io/gorm"
)

// UnitScale is the number of base units per whole token. All ledger amounts
// are int64 base units.
const UnitScale = 1_000_000

var (
	ErrAmountNotPositive     = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// MarketAccount returns the ledger account a market holds its funds in.
func MarketAccount(marketID int64) string {
	return fmt.Sprintf("market:%d", marketID)
}

// BalanceOf returns the balance of an account, zero if it does not exist.
func BalanceOf(db *gorm.DB, owner string) (int64, error) {
	var account models.Account
	result := db.Where("owner = ?", owner).First(&account)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return account.Balance, nil
}

// Allowance returns how much spender may currently pull from owner.
func Allowance(db *gorm.DB, owner, spender string) (int64, error) {
	var allowance models.Allowance
	result := db.Where("owner = ? AND spender = ?", owner, spender).First(&allowance)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return allowance.Amount, nil
}

// Approve sets spender's allowance over owner's account to amount.
func Approve(db *gorm.DB, owner, spender string, amount int64) error {
	if amount < 0 {
		return ErrAmountNotPositive
	}
	var allowance models.Allowance
	result := db.Where("owner = ? AND spender = ?", owner, spender).First(&allowance)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		allowance = models.Allowance{Owner: owner, Spender: spender, Amount: amount}
		return db.Create(&allowance).Error
	}
	allowance.Amount = amount
	return db.Save(&allowance).Error
}

// Mint credits newly issued tokens to an account. Only registration grants and
// seeding call this; trading never creates or destroys value.
func Mint(db *gorm.DB, owner string, amount int64) error {
	if amount <= 0 {
		return ErrAmountNotPositive
	}
	return credit(db, owner, amount)
}

// Transfer moves amount from one account to another. Fails without mutation
// if the source balance is insufficient.
func Transfer(db *gorm.DB, from, to string, amount int64) error {
	if amount <= 0 {
		return ErrAmountNotPositive
	}
	if err := debit(db, from, amount); err != nil {
		return err
	}
	return credit(db, to, amount)
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming allowance. Fails without mutation on insufficient allowance or
// balance.
func TransferFrom(db *gorm.DB, spender, owner, to string, amount int64) error {
	if amount <= 0 {
		return ErrAmountNotPositive
	}

	var allowance models.Allowance
	result := db.Where("owner = ? AND spender = ?", owner, spender).First(&allowance)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrInsufficientAllowance
		}
		return result.Error
	}
	if allowance.Amount < amount {
		return ErrInsufficientAllowance
	}

	if err := debit(db, owner, amount); err != nil {
		return err
	}
	if err := credit(db, to, amount); err != nil {
		return err
	}

	allowance.Amount -= amount
	return db.Save(&allowance).Error
}

func debit(db *gorm.DB, owner string, amount int64) error {
	var account models.Account
	result := db.Where("owner = ?", owner).First(&account)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrInsufficientBalance
		}
		return result.Error
	}
	if account.Balance < amount {
		return ErrInsufficientBalance
	}
	account.Balance -= amount
	return db.Save(&account).Error
}

func credit(db *gorm.DB, owner string, amount int64) error {
	var account models.Account
	result := db.Where("owner = ?", owner).First(&account)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		account = models.Account{Owner: owner, Balance: amount}
		return db.Create(&account).Error
	}
	account.Balance += amount
	return db.Save(&account).Error
}
