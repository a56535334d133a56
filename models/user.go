package models

import (
	"crypto/rand"
	"encoding/hex"

	"gorm.io/gorm"
)

// User is a trading principal. Oracles and fee recipients are ordinary users
// named by the market that grants them their role.
type User struct {
	gorm.Model
	ID           int64  `json:"id" gorm:"primary_key"`
	Username     string `json:"username" gorm:"not null;uniqueIndex"`
	DisplayName  string `json:"displayName"`
	PasswordHash string `json:"-" gorm:"not null"`
	APIKey       string `json:"-" gorm:"not null;uniqueIndex"`
}

// UserPublic is the public-facing view of a user.
type UserPublic struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
	}
}

// GenerateAPIKey creates a secure random API key for a user
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "pm_sk_" + hex.EncodeToString(bytes), nil
}
