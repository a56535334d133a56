// Package seed populates a fresh database with demo users and markets.
package seed

import (
	"fmt"
	"time"

	"lmsrmarket/engine"
	"lmsrmarket/models"
	"lmsrmarket/registry"
	"lmsrmarket/setup"
	"lmsrmarket/token"

	"github.com/brianvoe/gofakeit"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const demoPassword = "demo-password"

// Run seeds demo data unless users already exist.
func Run(db *gorm.DB, config *setup.Config, eng *engine.Engine, logger *zap.Logger) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	gofakeit.Seed(11)

	hash, err := bcrypt.GenerateFromPassword([]byte(demoPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	usernames := []string{"oracle", "collector"}
	for i := 0; i < 5; i++ {
		usernames = append(usernames, fmt.Sprintf("trader%d", i+1))
	}

	for _, username := range usernames {
		apiKey, err := models.GenerateAPIKey()
		if err != nil {
			return err
		}
		user := models.User{
			Username:     username,
			DisplayName:  gofakeit.Name(),
			PasswordHash: string(hash),
			APIKey:       apiKey,
		}
		if err := db.Create(&user).Error; err != nil {
			return err
		}
		grant := config.Economics.InitialAccountGrant * token.UnitScale
		if err := token.Mint(db, username, grant); err != nil {
			return err
		}
		logger.Sugar().Infow("seeded user", "username", username, "api_key", apiKey)
	}

	creator := "trader1"
	if err := token.Approve(db, creator, registry.Account, 1000*token.UnitScale); err != nil {
		return err
	}

	questions := []struct {
		title    string
		outcomes []string
	}{
		{"Will " + gofakeit.Company() + " ship on time?", []string{"Yes", "No"}},
		{"Who wins the " + gofakeit.City() + " derby?", []string{"Home", "Away", "Draw"}},
	}
	for _, q := range questions {
		market, err := registry.CreateMarket(db, &config.Economics, creator, registry.CreateMarketParams{
			Title:          q.title,
			Description:    gofakeit.Sentence(12),
			OutcomeLabels:  q.outcomes,
			Oracle:         "oracle",
			LiquidityParam: 100,
			FeePercent:     2,
			FeeRecipient:   "collector",
			EndTime:        time.Now().Add(30 * 24 * time.Hour),
			InitialFunds:   200 * token.UnitScale,
		})
		if err != nil {
			return err
		}

		// A few opening trades so prices are off the uniform prior.
		for _, trader := range []string{"trader2", "trader3"} {
			if err := token.Approve(db, trader, token.MarketAccount(market.ID), 500*token.UnitScale); err != nil {
				return err
			}
			shares := int64(gofakeit.Number(5, 25))
			if _, err := eng.BuyShares(trader, market.ID, 0, shares); err != nil {
				return err
			}
		}
		logger.Sugar().Infow("seeded market", "market_id", market.ID, "title", market.Title)
	}

	return nil
}
