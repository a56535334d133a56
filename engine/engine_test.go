package engine

import (
	"testing"
	"time"

	"lmsrmarket/migration"
	"lmsrmarket/models"
	"lmsrmarket/positions"
	"lmsrmarket/token"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.MigrateDB(db))
	return db
}

// newMarket sets up a funded two-outcome market with b=1000, 2% fee, and a
// trader holding 5000 tokens with the market approved as spender.
func newMarket(t *testing.T, db *gorm.DB) *models.Market {
	market := models.Market{
		Title:                "Will the deployment finish before Friday?",
		LiquidityParam:       1000,
		FeePercent:           2,
		OracleUsername:       "oracle",
		FeeRecipientUsername: "collector",
		CreatorUsername:      "alice",
		EndTime:              time.Now().Add(time.Hour),
		MarketMakerFunds:     1000 * token.UnitScale,
	}
	require.NoError(t, db.Create(&market).Error)
	for i, label := range []string{"Yes", "No"} {
		outcome := models.Outcome{MarketID: market.ID, Index: i, Label: label}
		require.NoError(t, db.Create(&outcome).Error)
	}
	require.NoError(t, positions.Authorize(db, market.ID, LedgerCaller))
	require.NoError(t, token.Mint(db, token.MarketAccount(market.ID), 1000*token.UnitScale))

	require.NoError(t, token.Mint(db, "bob", 5000*token.UnitScale))
	require.NoError(t, token.Approve(db, "bob", token.MarketAccount(market.ID), 5000*token.UnitScale))
	return &market
}

func newEngine(db *gorm.DB) *Engine {
	return New(db, zap.NewNop())
}

func reloadMarket(t *testing.T, db *gorm.DB, id int64) *models.Market {
	market, _, err := loadMarket(db, id)
	require.NoError(t, err)
	return market
}

func TestEstimateEqualsExecutedCost(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	estimate, err := e.EstimateCost(market.ID, 0, 10)
	require.NoError(t, err)
	assert.Greater(t, estimate, int64(0))

	cost, err := e.BuyShares("bob", market.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, estimate, cost)

	held, err := positions.BalanceOf(db, "bob", market.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), held)
}

func TestPriceMovesTowardBoughtOutcome(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	p0Before, err := e.Price(market.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(PriceScale/2), p0Before)

	_, err = e.BuyShares("bob", market.ID, 0, 10)
	require.NoError(t, err)

	p0, err := e.Price(market.ID, 0)
	require.NoError(t, err)
	p1, err := e.Price(market.ID, 1)
	require.NoError(t, err)

	assert.Greater(t, p0, p1)
	// Prices still sum to one within fixed-point rounding.
	assert.InDelta(t, PriceScale, p0+p1, 5)
}

func TestFeeAccounting(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	cost, err := e.BuyShares("bob", market.ID, 0, 100)
	require.NoError(t, err)

	wantFee := cost * 2 / 100
	after := reloadMarket(t, db, market.ID)
	assert.Equal(t, wantFee, after.CollectedFees)
	assert.Equal(t, market.MarketMakerFunds+cost-wantFee, after.MarketMakerFunds)
}

func TestBuySellRoundTrip(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	startBalance, err := token.BalanceOf(db, "bob")
	require.NoError(t, err)

	cost, err := e.BuyShares("bob", market.ID, 0, 50)
	require.NoError(t, err)
	net, err := e.SellShares("bob", market.ID, 0, 50)
	require.NoError(t, err)

	// Quantities return to their prior value...
	after := reloadMarket(t, db, market.ID)
	assert.Equal(t, int64(0), after.Outcomes[0].Quantity)

	// ...the position is gone...
	held, err := positions.BalanceOf(db, "bob", market.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), held)

	// ...and the trader is down only the fees plus sub-unit rounding. Both
	// fee deductions ended up in the collected-fees bucket.
	endBalance, err := token.BalanceOf(db, "bob")
	require.NoError(t, err)
	assert.Equal(t, startBalance-cost+net, endBalance)

	loss := cost - net
	assert.Greater(t, loss, int64(0))
	assert.LessOrEqual(t, loss, after.CollectedFees+1) // +1 for ceil/floor rounding

	// Conservation: funds + fees still equal the market account balance.
	marketBalance, err := token.BalanceOf(db, token.MarketAccount(market.ID))
	require.NoError(t, err)
	assert.Equal(t, marketBalance, after.MarketMakerFunds+after.CollectedFees)
}

func TestBuyRequiresAllowance(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	require.NoError(t, token.Mint(db, "carol", 100*token.UnitScale))

	_, err := e.BuyShares("carol", market.ID, 0, 10)
	assert.ErrorIs(t, err, token.ErrInsufficientAllowance)

	// Nothing changed.
	after := reloadMarket(t, db, market.ID)
	assert.Equal(t, int64(0), after.Outcomes[0].Quantity)
	held, _ := positions.BalanceOf(db, "carol", market.ID, 0)
	assert.Equal(t, int64(0), held)
}

func TestBuyValidation(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	_, err := e.BuyShares("bob", market.ID, 0, 0)
	assert.ErrorIs(t, err, ErrSharesNotPositive)

	_, err = e.BuyShares("bob", market.ID, 2, 10)
	assert.ErrorIs(t, err, ErrOutcomeRange)

	_, err = e.BuyShares("bob", market.ID+999, 0, 10)
	assert.ErrorIs(t, err, ErrMarketNotFound)
}

func TestSellRequiresPosition(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	_, err := e.SellShares("bob", market.ID, 0, 5)
	assert.ErrorIs(t, err, positions.ErrInsufficientShares)

	_, err = e.BuyShares("bob", market.ID, 0, 5)
	require.NoError(t, err)
	_, err = e.SellShares("bob", market.ID, 0, 6)
	assert.ErrorIs(t, err, positions.ErrInsufficientShares)
}

func TestCloseMarketGating(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	// Before the end time the transition condition is unmet for anyone.
	err := e.CloseMarket("bob", market.ID)
	assert.ErrorIs(t, err, ErrMarketStillOpen)

	e.clock = func() time.Time { return market.EndTime.Add(time.Minute) }

	require.NoError(t, e.CloseMarket("bob", market.ID))
	after := reloadMarket(t, db, market.ID)
	assert.True(t, after.Closed)

	// Exactly once.
	err = e.CloseMarket("alice", market.ID)
	assert.ErrorIs(t, err, ErrMarketClosed)
}

func TestNoTradingOnceClosed(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	_, err := e.BuyShares("bob", market.ID, 0, 10)
	require.NoError(t, err)

	e.clock = func() time.Time { return market.EndTime.Add(time.Minute) }
	require.NoError(t, e.CloseMarket("bob", market.ID))

	_, err = e.BuyShares("bob", market.ID, 0, 1)
	assert.ErrorIs(t, err, ErrMarketNotOpen)
	_, err = e.SellShares("bob", market.ID, 0, 1)
	assert.ErrorIs(t, err, ErrMarketNotOpen)

	// Read-only observability survives every state.
	_, err = e.Price(market.ID, 0)
	assert.NoError(t, err)
	_, err = e.EstimateCost(market.ID, 0, 1)
	assert.NoError(t, err)
}

func TestSetOutcomeGating(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	// Not closed yet.
	err := e.SetOutcome("oracle", market.ID, 0)
	assert.ErrorIs(t, err, ErrMarketNotClosed)

	e.clock = func() time.Time { return market.EndTime.Add(time.Minute) }
	require.NoError(t, e.CloseMarket("bob", market.ID))

	// Only the oracle may report.
	err = e.SetOutcome("bob", market.ID, 0)
	assert.ErrorIs(t, err, ErrNotOracle)

	err = e.SetOutcome("oracle", market.ID, 5)
	assert.ErrorIs(t, err, ErrOutcomeRange)

	require.NoError(t, e.SetOutcome("oracle", market.ID, 0))
	after := reloadMarket(t, db, market.ID)
	assert.True(t, after.Settled)
	assert.Equal(t, 0, after.WinningOutcome)

	// Settlement is immutable.
	err = e.SetOutcome("oracle", market.ID, 1)
	assert.ErrorIs(t, err, ErrMarketSettled)
}

// settle closes the market and reports winningOutcome as the oracle.
func settle(t *testing.T, e *Engine, market *models.Market, winningOutcome int) {
	e.clock = func() time.Time { return market.EndTime.Add(time.Minute) }
	require.NoError(t, e.CloseMarket("anyone", market.ID))
	require.NoError(t, e.SetOutcome("oracle", market.ID, winningOutcome))
}

func TestClaimPayout(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	_, err := e.BuyShares("bob", market.ID, 0, 10)
	require.NoError(t, err)

	// Cannot claim before settlement.
	_, err = e.ClaimPayout("bob", market.ID)
	assert.ErrorIs(t, err, ErrMarketNotSettled)

	settle(t, e, market, 0)

	balanceBefore, _ := token.BalanceOf(db, "bob")
	payout, err := e.ClaimPayout("bob", market.ID)
	require.NoError(t, err)

	// 1:1 redemption: 10 shares pay exactly 10 whole tokens.
	assert.Equal(t, int64(10*token.UnitScale), payout)
	balanceAfter, _ := token.BalanceOf(db, "bob")
	assert.Equal(t, balanceBefore+payout, balanceAfter)

	// The position is burned, so a second claim finds nothing.
	held, _ := positions.BalanceOf(db, "bob", market.ID, 0)
	assert.Equal(t, int64(0), held)
	_, err = e.ClaimPayout("bob", market.ID)
	assert.ErrorIs(t, err, ErrNoWinnings)
}

func TestLosingSharesNeverClaim(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	_, err := e.BuyShares("bob", market.ID, 1, 500)
	require.NoError(t, err)

	settle(t, e, market, 0)

	_, err = e.ClaimPayout("bob", market.ID)
	assert.ErrorIs(t, err, ErrNoWinnings)

	// Losing positions stay as valueless dust, they are not auto-burned.
	held, _ := positions.BalanceOf(db, "bob", market.ID, 1)
	assert.Equal(t, int64(500), held)
}

func TestWithdrawFees(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	cost, err := e.BuyShares("bob", market.ID, 0, 100)
	require.NoError(t, err)
	wantFee := cost * 2 / 100

	_, err = e.WithdrawFees("bob", market.ID)
	assert.ErrorIs(t, err, ErrNotFeeRecipient)

	amount, err := e.WithdrawFees("collector", market.ID)
	require.NoError(t, err)
	assert.Equal(t, wantFee, amount)

	balance, _ := token.BalanceOf(db, "collector")
	assert.Equal(t, wantFee, balance)

	// Idempotent no-op until new fees accrue.
	amount, err = e.WithdrawFees("collector", market.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), amount)
}

func TestEventLog(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	_, err := e.BuyShares("bob", market.ID, 0, 10)
	require.NoError(t, err)
	_, err = e.SellShares("bob", market.ID, 0, 4)
	require.NoError(t, err)
	settle(t, e, market, 0)
	_, err = e.ClaimPayout("bob", market.ID)
	require.NoError(t, err)
	_, err = e.WithdrawFees("collector", market.ID)
	require.NoError(t, err)

	events, err := e.Events(market.ID)
	require.NoError(t, err)

	var types []string
	for _, event := range events {
		types = append(types, event.Type)
	}
	assert.Equal(t, []string{
		models.EventSharesPurchased,
		models.EventSharesSold,
		models.EventMarketClosed,
		models.EventOutcomeSet,
		models.EventPayoutClaimed,
		models.EventFeesWithdrawn,
	}, types)

	// The purchase event carries the executed amounts.
	assert.Equal(t, "bob", events[0].Username)
	assert.Equal(t, int64(10), events[0].Shares)
	assert.Greater(t, events[0].Amount, int64(0))
}

func TestFailedTransferLeavesNoTrace(t *testing.T) {
	db := newTestDB(t)
	market := newMarket(t, db)
	e := newEngine(db)

	// Approve far more than the balance: the pull fails on balance, after
	// the allowance check passes.
	require.NoError(t, token.Mint(db, "dave", 1))
	require.NoError(t, token.Approve(db, "dave", token.MarketAccount(market.ID), 1<<40))

	_, err := e.BuyShares("dave", market.ID, 0, 1000)
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)

	after := reloadMarket(t, db, market.ID)
	assert.Equal(t, int64(0), after.Outcomes[0].Quantity)
	assert.Equal(t, market.MarketMakerFunds, after.MarketMakerFunds)
	assert.Equal(t, int64(0), after.CollectedFees)

	events, err := e.Events(market.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}
