// Package engine drives each market through its life: quoting and executing
// trades against the LMSR cost function while the market is open, closing it
// once its end time passes, settling on the oracle's report, and paying out
// winning positions.
//
// Every mutating operation runs inside one database transaction while holding
// that market's lock, which restores the serialized, all-or-nothing execution
// the design assumes: a failed token transfer rolls back every other change.
package engine

import (
	"errors"
	"sync"
	"time"

	"lmsrmarket/handlers/math/fixedpoint"
	"lmsrmarket/handlers/math/probabilities/lmsr"
	"lmsrmarket/models"
	"lmsrmarket/positions"
	"lmsrmarket/token"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerCaller is the principal name the engine uses on the position ledger.
// The registry authorizes it for every market it creates.
const LedgerCaller = "engine"

// PriceScale is the fixed-point scale of Price results: 1e8, so a price of
// 50000000 means probability 0.5.
const PriceScale = 100_000_000

// baseUnitsPerFixed converts lmsr fixed-point share-units into token base
// units: one share-unit of cost is worth one whole token.
const baseUnitsPerFixed = fixedpoint.Scale / token.UnitScale

var (
	ErrMarketNotFound    = errors.New("market not found")
	ErrMarketNotOpen     = errors.New("market is not open for trading")
	ErrMarketStillOpen   = errors.New("market end time has not been reached")
	ErrMarketClosed      = errors.New("market already closed")
	ErrMarketNotClosed   = errors.New("market is not closed yet")
	ErrMarketSettled     = errors.New("market already settled")
	ErrMarketNotSettled  = errors.New("market is not settled")
	ErrNotOracle         = errors.New("not authorized")
	ErrNotFeeRecipient   = errors.New("only the fee recipient may withdraw fees")
	ErrOutcomeRange      = errors.New("outcome index out of range")
	ErrSharesNotPositive = errors.New("number of shares must be positive")
	ErrNoWinnings        = errors.New("no winnings to claim")

	// ErrSolvency marks an invariant violation: a trade or payout that would
	// drive market maker funds negative. It aborts the call rather than
	// clamping, since clamping would corrupt the pricing algebra.
	ErrSolvency = errors.New("market maker funds would go negative")
)

// Engine executes market operations against the database, the token ledger,
// and the position ledger.
type Engine struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates an engine bound to a database and logger.
func New(db *gorm.DB, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		logger: logger,
		clock:  time.Now,
		locks:  make(map[int64]*sync.Mutex),
	}
}

// marketLock returns the mutex serializing all mutations of one market.
func (e *Engine) marketLock(marketID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[marketID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[marketID] = lock
	}
	return lock
}

// loadMarket fetches a market with its outcomes ordered by index and returns
// the quantity vector the cost function operates on.
func loadMarket(db *gorm.DB, marketID int64) (*models.Market, []int64, error) {
	var market models.Market
	result := db.Preload("Outcomes", func(db *gorm.DB) *gorm.DB {
		return db.Order("outcome_index")
	}).First(&market, marketID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil, ErrMarketNotFound
		}
		return nil, nil, result.Error
	}

	quantities := make([]int64, len(market.Outcomes))
	for _, outcome := range market.Outcomes {
		quantities[outcome.Index] = outcome.Quantity
	}
	return &market, quantities, nil
}

// ceilBase converts a non-negative fixed-point cost to token base units,
// rounding up so rounding always favors market maker solvency.
func ceilBase(f fixedpoint.Fixed) int64 {
	if f <= 0 {
		return 0
	}
	return (int64(f) + baseUnitsPerFixed - 1) / baseUnitsPerFixed
}

// floorBase converts a non-negative fixed-point proceeds value to token base
// units, rounding down for the same reason.
func floorBase(f fixedpoint.Fixed) int64 {
	if f <= 0 {
		return 0
	}
	return int64(f) / baseUnitsPerFixed
}

// feeFor carves the trading fee out of a gross amount using integer division,
// cost * feePercent / 100.
func feeFor(gross, feePercent int64) int64 {
	return gross * feePercent / 100
}

// EstimateCost quotes the gross token amount for shifting an outcome by
// numShares: positive (cost to the buyer) for a buy, negative (gross proceeds
// before fee) for a sell with negative numShares. Read-only and available in
// every lifecycle state; the executing calls charge exactly this amount when
// state is unchanged in between.
func (e *Engine) EstimateCost(marketID int64, outcomeIndex int, numShares int64) (int64, error) {
	if numShares == 0 {
		return 0, ErrSharesNotPositive
	}

	market, quantities, err := loadMarket(e.db, marketID)
	if err != nil {
		return 0, err
	}
	if outcomeIndex < 0 || outcomeIndex >= len(quantities) {
		return 0, ErrOutcomeRange
	}

	delta, err := lmsr.TradeCost(market.LiquidityParam, quantities, outcomeIndex, numShares)
	if err != nil {
		return 0, err
	}
	if numShares > 0 {
		return ceilBase(delta), nil
	}
	return -floorBase(-delta), nil
}

// Price returns the marginal price of an outcome as an implied probability
// scaled to PriceScale. Read-only in every lifecycle state.
func (e *Engine) Price(marketID int64, outcomeIndex int) (int64, error) {
	market, quantities, err := loadMarket(e.db, marketID)
	if err != nil {
		return 0, err
	}
	if outcomeIndex < 0 || outcomeIndex >= len(quantities) {
		return 0, ErrOutcomeRange
	}

	price, err := lmsr.Price(market.LiquidityParam, quantities, outcomeIndex)
	if err != nil {
		return 0, err
	}
	return int64(price) / (fixedpoint.Scale / PriceScale), nil
}

// BuyShares charges the trader the LMSR cost of numShares of an outcome,
// pulls the tokens via allowance, mints the position, and books funds and fee.
// The fee is carved out of the charge: the trader pays cost, the maker keeps
// cost-fee, collectedFees keeps fee.
func (e *Engine) BuyShares(trader string, marketID int64, outcomeIndex int, numShares int64) (int64, error) {
	if numShares <= 0 {
		return 0, ErrSharesNotPositive
	}

	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	tx := e.db.Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}

	market, quantities, err := loadMarket(tx, marketID)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if market.Closed || market.Settled {
		tx.Rollback()
		return 0, ErrMarketNotOpen
	}
	if outcomeIndex < 0 || outcomeIndex >= len(quantities) {
		tx.Rollback()
		return 0, ErrOutcomeRange
	}

	delta, err := lmsr.TradeCost(market.LiquidityParam, quantities, outcomeIndex, numShares)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	cost := ceilBase(delta)
	fee := feeFor(cost, market.FeePercent)

	// Pull payment before touching market state; insufficient balance or
	// allowance aborts the whole call.
	marketAccount := token.MarketAccount(marketID)
	if err := token.TransferFrom(tx, marketAccount, trader, marketAccount, cost); err != nil {
		tx.Rollback()
		return 0, err
	}

	outcome := &market.Outcomes[outcomeIndex]
	outcome.Quantity += numShares
	if err := tx.Save(outcome).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	market.MarketMakerFunds += cost - fee
	market.CollectedFees += fee
	if err := tx.Omit("Outcomes").Save(market).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := positions.Mint(tx, LedgerCaller, trader, marketID, outcomeIndex, numShares); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := e.appendEvent(tx, models.MarketEvent{
		MarketID:     marketID,
		Type:         models.EventSharesPurchased,
		Username:     trader,
		OutcomeIndex: outcomeIndex,
		Shares:       numShares,
		Amount:       cost,
	}); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}

	e.logger.Sugar().Infow("shares purchased",
		"market_id", marketID,
		"trader", trader,
		"outcome", outcomeIndex,
		"shares", numShares,
		"cost", cost,
		"fee", fee,
	)
	return cost, nil
}

// SellShares burns numShares of the trader's position and pays out the LMSR
// proceeds minus fee. Market maker funds decrease by the gross proceeds; the
// fee portion moves to collectedFees.
func (e *Engine) SellShares(trader string, marketID int64, outcomeIndex int, numShares int64) (int64, error) {
	if numShares <= 0 {
		return 0, ErrSharesNotPositive
	}

	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	tx := e.db.Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}

	market, quantities, err := loadMarket(tx, marketID)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if market.Closed || market.Settled {
		tx.Rollback()
		return 0, ErrMarketNotOpen
	}
	if outcomeIndex < 0 || outcomeIndex >= len(quantities) {
		tx.Rollback()
		return 0, ErrOutcomeRange
	}

	held, err := positions.BalanceOf(tx, trader, marketID, outcomeIndex)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if held < numShares {
		tx.Rollback()
		return 0, positions.ErrInsufficientShares
	}

	delta, err := lmsr.TradeCost(market.LiquidityParam, quantities, outcomeIndex, -numShares)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	gross := floorBase(-delta)
	fee := feeFor(gross, market.FeePercent)
	net := gross - fee

	if market.MarketMakerFunds-gross < 0 {
		tx.Rollback()
		e.logger.Sugar().Errorw("solvency invariant violated on sell",
			"market_id", marketID, "funds", market.MarketMakerFunds, "gross", gross)
		return 0, ErrSolvency
	}

	outcome := &market.Outcomes[outcomeIndex]
	outcome.Quantity -= numShares
	if err := tx.Save(outcome).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	market.MarketMakerFunds -= gross
	market.CollectedFees += fee
	if err := tx.Omit("Outcomes").Save(market).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := positions.Burn(tx, LedgerCaller, trader, marketID, outcomeIndex, numShares); err != nil {
		tx.Rollback()
		return 0, err
	}

	if net > 0 {
		if err := token.Transfer(tx, token.MarketAccount(marketID), trader, net); err != nil {
			tx.Rollback()
			return 0, err
		}
	}

	if err := e.appendEvent(tx, models.MarketEvent{
		MarketID:     marketID,
		Type:         models.EventSharesSold,
		Username:     trader,
		OutcomeIndex: outcomeIndex,
		Shares:       numShares,
		Amount:       net,
	}); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}

	e.logger.Sugar().Infow("shares sold",
		"market_id", marketID,
		"trader", trader,
		"outcome", outcomeIndex,
		"shares", numShares,
		"proceeds", net,
		"fee", fee,
	)
	return net, nil
}

// CloseMarket transitions Open -> Closed once the end time has passed. Any
// principal may call it; the time condition, not the caller, gates the
// transition. It succeeds exactly once.
func (e *Engine) CloseMarket(caller string, marketID int64) error {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	tx := e.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	market, _, err := loadMarket(tx, marketID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if market.Closed || market.Settled {
		tx.Rollback()
		return ErrMarketClosed
	}
	if e.clock().Before(market.EndTime) {
		tx.Rollback()
		return ErrMarketStillOpen
	}

	market.Closed = true
	if err := tx.Omit("Outcomes").Save(market).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := e.appendEvent(tx, models.MarketEvent{
		MarketID: marketID,
		Type:     models.EventMarketClosed,
		Username: caller,
	}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	e.logger.Sugar().Infow("market closed", "market_id", marketID, "caller", caller)
	return nil
}

// SetOutcome transitions Closed -> Settled. Only the market's oracle may
// report, only after closing, and only once.
func (e *Engine) SetOutcome(caller string, marketID int64, outcomeIndex int) error {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	tx := e.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	market, quantities, err := loadMarket(tx, marketID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if caller != market.OracleUsername {
		tx.Rollback()
		return ErrNotOracle
	}
	if market.Settled {
		tx.Rollback()
		return ErrMarketSettled
	}
	if !market.Closed {
		tx.Rollback()
		return ErrMarketNotClosed
	}
	if outcomeIndex < 0 || outcomeIndex >= len(quantities) {
		tx.Rollback()
		return ErrOutcomeRange
	}

	market.Settled = true
	market.WinningOutcome = outcomeIndex
	if err := tx.Omit("Outcomes").Save(market).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := e.appendEvent(tx, models.MarketEvent{
		MarketID:     marketID,
		Type:         models.EventOutcomeSet,
		Username:     caller,
		OutcomeIndex: outcomeIndex,
	}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	e.logger.Sugar().Infow("outcome set", "market_id", marketID, "outcome", outcomeIndex)
	return nil
}

// ClaimPayout redeems the caller's entire winning position at one whole token
// per share. Losing positions are never redeemable; a second claim finds a
// zero balance and fails.
func (e *Engine) ClaimPayout(trader string, marketID int64) (int64, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	tx := e.db.Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}

	market, _, err := loadMarket(tx, marketID)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if !market.Settled {
		tx.Rollback()
		return 0, ErrMarketNotSettled
	}

	winningShares, err := positions.BalanceOf(tx, trader, marketID, market.WinningOutcome)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if winningShares == 0 {
		tx.Rollback()
		return 0, ErrNoWinnings
	}

	payout := winningShares * token.UnitScale
	if market.MarketMakerFunds-payout < 0 {
		tx.Rollback()
		e.logger.Sugar().Errorw("solvency invariant violated on payout",
			"market_id", marketID, "funds", market.MarketMakerFunds, "payout", payout)
		return 0, ErrSolvency
	}

	market.MarketMakerFunds -= payout
	if err := tx.Omit("Outcomes").Save(market).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := positions.Burn(tx, LedgerCaller, trader, marketID, market.WinningOutcome, winningShares); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := token.Transfer(tx, token.MarketAccount(marketID), trader, payout); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := e.appendEvent(tx, models.MarketEvent{
		MarketID:     marketID,
		Type:         models.EventPayoutClaimed,
		Username:     trader,
		OutcomeIndex: market.WinningOutcome,
		Shares:       winningShares,
		Amount:       payout,
	}); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}

	e.logger.Sugar().Infow("payout claimed",
		"market_id", marketID, "trader", trader, "shares", winningShares, "payout", payout)
	return payout, nil
}

// WithdrawFees transfers all collected fees to the fee recipient and resets
// the accumulator. Calling again before new fees accrue is a zero-transfer
// no-op. Available in any lifecycle state.
func (e *Engine) WithdrawFees(caller string, marketID int64) (int64, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	tx := e.db.Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}

	market, _, err := loadMarket(tx, marketID)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if caller != market.FeeRecipientUsername {
		tx.Rollback()
		return 0, ErrNotFeeRecipient
	}

	amount := market.CollectedFees
	market.CollectedFees = 0
	if err := tx.Omit("Outcomes").Save(market).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	if amount > 0 {
		if err := token.Transfer(tx, token.MarketAccount(marketID), caller, amount); err != nil {
			tx.Rollback()
			return 0, err
		}
	}

	if err := e.appendEvent(tx, models.MarketEvent{
		MarketID: marketID,
		Type:     models.EventFeesWithdrawn,
		Username: caller,
		Amount:   amount,
	}); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}

	e.logger.Sugar().Infow("fees withdrawn", "market_id", marketID, "amount", amount)
	return amount, nil
}

// Events returns a market's event log in order of occurrence.
func (e *Engine) Events(marketID int64) ([]models.MarketEvent, error) {
	var events []models.MarketEvent
	result := e.db.Where("market_id = ?", marketID).Order("id").Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}

func (e *Engine) appendEvent(tx *gorm.DB, event models.MarketEvent) error {
	event.OccurredAt = e.clock()
	return tx.Create(&event).Error
}
