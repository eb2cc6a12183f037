// Package paper simulates order execution: realistic fills with slippage and
// taker fees, the open-position ledger, and account performance statistics.
package paper

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-scalper/config"
	"crypto-scalper/internal/events"
	"crypto-scalper/internal/market"
	"crypto-scalper/internal/risk"
	"crypto-scalper/internal/signals"
	"crypto-scalper/internal/strategy"
)

var (
	// ErrRejected means the risk gate declined the trade.
	ErrRejected = errors.New("trade rejected")
	// ErrPositionNotFound means the position id is not in the open set.
	ErrPositionNotFound = errors.New("position not found")
)

// Position is an open simulated position. Money fields are decimal; prices
// and sizes stay float64 like the incoming market data.
type Position struct {
	ID            string            `json:"id"`
	Pair          string            `json:"pair"`
	Direction     signals.Direction `json:"direction"`
	Size          float64           `json:"size"`
	EntryPrice    float64           `json:"entry_price"`
	CurrentPrice  float64           `json:"current_price"`
	TakeProfit    float64           `json:"take_profit"`
	StopLoss      float64           `json:"stop_loss"`
	EntryTime     time.Time         `json:"entry_time"`
	UnrealizedPnL decimal.Decimal   `json:"unrealized_pnl"`
	FeesPaid      decimal.Decimal   `json:"fees_paid"`
	SignalsUsed   []string          `json:"signals_used,omitempty"`
}

// updatePnL recomputes unrealized P&L from the current price.
func (p *Position) updatePnL(currentPrice float64) {
	p.CurrentPrice = currentPrice

	var priceChange float64
	if p.Direction == signals.DirectionLong {
		priceChange = currentPrice - p.EntryPrice
	} else {
		priceChange = p.EntryPrice - currentPrice
	}
	p.UnrealizedPnL = decimal.NewFromFloat(priceChange).Mul(decimal.NewFromFloat(p.Size))
}

// Trade is a completed round trip. Append-only once created.
type Trade struct {
	ID              string              `json:"id"`
	Pair            string              `json:"pair"`
	Direction       signals.Direction   `json:"direction"`
	Size            float64             `json:"size"`
	EntryPrice      float64             `json:"entry_price"`
	ExitPrice       float64             `json:"exit_price"`
	EntryTime       time.Time           `json:"entry_time"`
	ExitTime        time.Time           `json:"exit_time"`
	NetPnL          decimal.Decimal     `json:"net_pnl"`
	Fees            decimal.Decimal     `json:"fees"`
	ExitReason      strategy.ExitReason `json:"exit_reason"`
	DurationMinutes float64             `json:"duration_minutes"`
	SignalsUsed     []string            `json:"signals_used,omitempty"`
}

// ProfitFactor marshals +Inf (no losing trades yet) as the string "inf" so
// the value survives JSON encoding.
type ProfitFactor float64

func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(p), 1) {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(p))
}

// Statistics is the account performance summary.
type Statistics struct {
	StartingBalance   decimal.Decimal `json:"starting_balance"`
	CurrentBalance    decimal.Decimal `json:"current_balance"`
	TotalEquity       decimal.Decimal `json:"total_equity"`
	TotalReturnPct    float64         `json:"total_return_pct"`
	TotalTrades       int             `json:"total_trades"`
	WinningTrades     int             `json:"winning_trades"`
	LosingTrades      int             `json:"losing_trades"`
	WinRatePct        float64         `json:"win_rate_pct"`
	AvgWin            decimal.Decimal `json:"avg_win"`
	AvgLoss           decimal.Decimal `json:"avg_loss"`
	ProfitFactor      ProfitFactor    `json:"profit_factor"`
	MaxDrawdownPct    float64         `json:"max_drawdown_pct"`
	TotalFeesPaid     decimal.Decimal `json:"total_fees_paid"`
	DailyLoss         decimal.Decimal `json:"daily_loss"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	OpenPositions     int             `json:"open_positions"`
	DailyTrades       int             `json:"daily_trades"`
}

// PositionSummary is the read-only view of one open position.
type PositionSummary struct {
	ID              string            `json:"id"`
	Pair            string            `json:"pair"`
	Direction       signals.Direction `json:"direction"`
	Size            float64           `json:"size"`
	EntryPrice      float64           `json:"entry_price"`
	CurrentPrice    float64           `json:"current_price"`
	UnrealizedPnL   decimal.Decimal   `json:"unrealized_pnl"`
	TakeProfit      float64           `json:"take_profit"`
	StopLoss        float64           `json:"stop_loss"`
	EntryTime       time.Time         `json:"entry_time"`
	DurationMinutes float64           `json:"duration_minutes"`
}

// Executor owns the simulated ledger. All trade gating is delegated to the
// risk manager; the executor itself never second-guesses an approval.
type Executor struct {
	feesCfg config.FeesConfig
	exitCfg config.ExitConfig

	riskMgr *risk.Manager
	bus     *events.Bus
	logger  zerolog.Logger
	now     func() time.Time
	randFn  func() float64

	mu              sync.RWMutex
	balance         decimal.Decimal
	startingBalance decimal.Decimal
	positions       map[string]*Position
	completedTrades []Trade

	totalTrades   int
	winningTrades int
	totalFeesPaid decimal.Decimal
	peakEquity    decimal.Decimal
	maxDrawdown   float64
}

// NewExecutor creates a paper trading executor. bus, now and randFn may be
// nil.
func NewExecutor(cfg config.TradingConfig, riskMgr *risk.Manager, bus *events.Bus, logger zerolog.Logger, now func() time.Time, randFn func() float64) *Executor {
	if now == nil {
		now = time.Now
	}
	if randFn == nil {
		randFn = rand.Float64
	}

	starting := decimal.NewFromFloat(cfg.StartingCapital)
	e := &Executor{
		feesCfg:         cfg.Fees,
		exitCfg:         cfg.Exit,
		riskMgr:         riskMgr,
		bus:             bus,
		logger:          logger.With().Str("component", "paper_executor").Logger(),
		now:             now,
		randFn:          randFn,
		balance:         starting,
		startingBalance: starting,
		positions:       make(map[string]*Position),
		peakEquity:      starting,
	}

	e.logger.Info().Str("starting_balance", starting.StringFixed(2)).Msg("Paper trader initialized")
	return e
}

// Balance returns the realized cash balance.
func (e *Executor) Balance() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	bal, _ := e.balance.Float64()
	return bal
}

// OpenPosition gates the proposal through the risk manager, simulates the
// fill, deducts the taker fee and registers the position. The returned error
// wraps ErrRejected when the gate declines.
func (e *Executor) OpenPosition(ts *strategy.TradeSignal, proposedSize float64) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bal, _ := e.balance.Float64()
	elig := e.riskMgr.CheckTradeEligibility(ts.Pair, ts.Direction, proposedSize, ts.EntryPrice, bal)
	if !elig.Approved {
		e.logger.Warn().Str("pair", ts.Pair).Str("reason", elig.Reason).Msg("Trade rejected")
		return nil, fmt.Errorf("%w: %s", ErrRejected, elig.Reason)
	}
	size := elig.AdjustedSize

	fillPrice := e.simulateFillPrice(ts.EntryPrice, ts.Direction, size)

	notional := decimal.NewFromFloat(fillPrice * size)
	fees := notional.Mul(decimal.NewFromFloat(e.feesCfg.TakerFeeRate))

	e.balance = e.balance.Sub(fees)
	e.totalFeesPaid = e.totalFeesPaid.Add(fees)

	signalNames := make([]string, 0, len(ts.SupportingSignals))
	for _, s := range ts.SupportingSignals {
		signalNames = append(signalNames, s.Indicator)
	}

	pos := &Position{
		ID:           uuid.NewString(),
		Pair:         ts.Pair,
		Direction:    ts.Direction,
		Size:         size,
		EntryPrice:   fillPrice,
		CurrentPrice: fillPrice,
		TakeProfit:   ts.TakeProfit,
		StopLoss:     ts.StopLoss,
		EntryTime:    e.now(),
		FeesPaid:     fees,
		SignalsUsed:  signalNames,
	}
	e.positions[pos.ID] = pos
	e.totalTrades++

	e.riskMgr.RegisterPosition(pos.ID, pos.Pair, pos.Direction, size, fillPrice, pos.StopLoss)

	e.logger.Info().
		Str("position_id", pos.ID).
		Str("pair", pos.Pair).
		Str("direction", string(pos.Direction)).
		Float64("size", size).
		Float64("fill_price", fillPrice).
		Float64("take_profit", pos.TakeProfit).
		Float64("stop_loss", pos.StopLoss).
		Str("fees", fees.StringFixed(4)).
		Msg("Position opened")

	if e.bus != nil {
		e.bus.PublishTradeOpened(pos.ID, pos.Pair, string(pos.Direction), size, fillPrice)
	}
	return pos, nil
}

// ClosePosition closes an open position at the given market price, settling
// P&L and fees against the balance.
func (e *Executor) ClosePosition(id string, currentPrice float64, reason strategy.ExitReason) (*Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked(id, currentPrice, reason)
}

func (e *Executor) closeLocked(id string, currentPrice float64, reason strategy.ExitReason) (*Trade, error) {
	pos, ok := e.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}

	// Closing takes the opposite side of the book.
	fillPrice := e.simulateFillPrice(currentPrice, pos.Direction.Opposite(), pos.Size)

	var priceChange float64
	if pos.Direction == signals.DirectionLong {
		priceChange = fillPrice - pos.EntryPrice
	} else {
		priceChange = pos.EntryPrice - fillPrice
	}
	grossPnL := decimal.NewFromFloat(priceChange).Mul(decimal.NewFromFloat(pos.Size))

	exitNotional := decimal.NewFromFloat(fillPrice * pos.Size)
	exitFees := exitNotional.Mul(decimal.NewFromFloat(e.feesCfg.TakerFeeRate))

	netPnL := grossPnL.Sub(pos.FeesPaid).Sub(exitFees)

	// Entry fees were already deducted when the position opened, so adding
	// them back here makes the round trip settle to balance += net P&L.
	e.balance = e.balance.Add(netPnL).Add(pos.FeesPaid)
	e.totalFeesPaid = e.totalFeesPaid.Add(exitFees)

	if netPnL.Sign() >= 0 {
		e.winningTrades++
	}

	exitTime := e.now()
	trade := Trade{
		ID:              pos.ID,
		Pair:            pos.Pair,
		Direction:       pos.Direction,
		Size:            pos.Size,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       fillPrice,
		EntryTime:       pos.EntryTime,
		ExitTime:        exitTime,
		NetPnL:          netPnL,
		Fees:            pos.FeesPaid.Add(exitFees),
		ExitReason:      reason,
		DurationMinutes: exitTime.Sub(pos.EntryTime).Minutes(),
		SignalsUsed:     pos.SignalsUsed,
	}
	e.completedTrades = append(e.completedTrades, trade)
	delete(e.positions, id)

	e.riskMgr.ClosePosition(id, string(reason), netPnL)
	e.updateDrawdownLocked()

	e.logger.Info().
		Str("position_id", id).
		Str("pair", trade.Pair).
		Str("direction", string(trade.Direction)).
		Float64("exit_price", fillPrice).
		Str("net_pnl", netPnL.StringFixed(2)).
		Str("reason", string(reason)).
		Msg("Position closed")

	if e.bus != nil {
		e.bus.PublishTradeClosed(trade)
	}
	return &trade, nil
}

// UpdatePositions refreshes unrealized P&L for every open position with a
// known price and closes those whose exit condition fires. Returns the ids
// that were closed.
func (e *Executor) UpdatePositions(prices market.PriceMap) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var closed []string
	for id, pos := range e.positions {
		currentPrice, ok := prices[pos.Pair]
		if !ok {
			continue
		}
		pos.updatePnL(currentPrice)

		if exit, reason := e.checkExitConditions(pos, currentPrice); exit {
			if _, err := e.closeLocked(id, currentPrice, reason); err == nil {
				closed = append(closed, id)
			}
		}
	}

	e.updateDrawdownLocked()
	return closed
}

// checkExitConditions applies the executor's exit rules: boundary-inclusive
// TP/SL and the unconditional time stop.
func (e *Executor) checkExitConditions(pos *Position, currentPrice float64) (bool, strategy.ExitReason) {
	long := pos.Direction == signals.DirectionLong

	if long && currentPrice >= pos.TakeProfit || !long && currentPrice <= pos.TakeProfit {
		return true, strategy.ExitTakeProfit
	}
	if long && currentPrice <= pos.StopLoss || !long && currentPrice >= pos.StopLoss {
		return true, strategy.ExitStopLoss
	}

	timeLimit := time.Duration(e.exitCfg.TimeStopMinutes) * time.Minute
	if e.now().Sub(pos.EntryTime) >= timeLimit {
		return true, strategy.ExitTimeStop
	}

	return false, ""
}

// CloseAllPositions closes every open position at its last known price,
// falling back to the current price map when provided. Used for shutdown
// draining; safe to call with nothing open.
func (e *Executor) CloseAllPositions(prices market.PriceMap, reason strategy.ExitReason) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var closed []string
	for id, pos := range e.positions {
		price := pos.CurrentPrice
		if p, ok := prices[pos.Pair]; ok {
			price = p
		}
		if _, err := e.closeLocked(id, price, reason); err == nil {
			closed = append(closed, id)
		}
	}
	return closed
}

// simulateFillPrice applies the slippage model against the trader: a base
// component, a volume component above the large-order notional threshold,
// and a random market-impact term.
func (e *Executor) simulateFillPrice(marketPrice float64, direction signals.Direction, size float64) float64 {
	slippage := e.feesCfg.BaseSlippage

	notional := size * marketPrice
	if notional > e.feesCfg.LargeOrderNotional {
		slippage += e.feesCfg.VolumeSlippageFactor * (notional / e.feesCfg.LargeOrderNotional)
	}

	slippage += e.randFn() * e.feesCfg.MaxRandomImpact

	if direction == signals.DirectionLong {
		return marketPrice * (1 + slippage)
	}
	return marketPrice * (1 - slippage)
}

// TotalEquity is balance plus unrealized P&L across open positions.
func (e *Executor) TotalEquity() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalEquityLocked()
}

func (e *Executor) totalEquityLocked() decimal.Decimal {
	equity := e.balance
	for _, pos := range e.positions {
		equity = equity.Add(pos.UnrealizedPnL)
	}
	return equity
}

// updateDrawdownLocked tracks the running equity peak and the worst
// peak-to-trough drawdown seen so far.
func (e *Executor) updateDrawdownLocked() {
	equity := e.totalEquityLocked()
	if equity.GreaterThan(e.peakEquity) {
		e.peakEquity = equity
	}
	if e.peakEquity.IsPositive() {
		dd, _ := e.peakEquity.Sub(equity).Div(e.peakEquity).Float64()
		if dd > e.maxDrawdown {
			e.maxDrawdown = dd
		}
	}
}

// Statistics computes the account performance summary. Pure read.
func (e *Executor) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	equity := e.totalEquityLocked()

	totalReturn := 0.0
	if e.startingBalance.IsPositive() {
		r, _ := equity.Sub(e.startingBalance).Div(e.startingBalance).Float64()
		totalReturn = r * 100
	}

	winRate := 0.0
	if e.totalTrades > 0 {
		winRate = float64(e.winningTrades) / float64(e.totalTrades) * 100
	}

	winSum, lossSum := decimal.Zero, decimal.Zero
	winCount, lossCount := 0, 0
	for _, t := range e.completedTrades {
		switch t.NetPnL.Sign() {
		case 1:
			winSum = winSum.Add(t.NetPnL)
			winCount++
		case -1:
			lossSum = lossSum.Add(t.NetPnL)
			lossCount++
		}
	}

	avgWin, avgLoss := decimal.Zero, decimal.Zero
	if winCount > 0 {
		avgWin = winSum.Div(decimal.NewFromInt(int64(winCount)))
	}
	if lossCount > 0 {
		avgLoss = lossSum.Div(decimal.NewFromInt(int64(lossCount)))
	}

	profitFactor := math.Inf(1)
	if !avgLoss.IsZero() {
		pf, _ := avgWin.Div(avgLoss).Abs().Float64()
		profitFactor = pf
	}

	bal, _ := e.balance.Float64()
	riskMetrics := e.riskMgr.RiskMetrics(bal)

	return Statistics{
		StartingBalance:   e.startingBalance,
		CurrentBalance:    e.balance,
		TotalEquity:       equity,
		TotalReturnPct:    totalReturn,
		TotalTrades:       e.totalTrades,
		WinningTrades:     e.winningTrades,
		LosingTrades:      e.totalTrades - e.winningTrades,
		WinRatePct:        winRate,
		AvgWin:            avgWin,
		AvgLoss:           avgLoss,
		ProfitFactor:      ProfitFactor(profitFactor),
		MaxDrawdownPct:    e.maxDrawdown * 100,
		TotalFeesPaid:     e.totalFeesPaid,
		DailyLoss:         riskMetrics.DailyLoss,
		ConsecutiveLosses: e.riskMgr.ConsecutiveLosses(),
		OpenPositions:     len(e.positions),
		DailyTrades:       e.riskMgr.TradeCountToday(),
	}
}

// PositionSummaries returns read-only views of every open position.
func (e *Executor) PositionSummaries() []PositionSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	out := make([]PositionSummary, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, PositionSummary{
			ID:              pos.ID,
			Pair:            pos.Pair,
			Direction:       pos.Direction,
			Size:            pos.Size,
			EntryPrice:      pos.EntryPrice,
			CurrentPrice:    pos.CurrentPrice,
			UnrealizedPnL:   pos.UnrealizedPnL,
			TakeProfit:      pos.TakeProfit,
			StopLoss:        pos.StopLoss,
			EntryTime:       pos.EntryTime,
			DurationMinutes: now.Sub(pos.EntryTime).Minutes(),
		})
	}
	return out
}

// CompletedTrades returns a copy of the closed-trade ledger, oldest first.
func (e *Executor) CompletedTrades() []Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Trade, len(e.completedTrades))
	copy(out, e.completedTrades)
	return out
}

// OpenPositionCount returns the number of open positions.
func (e *Executor) OpenPositionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.positions)
}

// HasOpenPosition reports whether any open position exists for the pair.
func (e *Executor) HasOpenPosition(pair string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, pos := range e.positions {
		if pos.Pair == pair {
			return true
		}
	}
	return false
}
