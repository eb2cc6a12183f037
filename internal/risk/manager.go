// Package risk is the single authority for account-level trade gating:
// position limits, daily loss limits, loss-streak cooldowns and the
// emergency halt.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-scalper/config"
	"crypto-scalper/internal/events"
	"crypto-scalper/internal/market"
	"crypto-scalper/internal/signals"
)

// TrackedPosition is the risk manager's lightweight view of an open
// position, keyed by the executor's position id.
type TrackedPosition struct {
	ID            string            `json:"id"`
	Pair          string            `json:"pair"`
	Direction     signals.Direction `json:"direction"`
	Size          float64           `json:"size"`
	EntryPrice    float64           `json:"entry_price"`
	StopLoss      float64           `json:"stop_loss"`
	PositionValue decimal.Decimal   `json:"position_value"`
	RiskAmount    decimal.Decimal   `json:"risk_amount"`
	EntryTime     time.Time         `json:"entry_time"`
}

// Eligibility is the result of a trade eligibility check.
type Eligibility struct {
	Approved     bool    `json:"approved"`
	Reason       string  `json:"reason"`
	AdjustedSize float64 `json:"adjusted_size"`
}

// Metrics is a read-only view of current risk state.
type Metrics struct {
	CurrentExposure decimal.Decimal `json:"current_exposure"`
	DailyPnL        decimal.Decimal `json:"daily_pnl"`
	DailyLoss       decimal.Decimal `json:"daily_loss"`
	OpenPositions   int             `json:"open_positions"`
	LeverageUsed    float64         `json:"leverage_used"`
	RiskPerTrade    decimal.Decimal `json:"risk_per_trade"`
	TotalRisk       decimal.Decimal `json:"total_risk"`
}

// PositionLimits reports the current headroom against each limit.
type PositionLimits struct {
	MaxDailyLoss       decimal.Decimal `json:"max_daily_loss"`
	RemainingDailyLoss decimal.Decimal `json:"remaining_daily_loss"`
	MaxPositionSize    decimal.Decimal `json:"max_position_size"`
	MaxExposure        decimal.Decimal `json:"max_exposure"`
	CurrentExposure    decimal.Decimal `json:"current_exposure"`
	RemainingExposure  decimal.Decimal `json:"remaining_exposure"`
	MaxPositions       int             `json:"max_positions"`
	CurrentPositions   int             `json:"current_positions"`
}

// ReportPosition is one open position inside a risk report.
type ReportPosition struct {
	ID        string            `json:"id"`
	Pair      string            `json:"pair"`
	Direction signals.Direction `json:"direction"`
	Size      float64           `json:"size"`
	Value     decimal.Decimal   `json:"value"`
	Risk      decimal.Decimal   `json:"risk"`
}

// Report is the full exportable risk state.
type Report struct {
	Timestamp         time.Time         `json:"timestamp"`
	TradingStatus     string            `json:"trading_status"`
	HaltReason        string            `json:"halt_reason,omitempty"`
	CooldownUntil     *time.Time        `json:"cooldown_until,omitempty"`
	DailyPnL          decimal.Decimal   `json:"daily_pnl"`
	DailyLoss         decimal.Decimal   `json:"daily_loss"`
	TradeCountToday   int               `json:"trade_count_today"`
	ConsecutiveLosses int               `json:"consecutive_losses"`
	PositionCount     int               `json:"position_count"`
	TotalExposure     decimal.Decimal   `json:"total_exposure"`
	Positions         []ReportPosition  `json:"positions"`
	Limits            config.RiskConfig `json:"limits"`
}

// Manager enforces account-wide risk limits. All mutating operations are
// serialized behind one mutex.
type Manager struct {
	cfg    config.RiskConfig
	logger zerolog.Logger
	bus    *events.Bus
	now    func() time.Time

	mu                sync.RWMutex
	dailyPnL          decimal.Decimal
	dailyLoss         decimal.Decimal
	tradeCountToday   int
	consecutiveLosses int
	lastResetDate     string // YYYY-MM-DD

	openPositions map[string]*TrackedPosition
	totalExposure decimal.Decimal

	tradingHalted bool
	haltReason    string
	cooldownUntil time.Time
}

// NewManager creates a risk manager. bus may be nil; now may be nil to use
// wall clock time.
func NewManager(cfg config.RiskConfig, bus *events.Bus, logger zerolog.Logger, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		cfg:           cfg,
		logger:        logger.With().Str("component", "risk_manager").Logger(),
		bus:           bus,
		now:           now,
		openPositions: make(map[string]*TrackedPosition),
	}
	m.lastResetDate = now().UTC().Format("2006-01-02")
	m.logger.Info().Msg("Risk manager initialized")
	return m
}

// CheckTradeEligibility runs the ordered gate checks for a proposed trade.
// The first failing check short-circuits; on approval the returned size is
// clamped to the account's caps.
func (m *Manager) CheckTradeEligibility(pair string, direction signals.Direction, proposedSize, entryPrice, accountBalance float64) Eligibility {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tradingHalted {
		return Eligibility{Reason: fmt.Sprintf("trading halted: %s", m.haltReason)}
	}

	if !m.cooldownUntil.IsZero() && m.now().Before(m.cooldownUntil) {
		remaining := m.cooldownUntil.Sub(m.now()).Minutes()
		return Eligibility{Reason: fmt.Sprintf("in cooldown for %.1f more minutes", remaining)}
	}

	balance := decimal.NewFromFloat(accountBalance)
	dailyLimit := balance.Mul(decimal.NewFromFloat(m.cfg.DailyLossLimitPercent / 100))
	if m.dailyLoss.GreaterThanOrEqual(dailyLimit) {
		m.activateCooldown("daily loss limit reached")
		return Eligibility{Reason: "daily loss limit exceeded"}
	}

	if len(m.openPositions) >= m.cfg.MaxConcurrentPositions {
		return Eligibility{Reason: fmt.Sprintf("maximum %d positions already open", m.cfg.MaxConcurrentPositions)}
	}

	maxSize := m.maxPositionSize(entryPrice, accountBalance)
	adjustedSize := proposedSize
	if maxSize < adjustedSize {
		adjustedSize = maxSize
	}
	if adjustedSize <= 0 {
		return Eligibility{Reason: "position size too small or insufficient capital"}
	}

	positionValue := decimal.NewFromFloat(adjustedSize * entryPrice)
	requiredMargin := positionValue.Div(decimal.NewFromFloat(m.cfg.MaxLeverage))
	if requiredMargin.GreaterThan(balance.Mul(decimal.NewFromFloat(0.8))) {
		return Eligibility{Reason: "insufficient margin for position"}
	}

	maxExposure := balance.Mul(decimal.NewFromFloat(m.cfg.MaxLeverage - 1))
	if m.totalExposure.Add(positionValue).GreaterThan(maxExposure) {
		return Eligibility{Reason: "maximum exposure limit reached"}
	}

	for _, pos := range m.openPositions {
		if pos.Pair == pair && pos.Direction == direction {
			return Eligibility{Reason: fmt.Sprintf("already have %s position in %s", direction, pair)}
		}
	}

	return Eligibility{Approved: true, Reason: "trade approved", AdjustedSize: adjustedSize}
}

// maxPositionSize is the more conservative of the risk-based cap (assuming a
// 1% stop distance) and the leverage-based cap. Caller holds the lock.
func (m *Manager) maxPositionSize(entryPrice, accountBalance float64) float64 {
	if entryPrice <= 0 {
		return 0
	}

	maxRiskAmount := accountBalance * m.cfg.MaxPositionSizePercent / 100
	riskPerUnit := entryPrice * 0.01
	maxSizeByRisk := maxRiskAmount / riskPerUnit

	maxSizeByLeverage := accountBalance * m.cfg.MaxLeverage / entryPrice

	if maxSizeByRisk < maxSizeByLeverage {
		return maxSizeByRisk
	}
	return maxSizeByLeverage
}

// RegisterPosition adds an opened position to risk tracking.
func (m *Manager) RegisterPosition(id, pair string, direction signals.Direction, size, entryPrice, stopLoss float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	positionValue := decimal.NewFromFloat(size * entryPrice)
	riskAmount := decimal.NewFromFloat(absFloat(entryPrice-stopLoss) * size)

	m.openPositions[id] = &TrackedPosition{
		ID:            id,
		Pair:          pair,
		Direction:     direction,
		Size:          size,
		EntryPrice:    entryPrice,
		StopLoss:      stopLoss,
		PositionValue: positionValue,
		RiskAmount:    riskAmount,
		EntryTime:     m.now(),
	}
	m.totalExposure = m.totalExposure.Add(positionValue)
	m.tradeCountToday++

	m.logger.Info().
		Str("position_id", id).
		Str("pair", pair).
		Str("direction", string(direction)).
		Float64("size", size).
		Str("risk_amount", riskAmount.StringFixed(2)).
		Msg("Position registered")
}

// ClosePosition removes a position from tracking and updates loss-streak and
// daily counters. Closing an unknown id is a no-op returning false.
func (m *Manager) ClosePosition(id string, exitReason string, realizedPnL decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.openPositions[id]
	if !ok {
		m.logger.Warn().Str("position_id", id).Msg("Position not found in risk manager")
		return false
	}

	m.totalExposure = m.totalExposure.Sub(pos.PositionValue)
	m.dailyPnL = m.dailyPnL.Add(realizedPnL)

	if realizedPnL.IsNegative() {
		m.dailyLoss = m.dailyLoss.Add(realizedPnL.Abs())
		m.consecutiveLosses++
		if m.consecutiveLosses >= 3 {
			m.activateCooldown(fmt.Sprintf("%d consecutive losses", m.consecutiveLosses))
		}
	} else {
		m.consecutiveLosses = 0
	}

	delete(m.openPositions, id)

	m.logger.Info().
		Str("position_id", id).
		Str("pair", pos.Pair).
		Str("pnl", realizedPnL.StringFixed(2)).
		Str("reason", exitReason).
		Msg("Position closed")
	return true
}

// UpdatePositionPrices recomputes aggregate unrealized P&L and halts trading
// when the unrealized loss exceeds 15% of account value.
func (m *Manager) UpdatePositionPrices(prices market.PriceMap, accountBalance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalUnrealized := decimal.Zero
	for _, pos := range m.openPositions {
		currentPrice, ok := prices[pos.Pair]
		if !ok {
			continue
		}

		var priceChange float64
		if pos.Direction == signals.DirectionLong {
			priceChange = currentPrice - pos.EntryPrice
		} else {
			priceChange = pos.EntryPrice - currentPrice
		}
		unrealized := pos.PositionValue.Mul(decimal.NewFromFloat(priceChange / pos.EntryPrice))
		totalUnrealized = totalUnrealized.Add(unrealized)
	}

	threshold := decimal.NewFromFloat(accountBalance * 0.15).Neg()
	if totalUnrealized.LessThan(threshold) {
		m.haltLocked("emergency: large unrealized losses detected")
	}
}

// activateCooldown starts the post-loss cooldown window. Caller holds the
// lock.
func (m *Manager) activateCooldown(reason string) {
	minutes := m.cfg.CooldownAfterLosses
	if minutes <= 0 {
		minutes = 30
	}
	m.cooldownUntil = m.now().Add(time.Duration(minutes) * time.Minute)

	m.logger.Warn().Int("minutes", minutes).Str("reason", reason).Msg("Cooldown activated")
}

// HaltTrading stops all new trades until ResumeTrading is called.
func (m *Manager) HaltTrading(reason string) {
	m.mu.Lock()
	m.haltLocked(reason)
	m.mu.Unlock()
}

func (m *Manager) haltLocked(reason string) {
	if m.tradingHalted {
		return
	}
	m.tradingHalted = true
	m.haltReason = reason

	m.logger.Error().Str("reason", reason).Msg("TRADING HALTED")
	if m.bus != nil {
		m.bus.PublishHalt(reason)
	}
}

// ResumeTrading clears the halt flag and any active cooldown.
func (m *Manager) ResumeTrading() {
	m.mu.Lock()
	m.tradingHalted = false
	m.haltReason = ""
	m.cooldownUntil = time.Time{}
	m.mu.Unlock()

	m.logger.Info().Msg("Trading resumed")
	if m.bus != nil {
		m.bus.PublishResume()
	}
}

// Halted reports whether trading is halted and why.
func (m *Manager) Halted() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tradingHalted, m.haltReason
}

// ConsecutiveLosses returns the current loss streak.
func (m *Manager) ConsecutiveLosses() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveLosses
}

// TradeCountToday returns the number of positions registered since the last
// daily reset.
func (m *Manager) TradeCountToday() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tradeCountToday
}

// ResetDailyCounters zeroes daily counters the first time it is called on a
// new UTC calendar date. Repeated calls within a day are no-ops.
func (m *Manager) ResetDailyCounters() bool {
	m.mu.Lock()

	today := m.now().UTC().Format("2006-01-02")
	if today == m.lastResetDate {
		m.mu.Unlock()
		return false
	}

	m.dailyPnL = decimal.Zero
	m.dailyLoss = decimal.Zero
	m.tradeCountToday = 0
	m.lastResetDate = today
	m.mu.Unlock()

	m.logger.Info().Str("date", today).Msg("Daily risk counters reset")
	if m.bus != nil {
		m.bus.PublishDailyReset(today)
	}
	return true
}

// RiskMetrics returns a snapshot of current risk state.
func (m *Manager) RiskMetrics(accountBalance float64) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalRisk := decimal.Zero
	for _, pos := range m.openPositions {
		totalRisk = totalRisk.Add(pos.RiskAmount)
	}

	leverageUsed := 0.0
	if accountBalance > 0 {
		exposure, _ := m.totalExposure.Float64()
		leverageUsed = exposure / accountBalance
	}

	riskPerTrade := decimal.Zero
	if len(m.openPositions) > 0 {
		riskPerTrade = totalRisk.Div(decimal.NewFromInt(int64(len(m.openPositions))))
	}

	return Metrics{
		CurrentExposure: m.totalExposure,
		DailyPnL:        m.dailyPnL,
		DailyLoss:       m.dailyLoss,
		OpenPositions:   len(m.openPositions),
		LeverageUsed:    leverageUsed,
		RiskPerTrade:    riskPerTrade,
		TotalRisk:       totalRisk,
	}
}

// Limits returns the configured caps and the remaining headroom.
func (m *Manager) Limits(accountBalance float64) PositionLimits {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance := decimal.NewFromFloat(accountBalance)
	maxDailyLoss := balance.Mul(decimal.NewFromFloat(m.cfg.DailyLossLimitPercent / 100))
	maxPositionSize := balance.Mul(decimal.NewFromFloat(m.cfg.MaxPositionSizePercent / 100))
	maxExposure := balance.Mul(decimal.NewFromFloat(m.cfg.MaxLeverage))

	return PositionLimits{
		MaxDailyLoss:       maxDailyLoss,
		RemainingDailyLoss: maxDailyLoss.Sub(m.dailyLoss),
		MaxPositionSize:    maxPositionSize,
		MaxExposure:        maxExposure,
		CurrentExposure:    m.totalExposure,
		RemainingExposure:  maxExposure.Sub(m.totalExposure),
		MaxPositions:       m.cfg.MaxConcurrentPositions,
		CurrentPositions:   len(m.openPositions),
	}
}

// ExportReport returns the full risk state for the API and persistence.
func (m *Manager) ExportReport() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := make([]ReportPosition, 0, len(m.openPositions))
	for id, pos := range m.openPositions {
		positions = append(positions, ReportPosition{
			ID:        id,
			Pair:      pos.Pair,
			Direction: pos.Direction,
			Size:      pos.Size,
			Value:     pos.PositionValue,
			Risk:      pos.RiskAmount,
		})
	}

	status := "active"
	if m.tradingHalted {
		status = "halted"
	}

	var cooldown *time.Time
	if !m.cooldownUntil.IsZero() {
		c := m.cooldownUntil
		cooldown = &c
	}

	return Report{
		Timestamp:         m.now(),
		TradingStatus:     status,
		HaltReason:        m.haltReason,
		CooldownUntil:     cooldown,
		DailyPnL:          m.dailyPnL,
		DailyLoss:         m.dailyLoss,
		TradeCountToday:   m.tradeCountToday,
		ConsecutiveLosses: m.consecutiveLosses,
		PositionCount:     len(m.openPositions),
		TotalExposure:     m.totalExposure,
		Positions:         positions,
		Limits:            m.cfg,
	}
}

// ValidateStopLoss checks that a stop distance stays within the maximum risk
// per trade.
func (m *Manager) ValidateStopLoss(entryPrice, stopLoss float64, direction signals.Direction, maxRiskPercent float64) (bool, string) {
	if entryPrice <= 0 {
		return false, "invalid entry price"
	}

	var riskPercent float64
	if direction == signals.DirectionLong {
		riskPercent = (entryPrice - stopLoss) / entryPrice * 100
	} else {
		riskPercent = (stopLoss - entryPrice) / entryPrice * 100
	}

	if riskPercent <= 0 {
		return false, "invalid stop loss level"
	}
	if riskPercent > maxRiskPercent {
		return false, fmt.Sprintf("stop loss risk (%.1f%%) exceeds maximum (%.1f%%)", riskPercent, maxRiskPercent)
	}
	return true, "stop loss validated"
}

// RecommendedPositionSize sizes a trade from a per-trade risk budget, capped
// by leverage.
func (m *Manager) RecommendedPositionSize(entryPrice, stopLoss, accountBalance, riskPercent float64) float64 {
	riskPerUnit := absFloat(entryPrice - stopLoss)
	if riskPerUnit == 0 || entryPrice <= 0 {
		return 0
	}

	size := accountBalance * riskPercent / 100 / riskPerUnit
	maxSizeByLeverage := accountBalance * m.cfg.MaxLeverage / entryPrice

	if size < maxSizeByLeverage {
		return size
	}
	return maxSizeByLeverage
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
