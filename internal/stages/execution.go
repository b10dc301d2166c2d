package stages

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/events"
	"github.com/helion-systems/helion/internal/exchange"
	"github.com/helion-systems/helion/internal/pipeline"
)

const (
	marginBudgetFraction  = 0.8
	fillPollMaxWait       = 5 * time.Second
	fillPollInterval      = 500 * time.Millisecond
	consecutiveLossWindow = 10
)

// ExecutionStage implements spec.md §4.10's four-part run, in order:
// trailing-stop sweep, decision execution against a preflight margin
// budget and an eight-step validation chain, fill confirmation, and
// TradeHistory bookkeeping.
type ExecutionStage struct {
	ctx *PluginContext
}

func NewExecutionStage(pc *PluginContext, _ map[string]interface{}) (pipeline.Node, error) {
	return &ExecutionStage{ctx: pc}, nil
}

func (s *ExecutionStage) Name() string { return "execution" }

func (s *ExecutionStage) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		Name:           "execution",
		Version:        "1.0",
		Requires:       []string{"batch_decision"},
		SuggestedOrder: 5,
		AutoRegister:   true,
	}
}

func (s *ExecutionStage) Run(ctx context.Context, state *domain.State) (*domain.State, error) {
	if err := s.trailingStopSweep(ctx, state); err != nil {
		return state, err
	}

	if state.BatchDecision == nil {
		return state, nil
	}
	if err := s.executeDecisions(ctx, state); err != nil {
		return state, err
	}

	return state, nil
}

// trailingStopSweep is spec.md §4.10.A.
func (s *ExecutionStage) trailingStopSweep(ctx context.Context, state *domain.State) error {
	limits := s.ctx.Bot.RiskLimits
	if !limits.TrailingStopEnabled {
		return nil
	}

	for _, pos := range append([]domain.Position(nil), state.Positions...) {
		md, ok := state.MarketData[pos.Symbol]
		if !ok || md.CurrentPrice == 0 {
			s.ctx.Log.Warn().Str("symbol", pos.Symbol).Msg("no current price for trailing stop sweep, skipping")
			continue
		}

		pnlPct := pos.UnrealizedPnLPct(md.CurrentPrice)
		shouldClose := s.ctx.Trailing.Update(&pos, md.CurrentPrice, pnlPct,
			limits.TrailingStopTriggerPct, limits.TrailingStopDistancePct, limits.TrailingStopLockProfitPct)
		if !shouldClose {
			continue
		}

		if err := s.closePosition(ctx, state, pos, "trailing_stop"); err != nil {
			s.ctx.Log.Error().Err(err).Str("symbol", pos.Symbol).Msg("trailing stop close failed")
			continue
		}
		s.ctx.Trailing.Clear(pos.Symbol)
		s.ctx.Events.Emit(events.NewOrderData(events.TrailingStopHit, s.ctx.Bot.ID, pos.Symbol, "", string(pos.Side), pos.Amount, md.CurrentPrice, "trailing_stop"))
	}
	return nil
}

// executeDecisions is spec.md §4.10.B: actionable decisions, closes first
// without budget checks, then opens under a preflight margin budget.
func (s *ExecutionStage) executeDecisions(ctx context.Context, state *domain.State) error {
	decisions := actionableSorted(state.BatchDecision.Decisions)

	var closes, opens []domain.PortfolioDecision
	for _, d := range decisions {
		if d.Action.IsClose() {
			closes = append(closes, d)
		} else if d.Action.IsOpen() {
			opens = append(opens, d)
		}
	}

	for _, d := range closes {
		pos := state.PositionBySymbol(d.Symbol)
		if pos == nil {
			continue
		}
		if err := s.closePosition(ctx, state, *pos, d.Reasoning); err != nil {
			state.AddAlert(fmt.Sprintf("close %s failed: %v", d.Symbol, err))
			continue
		}
		s.ctx.Trailing.Clear(d.Symbol)
	}

	if len(opens) == 0 {
		return nil
	}

	account, err := s.ctx.Exchange.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("stages: execution: refresh balance before opens: %w", err)
	}
	state.Account = account
	freeBalance := account.FreeBalance("USDT") // perpetual futures margin currency

	opens = applyMarginBudget(opens, freeBalance)

	for _, d := range opens {
		if err := s.validateAndOpen(ctx, state, d, freeBalance); err != nil {
			state.AddAlert(fmt.Sprintf("open %s rejected: %v", d.Symbol, err))
			continue
		}
		account, err := s.ctx.Exchange.FetchBalance(ctx)
		if err != nil {
			s.ctx.Log.Warn().Err(err).Msg("failed to refresh balance after open")
			continue
		}
		state.Account = account
		freeBalance = account.FreeBalance("USDT")
	}
	return nil
}

// actionableSorted filters to actions ExecutionStage must do something
// about, sorted by priority ascending (lower = earlier).
func actionableSorted(decisions []domain.PortfolioDecision) []domain.PortfolioDecision {
	out := make([]domain.PortfolioDecision, 0, len(decisions))
	for _, d := range decisions {
		if d.Action.Actionable() {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// applyMarginBudget implements spec.md §4.10.B's preflight budget: if the
// sum of margin_needed across every open decision exceeds 80% of free
// balance, scale every open decision's allocation by the shortfall ratio.
func applyMarginBudget(opens []domain.PortfolioDecision, freeBalance float64) []domain.PortfolioDecision {
	var total float64
	needed := make([]float64, len(opens))
	for i, d := range opens {
		leverage := d.Leverage
		if leverage <= 0 {
			leverage = 1
		}
		needed[i] = (d.AllocationPct / 100) * freeBalance / leverage
		total += needed[i]
	}

	budget := marginBudgetFraction * freeBalance
	if total <= budget || total == 0 {
		return opens
	}
	ratio := budget / total
	for i := range opens {
		opens[i].AllocationPct *= ratio
	}
	return opens
}

// closePosition places a reduce-only market close order, confirms the
// fill, and records the TradeHistory close row (spec.md §4.10.C/D).
func (s *ExecutionStage) closePosition(ctx context.Context, state *domain.State, pos domain.Position, reason string) error {
	side := domain.SideSell
	if pos.Side == domain.SideSell {
		side = domain.SideBuy
	}

	result, err := s.ctx.Exchange.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:     pos.Symbol,
		Type:       domain.OrderTypeMarket,
		Side:       side,
		Amount:     pos.Amount,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("create close order: %w", err)
	}

	result, err = s.confirmFill(ctx, pos.Symbol, result)
	if err != nil {
		return fmt.Errorf("confirm close fill: %w", err)
	}
	if result.Filled <= 0 {
		return fmt.Errorf("close order %s did not fill", result.OrderID)
	}

	md := state.MarketData[pos.Symbol]
	price := result.AveragePrice
	if price == 0 && md != nil {
		price = md.CurrentPrice
	}

	trade, err := s.ctx.TradeHistory.GetOpenTradeBySymbol(ctx, s.ctx.Bot.ID, pos.Symbol)
	if err == nil && trade != nil {
		pnl, pct := closePnL(trade, price, result.FeeCost)
		if err := s.ctx.TradeHistory.CloseTradeBySymbol(ctx, s.ctx.Bot.ID, pos.Symbol, price, pnl, pct, result.FeeCost, time.Now()); err != nil {
			s.ctx.Log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("failed to record trade close")
		}
	}

	state.RemovePositionBySymbol(pos.Symbol)
	s.ctx.Events.Emit(events.NewOrderData(events.PositionClosed, s.ctx.Bot.ID, pos.Symbol, result.OrderID, string(side), result.Filled, price, reason))
	return nil
}

func closePnL(trade *domain.TradeHistory, exitPrice, fee float64) (pnlUSD, pnlPct float64) {
	clone := *trade
	clone.ComputePnL(exitPrice, fee, time.Now())
	return clone.PnLUSD, clone.PnLPercent
}

// validateAndOpen runs spec.md §4.10.B's eight-step chain for one open
// decision: parameter validity, risk-reward, hard constraints, notional
// conversion with ceiling rounding, order placement, and fill
// confirmation/bookkeeping.
func (s *ExecutionStage) validateAndOpen(ctx context.Context, state *domain.State, d domain.PortfolioDecision, freeBalance float64) error {
	limits := s.ctx.Bot.RiskLimits
	md, ok := state.MarketData[d.Symbol]
	if !ok || md.CurrentPrice <= 0 {
		return fmt.Errorf("no current price available")
	}
	price := md.CurrentPrice

	leverage := d.Leverage
	if leverage <= 0 {
		leverage = limits.DefaultLeverage
	}
	if err := validateParams(d, leverage); err != nil {
		return err
	}

	stopLoss, takeProfit := *d.StopLoss, *d.TakeProfit
	side := domain.SideBuy
	if d.Action == domain.ActionOpenShort {
		side = domain.SideSell
	}
	if err := validateDirectional(side, stopLoss, takeProfit, price); err != nil {
		return err
	}
	if err := validateRiskReward(side, price, stopLoss, takeProfit, limits.MinRiskRewardRatio); err != nil {
		return err
	}

	notional := (d.AllocationPct / 100) * freeBalance * leverage
	if err := s.validateHardConstraints(ctx, notional, leverage, freeBalance, limits, d, md.FundingRate, state); err != nil {
		return err
	}

	precision := s.ctx.Exchange.AmountPrecision(d.Symbol)
	amount := ceilToStep(notional/price, precision.Step)
	if amount*price < precision.MinNotional {
		return fmt.Errorf("notional %.2f below exchange minimum %.2f", amount*price, precision.MinNotional)
	}

	req := exchange.OrderRequest{
		Symbol:   d.Symbol,
		Type:     domain.OrderTypeMarket,
		Side:     side,
		Amount:   amount,
		Leverage: leverage,
	}
	if s.ctx.Exchange.Capabilities().AttachedSLTP {
		req.StopLossPrice = &stopLoss
		req.TakeProfitPrice = &takeProfit
	}

	result, err := s.ctx.Exchange.CreateOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("create open order: %w", err)
	}

	result, err = s.confirmFill(ctx, d.Symbol, result)
	if err != nil {
		return fmt.Errorf("confirm open fill: %w", err)
	}
	if result.Filled <= 0 {
		return fmt.Errorf("order %s did not fill", result.OrderID)
	}

	if !s.ctx.Exchange.Capabilities().AttachedSLTP {
		if err := s.placeProtectiveOrders(ctx, d.Symbol, side, result.Filled, stopLoss, takeProfit); err != nil {
			s.ctx.Log.Warn().Err(err).Str("symbol", d.Symbol).Msg("failed to place protective SL/TP orders")
		}
	}

	if err := s.ctx.TradeHistory.Create(ctx, &domain.TradeHistory{
		BotID:      s.ctx.Bot.ID,
		Symbol:     d.Symbol,
		Side:       tradeSide(side),
		Action:     d.Action,
		EntryPrice: result.AveragePrice,
		Amount:     result.Filled,
		Leverage:   leverage,
		Status:     domain.TradeOpen,
		OpenedAt:   time.Now(),
		CycleID:    state.CycleID,
		OrderID:    result.OrderID,
	}); err != nil {
		s.ctx.Log.Warn().Err(err).Str("symbol", d.Symbol).Msg("failed to record trade open")
	}

	state.Positions = append(state.Positions, domain.Position{
		Symbol:          d.Symbol,
		Side:            side,
		Type:            domain.OrderTypeMarket,
		Status:          domain.PositionOpen,
		EntryPrice:      result.AveragePrice,
		CurrentAverage:  result.AveragePrice,
		Amount:          result.Filled,
		Leverage:        leverage,
		StopLossPrice:   &stopLoss,
		TakeProfitPrice: &takeProfit,
	})

	s.ctx.Events.Emit(events.NewOrderData(events.OrderFilled, s.ctx.Bot.ID, d.Symbol, result.OrderID, string(side), result.Filled, result.AveragePrice, d.Reasoning))
	return nil
}

func tradeSide(side domain.PositionSide) domain.TradeSide {
	if side == domain.SideSell {
		return domain.TradeShort
	}
	return domain.TradeLong
}

func validateParams(d domain.PortfolioDecision, leverage float64) error {
	if leverage <= 0 {
		return fmt.Errorf("leverage must be positive")
	}
	if d.AllocationPct <= 0 {
		return fmt.Errorf("allocation_pct must be positive")
	}
	if d.StopLoss == nil || *d.StopLoss <= 0 {
		return fmt.Errorf("stop_loss must be positive")
	}
	if d.TakeProfit == nil || *d.TakeProfit <= 0 {
		return fmt.Errorf("take_profit must be positive")
	}
	return nil
}

func validateDirectional(side domain.PositionSide, stopLoss, takeProfit, price float64) error {
	switch side {
	case domain.SideBuy:
		if !(stopLoss < price && takeProfit > price) {
			return fmt.Errorf("long requires stop_loss < price < take_profit")
		}
	case domain.SideSell:
		if !(stopLoss > price && takeProfit < price) {
			return fmt.Errorf("short requires take_profit < price < stop_loss")
		}
	}
	return nil
}

func validateRiskReward(side domain.PositionSide, price, stopLoss, takeProfit, minRR float64) error {
	var reward, risk float64
	switch side {
	case domain.SideBuy:
		reward = takeProfit - price
		risk = price - stopLoss
	case domain.SideSell:
		reward = price - takeProfit
		risk = stopLoss - price
	}
	if risk <= 0 {
		return fmt.Errorf("non-positive risk distance")
	}
	if reward/risk < minRR {
		return fmt.Errorf("risk-reward %.2f below minimum %.2f", reward/risk, minRR)
	}
	return nil
}

func (s *ExecutionStage) validateHardConstraints(ctx context.Context, notional, leverage, freeBalance float64, limits domain.RiskLimits, d domain.PortfolioDecision, fundingRate float64, state *domain.State) error {
	if notional < limits.MinPositionSizeUSD || notional > limits.MaxPositionSizeUSD {
		return fmt.Errorf("position size %.2f outside [%.2f, %.2f]", notional, limits.MinPositionSizeUSD, limits.MaxPositionSizeUSD)
	}
	if leverage > limits.MaxLeverage {
		return fmt.Errorf("leverage %.1f exceeds max %.1f", leverage, limits.MaxLeverage)
	}
	margin := notional / leverage
	if margin/freeBalance*100 > limits.MaxSingleAllocationPct {
		return fmt.Errorf("margin usage exceeds per-symbol cap")
	}

	if d.Action == domain.ActionOpenLong && fundingRate > limits.MaxFundingRatePct {
		return fmt.Errorf("funding rate %.4f exceeds max for longs", fundingRate)
	}
	if d.Action == domain.ActionOpenShort && fundingRate < -limits.MaxFundingRatePct {
		return fmt.Errorf("funding rate %.4f below min for shorts", fundingRate)
	}

	if limits.MaxConsecutiveLosses > 0 {
		lost, err := s.consecutiveLossesBreach(ctx, limits.MaxConsecutiveLosses)
		if err != nil {
			s.ctx.Log.Warn().Err(err).Msg("failed to evaluate consecutive-loss gate")
		} else if lost {
			return fmt.Errorf("consecutive-loss pause in effect")
		}
	}

	if state.Performance != nil && limits.MaxDrawdownPct > 0 && state.Performance.MaxDrawdown*100 >= limits.MaxDrawdownPct {
		return fmt.Errorf("drawdown pause: current drawdown %.1f%% >= max %.1f%%", state.Performance.MaxDrawdown*100, limits.MaxDrawdownPct)
	}

	return nil
}

func (s *ExecutionStage) consecutiveLossesBreach(ctx context.Context, maxLosses int) (bool, error) {
	trades, err := s.ctx.TradeHistory.GetRecentTrades(ctx, s.ctx.Bot.ID, consecutiveLossWindow)
	if err != nil {
		return false, err
	}
	closed := make([]domain.TradeHistory, 0, len(trades))
	for _, t := range trades {
		if t.Status == domain.TradeClosed {
			closed = append(closed, t)
		}
	}
	if len(closed) < maxLosses {
		return false, nil
	}
	tail := closed[len(closed)-maxLosses:]
	for _, t := range tail {
		if t.PnLUSD >= 0 {
			return false, nil
		}
	}
	return true, nil
}

// confirmFill implements spec.md §4.10.C: if the order reports filled=0 but
// carries an order_id, poll up to 5s at a 0.5s interval.
func (s *ExecutionStage) confirmFill(ctx context.Context, symbol string, result domain.OrderResult) (domain.OrderResult, error) {
	if result.Filled > 0 || result.OrderID == "" {
		return result, nil
	}
	return s.ctx.Exchange.WaitForOrderFill(ctx, result.OrderID, symbol, fillPollMaxWait, fillPollInterval)
}

func (s *ExecutionStage) placeProtectiveOrders(ctx context.Context, symbol string, entrySide domain.PositionSide, amount, stopLoss, takeProfit float64) error {
	exitSide := domain.SideSell
	if entrySide == domain.SideSell {
		exitSide = domain.SideBuy
	}
	if _, err := s.ctx.Exchange.CreateOrder(ctx, exchange.OrderRequest{
		Symbol: symbol, Type: domain.OrderTypeLimit, Side: exitSide, Amount: amount,
		Price: &stopLoss, ReduceOnly: true,
	}); err != nil {
		return fmt.Errorf("stop-loss order: %w", err)
	}
	if _, err := s.ctx.Exchange.CreateOrder(ctx, exchange.OrderRequest{
		Symbol: symbol, Type: domain.OrderTypeLimit, Side: exitSide, Amount: amount,
		Price: &takeProfit, ReduceOnly: true,
	}); err != nil {
		return fmt.Errorf("take-profit order: %w", err)
	}
	return nil
}
