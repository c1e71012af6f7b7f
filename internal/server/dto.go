package server

import (
	"fmt"
	"math"
	"time"

	"backtester/internal/backtesting"
	"backtester/internal/domain"
)

// BarDTO is a bar on the wire.
type BarDTO struct {
	Timestamp time.Time `json:"timestamp" binding:"required"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// SignalDTO is a signal on the wire. Levels are optional.
type SignalDTO struct {
	Timestamp     time.Time  `json:"timestamp" binding:"required"`
	Side          string     `json:"side" binding:"required"`
	Units         float64    `json:"units"`
	EntryPrice    *float64   `json:"entry_price,omitempty"`
	TakeProfit    *float64   `json:"take_profit,omitempty"`
	StopLoss      *float64   `json:"stop_loss,omitempty"`
	TakeProfitPct *float64   `json:"take_profit_pct,omitempty"`
	StopLossPct   *float64   `json:"stop_loss_pct,omitempty"`
	Expiration    *time.Time `json:"expiration,omitempty"`
}

// ConfigDTO overrides the server's default simulation settings field by field.
type ConfigDTO struct {
	FeeRate             *float64 `json:"fee_rate,omitempty"`
	ExitFeeRate         *float64 `json:"exit_fee_rate,omitempty"`
	SlippageRate        *float64 `json:"slippage_rate,omitempty"`
	InitialEquity       *float64 `json:"initial_equity,omitempty"`
	SameBarPolicy       string   `json:"same_bar_policy,omitempty"`
	EntryMode           string   `json:"entry_mode,omitempty"`
	InvalidSignalPolicy string   `json:"invalid_signal_policy,omitempty"`
	SlipLimitExits      *bool    `json:"slip_limit_exits,omitempty"`
	AnnualizationFactor *float64 `json:"annualization_factor,omitempty"`
}

// BacktestRequest is the body of POST /api/v1/backtests.
type BacktestRequest struct {
	Label    string      `json:"label"`
	Symbol   string      `json:"symbol"`
	Interval string      `json:"interval"`
	Config   ConfigDTO   `json:"config"`
	Bars     []BarDTO    `json:"bars" binding:"required,dive"`
	Signals  []SignalDTO `json:"signals" binding:"dive"`
}

// engineConfig applies the request overrides to base.
func (r ConfigDTO) engineConfig(base backtesting.Config, annualization float64) (backtesting.Config, float64, error) {
	cfg := base
	var err error
	if r.FeeRate != nil {
		cfg.FeeRate = *r.FeeRate
	}
	if r.ExitFeeRate != nil {
		rate := *r.ExitFeeRate
		cfg.ExitFeeRate = &rate
	}
	if r.SlippageRate != nil {
		cfg.SlippageRate = *r.SlippageRate
	}
	if r.InitialEquity != nil {
		cfg.InitialEquity = *r.InitialEquity
	}
	if r.SlipLimitExits != nil {
		cfg.SlipLimitExits = *r.SlipLimitExits
	}
	if r.SameBarPolicy != "" {
		if cfg.SameBarPolicy, err = backtesting.ParseSameBarPolicy(r.SameBarPolicy); err != nil {
			return cfg, 0, err
		}
	}
	if r.EntryMode != "" {
		if cfg.EntryMode, err = backtesting.ParseEntryMode(r.EntryMode); err != nil {
			return cfg, 0, err
		}
	}
	if r.InvalidSignalPolicy != "" {
		if cfg.InvalidSignals, err = backtesting.ParseInvalidSignalPolicy(r.InvalidSignalPolicy); err != nil {
			return cfg, 0, err
		}
	}
	if r.AnnualizationFactor != nil {
		if *r.AnnualizationFactor <= 0 {
			return cfg, 0, fmt.Errorf("annualization factor must be positive, got %v", *r.AnnualizationFactor)
		}
		annualization = *r.AnnualizationFactor
	}
	return cfg, annualization, nil
}

func (r BacktestRequest) domainBars() []domain.Bar {
	bars := make([]domain.Bar, len(r.Bars))
	for i, b := range r.Bars {
		bars[i] = domain.Bar{
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return bars
}

func (r BacktestRequest) domainSignals() ([]domain.Signal, error) {
	signals := make([]domain.Signal, len(r.Signals))
	for i, s := range r.Signals {
		side, err := domain.ParseSide(s.Side)
		if err != nil {
			return nil, fmt.Errorf("signal %d: %w", i, err)
		}
		signals[i] = domain.Signal{
			Timestamp:      s.Timestamp.UTC(),
			Side:           side,
			Units:          s.Units,
			EntryPriceHint: s.EntryPrice,
			TakeProfit:     s.TakeProfit,
			StopLoss:       s.StopLoss,
			TakeProfitPct:  s.TakeProfitPct,
			StopLossPct:    s.StopLossPct,
			Expiration:     s.Expiration,
		}
	}
	return signals, nil
}

// stat maps undefined statistics to JSON null.
func stat(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// TradeMetricsDTO is one metrics segment on the wire.
type TradeMetricsDTO struct {
	TradeCount           int            `json:"trade_count"`
	WinningTrades        int            `json:"winning_trades"`
	LosingTrades         int            `json:"losing_trades"`
	WinRate              float64        `json:"win_rate"`
	AveragePNL           float64        `json:"average_pnl"`
	TotalPNL             float64        `json:"total_pnl"`
	TotalFees            float64        `json:"total_fees"`
	TotalReturn          float64        `json:"total_return"`
	AverageReturn        float64        `json:"average_return"`
	AverageWin           float64        `json:"average_win"`
	AverageLoss          float64        `json:"average_loss"`
	ProfitFactor         float64        `json:"profit_factor"`
	Expectancy           float64        `json:"expectancy"`
	MaxConsecutiveWins   int            `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int            `json:"max_consecutive_losses"`
	AverageHoldingSecs   float64        `json:"average_holding_seconds"`
	SharpeRatio          *float64       `json:"sharpe_ratio"`
	MaxDrawdown          *float64       `json:"max_drawdown"`
	ExitReasons          map[string]int `json:"exit_reasons"`
}

func toTradeMetricsDTO(m domain.TradeMetrics) TradeMetricsDTO {
	reasons := make(map[string]int, len(m.ExitReasons))
	for r, n := range m.ExitReasons {
		reasons[string(r)] = n
	}
	return TradeMetricsDTO{
		TradeCount:           m.TradeCount,
		WinningTrades:        m.WinningTrades,
		LosingTrades:         m.LosingTrades,
		WinRate:              m.WinRate,
		AveragePNL:           m.AveragePNL,
		TotalPNL:             m.TotalPNL,
		TotalFees:            m.TotalFees,
		TotalReturn:          m.TotalReturn,
		AverageReturn:        m.AverageReturn,
		AverageWin:           m.AverageWin,
		AverageLoss:          m.AverageLoss,
		ProfitFactor:         m.ProfitFactor,
		Expectancy:           m.Expectancy,
		MaxConsecutiveWins:   m.MaxConsecutiveWins,
		MaxConsecutiveLosses: m.MaxConsecutiveLosses,
		AverageHoldingSecs:   m.AverageHoldingTime.Seconds(),
		SharpeRatio:          stat(m.SharpeRatio),
		MaxDrawdown:          stat(m.MaxDrawdown),
		ExitReasons:          reasons,
	}
}

// DrawdownDTO is a drawdown period on the wire.
type DrawdownDTO struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Peak      float64   `json:"peak"`
	Trough    float64   `json:"trough"`
	Depth     float64   `json:"depth"`
	Recovered bool      `json:"recovered"`
}

// MetricsDTO groups the three segments.
type MetricsDTO struct {
	Overall   TradeMetricsDTO `json:"overall"`
	Long      TradeMetricsDTO `json:"long"`
	Short     TradeMetricsDTO `json:"short"`
	Drawdowns []DrawdownDTO   `json:"drawdowns"`
}

// PositionDTO is a closed position on the wire.
type PositionDTO struct {
	ID         int64      `json:"id"`
	Side       string     `json:"side"`
	Units      float64    `json:"units"`
	EntryTime  time.Time  `json:"entry_time"`
	EntryPrice float64    `json:"entry_price"`
	TakeProfit *float64   `json:"take_profit"`
	StopLoss   *float64   `json:"stop_loss"`
	Expiration *time.Time `json:"expiration"`
	ExitTime   time.Time  `json:"exit_time"`
	ExitPrice  float64    `json:"exit_price"`
	ExitReason string     `json:"exit_reason"`
	Fees       float64    `json:"fees"`
	PNL        float64    `json:"pnl"`

	AbsoluteReturn float64 `json:"absolute_return"`
	RealReturn     float64 `json:"real_return"`
	SlippageEntry  float64 `json:"slippage_entry"`
	SlippageExit   float64 `json:"slippage_exit"`
}

// EquityPointDTO is a point of the equity curve on the wire.
type EquityPointDTO struct {
	Timestamp   time.Time `json:"timestamp"`
	Equity      float64   `json:"equity"`
	RealizedPNL float64   `json:"realized_pnl"`
	FloatingPNL float64   `json:"floating_pnl"`
}

// ParamsDTO records the settings of a run.
type ParamsDTO struct {
	FeeRate             float64 `json:"fee_rate"`
	ExitFeeRate         float64 `json:"exit_fee_rate"`
	SlippageRate        float64 `json:"slippage_rate"`
	InitialEquity       float64 `json:"initial_equity"`
	AnnualizationFactor float64 `json:"annualization_factor"`
	SameBarPolicy       string  `json:"same_bar_policy"`
	EntryMode           string  `json:"entry_mode"`
	SlipLimitExits      bool    `json:"slip_limit_exits"`
}

// RunDTO is a run on the wire. Positions and equity are omitted from listings.
type RunDTO struct {
	ID            string           `json:"id"`
	Label         string           `json:"label"`
	Symbol        string           `json:"symbol"`
	Interval      string           `json:"interval"`
	CreatedAt     time.Time        `json:"created_at"`
	Params        ParamsDTO        `json:"params"`
	BarCount      int              `json:"bar_count"`
	SignalCount   int              `json:"signal_count"`
	RejectedCount int              `json:"rejected_count"`
	FinalEquity   float64          `json:"final_equity"`
	Metrics       *MetricsDTO      `json:"metrics,omitempty"`
	Positions     []PositionDTO    `json:"positions,omitempty"`
	EquityCurve   []EquityPointDTO `json:"equity_curve,omitempty"`
}

func toRunDTO(run *domain.Run, full bool) RunDTO {
	dto := RunDTO{
		ID:        run.ID,
		Label:     run.Label,
		Symbol:    run.Symbol,
		Interval:  run.Interval,
		CreatedAt: run.CreatedAt,
		Params: ParamsDTO{
			FeeRate:             run.Params.FeeRate,
			ExitFeeRate:         run.Params.ExitFeeRate,
			SlippageRate:        run.Params.SlippageRate,
			InitialEquity:       run.Params.InitialEquity,
			AnnualizationFactor: run.Params.AnnualizationFactor,
			SameBarPolicy:       run.Params.SameBarPolicy,
			EntryMode:           run.Params.EntryMode,
			SlipLimitExits:      run.Params.SlipLimitExits,
		},
		BarCount:      run.BarCount,
		SignalCount:   run.SignalCount,
		RejectedCount: run.RejectedCount,
		FinalEquity:   run.FinalEquity,
	}
	if !full {
		return dto
	}

	metrics := MetricsDTO{
		Overall:   toTradeMetricsDTO(run.Metrics.Overall),
		Long:      toTradeMetricsDTO(run.Metrics.Long),
		Short:     toTradeMetricsDTO(run.Metrics.Short),
		Drawdowns: make([]DrawdownDTO, len(run.Metrics.Drawdowns)),
	}
	for i, d := range run.Metrics.Drawdowns {
		metrics.Drawdowns[i] = DrawdownDTO(d)
	}
	dto.Metrics = &metrics

	dto.Positions = make([]PositionDTO, len(run.Positions))
	for i, p := range run.Positions {
		slipEntry, slipExit := p.Slippage()
		dto.Positions[i] = PositionDTO{
			ID:         p.ID,
			Side:       string(p.Side),
			Units:      p.Units,
			EntryTime:  p.EntryTime,
			EntryPrice: p.EntryPrice,
			TakeProfit: p.TakeProfit,
			StopLoss:   p.StopLoss,
			Expiration: p.Expiration,
			ExitTime:   p.ExitTime,
			ExitPrice:  p.ExitPrice,
			ExitReason: string(p.ExitReason),
			Fees:       p.FeesPaid(),
			PNL:        p.PNL,

			AbsoluteReturn: p.AbsoluteReturn(),
			RealReturn:     p.RealReturn(),
			SlippageEntry:  slipEntry,
			SlippageExit:   slipExit,
		}
	}
	dto.EquityCurve = make([]EquityPointDTO, len(run.EquityCurve))
	for i, e := range run.EquityCurve {
		dto.EquityCurve[i] = EquityPointDTO{
			Timestamp:   e.Timestamp,
			Equity:      e.Equity,
			RealizedPNL: e.RealizedPNL,
			FloatingPNL: e.FloatingPNL,
		}
	}
	return dto
}
