package backtesting

import (
	"github.com/shopspring/decimal"

	"backtester/internal/domain"
)

var one = decimal.NewFromInt(1)

// entryFill buys a long or sells a short at raw, adjusted against the trader.
func entryFill(raw float64, side domain.Side, slippage float64) float64 {
	return applySlippage(raw, side == domain.Long, slippage)
}

// exitFill sells a long or buys back a short at raw, adjusted against the trader.
func exitFill(raw float64, side domain.Side, slippage float64) float64 {
	return applySlippage(raw, side == domain.Short, slippage)
}

func applySlippage(raw float64, buying bool, rate float64) float64 {
	if rate == 0 {
		return raw
	}
	factor := one.Sub(decimal.NewFromFloat(rate))
	if buying {
		factor = one.Add(decimal.NewFromFloat(rate))
	}
	price, _ := decimal.NewFromFloat(raw).Mul(factor).Float64()
	return price
}

// tradeFee charges rate on the filled notional.
func tradeFee(units, price, rate float64) float64 {
	fee, _ := decimal.NewFromFloat(units).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromFloat(rate)).
		Float64()
	return fee
}

// realizedPNL is the side-adjusted price difference times units, net of both fees.
func realizedPNL(side domain.Side, entry, exit, units, entryFee, exitFee float64) float64 {
	move := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == domain.Short {
		move = move.Neg()
	}
	pnl, _ := move.Mul(decimal.NewFromFloat(units)).
		Sub(decimal.NewFromFloat(entryFee)).
		Sub(decimal.NewFromFloat(exitFee)).
		Float64()
	return pnl
}
