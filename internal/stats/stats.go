// Package stats derives summary performance metrics from a completed
// backtest's history output. It is a consumer of the engine's result, not
// part of the simulation itself.
package stats

import (
	"math"

	"callisto/internal/backtest"
)

// PeriodsPerYearDaily is the conventional annualization factor for daily
// bars (US equity trading days).
const PeriodsPerYearDaily = 252

// Summary holds the performance metrics computed from one backtest run.
type Summary struct {
	StartValue  float64
	FinalValue  float64
	TotalReturn float64 // (final - start) / start
	MaxDrawdown float64 // worst peak-to-trough decline, as a positive fraction
	SharpeRatio float64 // annualized, zero risk-free rate
	TotalTrades int
}

// Compute derives a Summary from the portfolio-value series of res.
// periodsPerYear annualizes the Sharpe ratio; pass PeriodsPerYearDaily for
// daily bars. Degenerate inputs (empty series, zero start value, constant
// returns) yield zero for the affected metrics rather than NaN.
func Compute(res *backtest.Result, periodsPerYear float64) Summary {
	s := Summary{TotalTrades: len(res.Trades)}
	values := res.PortfolioValue
	if len(values) == 0 {
		return s
	}

	s.StartValue = values[0]
	s.FinalValue = values[len(values)-1]
	if s.StartValue != 0 {
		s.TotalReturn = (s.FinalValue - s.StartValue) / s.StartValue
	}

	s.MaxDrawdown = maxDrawdown(values)
	s.SharpeRatio = sharpe(values, periodsPerYear)
	return s
}

// maxDrawdown returns the largest fractional decline from a running peak.
func maxDrawdown(values []float64) float64 {
	peak := values[0]
	worst := 0.0
	for _, v := range values[1:] {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe computes the annualized Sharpe ratio of per-bar returns with a zero
// risk-free rate. Fewer than two returns, or zero volatility, yields zero.
func sharpe(values []float64, periodsPerYear float64) float64 {
	var returns []float64
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			returns = append(returns, values[i]/values[i-1]-1)
		}
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}

	return mean / math.Sqrt(variance) * math.Sqrt(periodsPerYear)
}
