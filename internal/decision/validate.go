package decision

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"execution-core/pkg/config"
)

// Rules bound which verdicts may be executed.
type Rules struct {
	MinConfidence float64
	MinRiskReward float64
	MaxSLDistance float64 // fraction of entry; beyond it only warns
}

func RulesFrom(d config.Decision) Rules {
	return Rules{
		MinConfidence: d.MinConfidence,
		MinRiskReward: d.MinRiskReward,
		MaxSLDistance: d.MaxSLDistance,
	}
}

// Validation is the outcome of checking a verdict's trade setup.
type Validation struct {
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	RiskReward float64  `json:"risk_reward"`
}

func invalid(errs ...string) Validation {
	return Validation{Errors: errs}
}

// Validate checks that an actionable verdict is internally consistent.
func Validate(v Verdict, r Rules) Validation {
	if !v.Actionable() {
		return invalid(fmt.Sprintf("decision %s is not actionable", v.Decision))
	}
	var errs []string
	if v.Confidence < r.MinConfidence {
		errs = append(errs, fmt.Sprintf("confidence %.0f below minimum %.0f", v.Confidence, r.MinConfidence))
	}
	if v.ExecutionMode != ModeMarket && v.ExecutionMode != ModeLimit {
		errs = append(errs, fmt.Sprintf("unknown execution mode %q", v.ExecutionMode))
	}
	if v.EntryPrice <= 0 || v.TPPrice <= 0 || v.SLPrice <= 0 {
		return invalid(append(errs, "entry, tp and sl must be greater than 0")...)
	}

	if v.Decision == Buy {
		if v.TPPrice <= v.EntryPrice {
			errs = append(errs, fmt.Sprintf("BUY: tp (%g) must be above entry (%g)", v.TPPrice, v.EntryPrice))
		}
		if v.SLPrice >= v.EntryPrice {
			errs = append(errs, fmt.Sprintf("BUY: sl (%g) must be below entry (%g)", v.SLPrice, v.EntryPrice))
		}
	} else {
		if v.TPPrice >= v.EntryPrice {
			errs = append(errs, fmt.Sprintf("SELL: tp (%g) must be below entry (%g)", v.TPPrice, v.EntryPrice))
		}
		if v.SLPrice <= v.EntryPrice {
			errs = append(errs, fmt.Sprintf("SELL: sl (%g) must be above entry (%g)", v.SLPrice, v.EntryPrice))
		}
	}
	if len(errs) > 0 {
		return invalid(errs...)
	}

	risk := math.Abs(v.EntryPrice - v.SLPrice)
	reward := math.Abs(v.TPPrice - v.EntryPrice)
	rr := reward / risk
	out := Validation{RiskReward: round2(rr)}
	if rr < r.MinRiskReward {
		out.Errors = append(out.Errors, fmt.Sprintf("risk:reward %.2f below minimum %.2f", rr, r.MinRiskReward))
	}
	if dist := risk / v.EntryPrice; r.MaxSLDistance > 0 && dist > r.MaxSLDistance {
		out.Warnings = append(out.Warnings, fmt.Sprintf("sl %.1f%% from entry", dist*100))
	}
	out.Valid = len(out.Errors) == 0
	return out
}

// PnLEstimate is the projected outcome at TP and at SL, against margin.
type PnLEstimate struct {
	ProfitUSDT    float64 `json:"profit_usdt"`
	LossUSDT      float64 `json:"loss_usdt"`
	ProfitPercent float64 `json:"profit_percent"`
	LossPercent   float64 `json:"loss_percent"`
}

// EstimatePnL projects profit and loss for a margin of amount at leverage.
func EstimatePnL(entry, tp, sl float64, side Action, amount float64, leverage int) PnLEstimate {
	if entry <= 0 || amount <= 0 || leverage <= 0 {
		return PnLEstimate{}
	}
	e := decimal.NewFromFloat(entry)
	qty := decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(int64(leverage))).Div(e)
	gain := decimal.NewFromFloat(tp).Sub(e)
	loss := e.Sub(decimal.NewFromFloat(sl))
	if side == Sell {
		gain, loss = gain.Neg(), loss.Neg()
	}
	profit := qty.Mul(gain.Abs())
	lost := qty.Mul(loss.Abs())
	margin := decimal.NewFromFloat(amount)
	hundred := decimal.NewFromInt(100)
	return PnLEstimate{
		ProfitUSDT:    profit.Round(2).InexactFloat64(),
		LossUSDT:      lost.Round(2).InexactFloat64(),
		ProfitPercent: profit.Div(margin).Mul(hundred).Round(2).InexactFloat64(),
		LossPercent:   lost.Div(margin).Mul(hundred).Round(2).InexactFloat64(),
	}
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
