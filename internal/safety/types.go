// Package safety tracks entry orders and positions per symbol and makes
// sure every open position ends up with a stop-loss and a take-profit.
package safety

import (
	"errors"
	"time"

	"execution-core/pkg/exchanges/common"
)

var (
	ErrCooldown    = errors.New("symbol in cooldown")
	ErrActiveTrade = errors.New("symbol has an active or pending trade")
	ErrNoPosition  = errors.New("no open position")
	ErrBadEntry    = errors.New("invalid entry request")
	ErrNotSecured  = errors.New("symbol not secured")
)

// Status is the protection state of one symbol.
type Status string

const (
	StatusNone         Status = "NONE"
	StatusWaitingEntry Status = "WAITING_ENTRY"
	StatusPending      Status = "PENDING"
	StatusSecured      Status = "SECURED"
)

// Trailing is the trailing-stop state of a secured position.
type Trailing struct {
	Active        bool      `json:"active"`
	Extreme       float64   `json:"extreme_price"`
	CurrentSL     float64   `json:"current_sl"`
	LastAppliedAt time.Time `json:"last_applied_at"`
}

// TrackerEntry is the record for one symbol. Which fields are meaningful
// depends on Status: ExpiresAt and EntryOrderID for WAITING_ENTRY, the
// price levels and Trailing for SECURED.
type TrackerEntry struct {
	Symbol       string    `json:"symbol"`
	Status       Status    `json:"status"`
	EntryOrderID string    `json:"entry_order_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Strategy     string    `json:"strategy"`
	ATR          float64   `json:"atr"`

	// Levels proposed by the decision service, kept for notifications.
	DecisionTP float64 `json:"decision_tp,omitempty"`
	DecisionSL float64 `json:"decision_sl,omitempty"`

	Side       common.PositionSide `json:"side,omitempty"`
	EntryPrice float64             `json:"entry_price,omitempty"`
	SLPrice    float64             `json:"sl_price,omitempty"`
	TPPrice    float64             `json:"tp_price,omitempty"`

	Trailing Trailing `json:"trailing"`
}

// NewWaitingEntry records a resting limit entry.
func NewWaitingEntry(symbol, orderID, strategy string, atr float64, now time.Time, ttl time.Duration) TrackerEntry {
	return TrackerEntry{
		Symbol:       symbol,
		Status:       StatusWaitingEntry,
		EntryOrderID: orderID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		Strategy:     strategy,
		ATR:          atr,
	}
}

// NewPending records an entry whose fill is expected or already detected.
func NewPending(symbol, strategy string, atr float64, now time.Time) TrackerEntry {
	return TrackerEntry{
		Symbol:    symbol,
		Status:    StatusPending,
		CreatedAt: now,
		Strategy:  strategy,
		ATR:       atr,
	}
}

// Expired reports whether a WAITING_ENTRY has passed its deadline.
func (e TrackerEntry) Expired(now time.Time) bool {
	return e.Status == StatusWaitingEntry && !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Promote moves a filled WAITING_ENTRY to PENDING. Other states are kept.
func (e *TrackerEntry) Promote() bool {
	if e.Status != StatusWaitingEntry {
		return false
	}
	e.Status = StatusPending
	e.ExpiresAt = time.Time{}
	return true
}

// Secure records installed protective levels and resets trailing state.
func (e *TrackerEntry) Secure(side common.PositionSide, entry, sl, tp float64) {
	e.Status = StatusSecured
	e.Side = side
	e.EntryPrice = entry
	e.SLPrice = sl
	e.TPPrice = tp
	e.ExpiresAt = time.Time{}
	e.Trailing = Trailing{}
}
