package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/safety"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

type trackerView struct {
	Symbol       string     `json:"symbol"`
	Status       string     `json:"status"`
	EntryOrderID string     `json:"entry_order_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Strategy     string     `json:"strategy"`
	ATR          float64    `json:"atr"`
	Side         string     `json:"side,omitempty"`
	EntryPrice   float64    `json:"entry_price,omitempty"`
	SLPrice      float64    `json:"sl_price,omitempty"`
	TPPrice      float64    `json:"tp_price,omitempty"`
	Trailing     *trailView `json:"trailing,omitempty"`
}

type trailView struct {
	Extreme       float64   `json:"extreme_price"`
	CurrentSL     float64   `json:"current_sl"`
	LastAppliedAt time.Time `json:"last_applied_at"`
}

func toTrackerView(e safety.TrackerEntry) trackerView {
	v := trackerView{
		Symbol:       e.Symbol,
		Status:       string(e.Status),
		EntryOrderID: e.EntryOrderID,
		CreatedAt:    e.CreatedAt,
		Strategy:     e.Strategy,
		ATR:          e.ATR,
		Side:         string(e.Side),
		EntryPrice:   e.EntryPrice,
		SLPrice:      e.SLPrice,
		TPPrice:      e.TPPrice,
	}
	if !e.ExpiresAt.IsZero() {
		exp := e.ExpiresAt
		v.ExpiresAt = &exp
	}
	if e.Trailing.Active {
		v.Trailing = &trailView{
			Extreme:       e.Trailing.Extreme,
			CurrentSL:     e.Trailing.CurrentSL,
			LastAppliedAt: e.Trailing.LastAppliedAt,
		}
	}
	return v
}

func (s *Server) getTrackers(c *gin.Context) {
	if s.Trackers == nil {
		respondError(c, http.StatusServiceUnavailable, "TRACKERS_UNAVAILABLE", "tracker table not available")
		return
	}
	status := strings.ToUpper(c.Query("status"))
	entries := s.Trackers.Entries()
	out := make([]trackerView, 0, len(entries))
	for _, e := range entries {
		if status != "" && string(e.Status) != status {
			continue
		}
		out = append(out, toTrackerView(e))
	}
	c.JSON(http.StatusOK, gin.H{"trackers": out, "count": len(out)})
}

// getTracker serves /trackers/ETH/USDT.
func (s *Server) getTracker(c *gin.Context) {
	if s.Trackers == nil {
		respondError(c, http.StatusServiceUnavailable, "TRACKERS_UNAVAILABLE", "tracker table not available")
		return
	}
	symbol := strings.ToUpper(c.Param("base") + "/" + c.Param("quote"))
	for _, e := range s.Trackers.Entries() {
		if e.Symbol == symbol {
			c.JSON(http.StatusOK, toTrackerView(e))
			return
		}
	}
	respondError(c, http.StatusNotFound, "NOT_FOUND", "no tracker for "+symbol)
}

func (s *Server) getPositions(c *gin.Context) {
	if s.Positions == nil {
		respondError(c, http.StatusServiceUnavailable, "POSITIONS_UNAVAILABLE", "position cache not available")
		return
	}
	positions := s.Positions.Positions()
	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, gin.H{
			"symbol":      p.Symbol,
			"side":        p.Side,
			"contracts":   p.Contracts,
			"entry_price": p.EntryPrice,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"positions":  out,
		"count":      len(out),
		"updated_at": s.Positions.UpdatedAt(),
	})
}

func (s *Server) getCooldowns(c *gin.Context) {
	if s.Cooldowns == nil {
		respondError(c, http.StatusServiceUnavailable, "COOLDOWNS_UNAVAILABLE", "cooldowns not available")
		return
	}
	now := time.Now()
	snap := s.Cooldowns.Snapshot()
	symbols := make([]string, 0, len(snap))
	for sym := range snap {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	out := make([]gin.H, 0, len(symbols))
	for _, sym := range symbols {
		until := snap[sym]
		out = append(out, gin.H{
			"symbol":            sym,
			"until":             until,
			"remaining_seconds": int64(until.Sub(now).Seconds()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"cooldowns": out, "count": len(out)})
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"meta":    s.Meta,
		"runtime": s.Metrics.Runtime(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}
	if s.Trackers != nil {
		counts := make(map[string]int)
		for _, e := range s.Trackers.Entries() {
			counts[string(e.Status)]++
		}
		resp["trackers"] = counts
	}
	c.JSON(http.StatusOK, resp)
}
