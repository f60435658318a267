package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a keyed lookup has no row.
var ErrNotFound = errors.New("record not found")

// Queries wraps the tracker statements.
type Queries struct {
	db *sql.DB
}

// Queries returns the statement helper bound to this database.
func (d *Database) Queries() *Queries {
	return &Queries{db: d.DB}
}

const trackerColumns = `symbol, status, entry_order_id, created_at, expires_at, strategy, atr,
	side, entry_price, sl_price, tp_price, decision_tp, decision_sl,
	trailing_active, trailing_extreme, trailing_sl, trailing_updated_at`

// ReplaceTrackers rewrites the whole table in one transaction.
func (q *Queries) ReplaceTrackers(ctx context.Context, rows []TrackerRow) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tracker tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trackers`); err != nil {
		return fmt.Errorf("clear trackers: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trackers (`+trackerColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`)
	if err != nil {
		return fmt.Errorf("prepare tracker insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.Symbol, r.Status, r.EntryOrderID, r.CreatedAt, r.ExpiresAt, r.Strategy, r.ATR,
			r.Side, r.EntryPrice, r.SLPrice, r.TPPrice, r.DecisionTP, r.DecisionSL,
			boolToInt(r.TrailingActive), r.TrailingExtreme, r.TrailingSL, r.TrailingUpdatedAt,
		); err != nil {
			return fmt.Errorf("insert tracker %s: %w", r.Symbol, err)
		}
	}
	return tx.Commit()
}

// ListTrackers returns every persisted tracker ordered by symbol.
func (q *Queries) ListTrackers(ctx context.Context) ([]TrackerRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+trackerColumns+` FROM trackers ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query trackers: %w", err)
	}
	defer rows.Close()

	var out []TrackerRow
	for rows.Next() {
		r, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetTracker returns one tracker or ErrNotFound.
func (q *Queries) GetTracker(ctx context.Context, symbol string) (TrackerRow, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+trackerColumns+` FROM trackers WHERE symbol = ?`, symbol)
	r, err := scanTracker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TrackerRow{}, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTracker(s scanner) (TrackerRow, error) {
	var (
		r      TrackerRow
		active int
	)
	err := s.Scan(&r.Symbol, &r.Status, &r.EntryOrderID, &r.CreatedAt, &r.ExpiresAt, &r.Strategy, &r.ATR,
		&r.Side, &r.EntryPrice, &r.SLPrice, &r.TPPrice, &r.DecisionTP, &r.DecisionSL,
		&active, &r.TrailingExtreme, &r.TrailingSL, &r.TrailingUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, err
	}
	if err != nil {
		return r, fmt.Errorf("scan tracker: %w", err)
	}
	r.TrailingActive = active != 0
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
