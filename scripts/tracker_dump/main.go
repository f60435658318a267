package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"execution-core/internal/safety"
	"execution-core/pkg/db"
)

// tracker_dump prints the persisted tracker table, the same rows the engine
// restores at startup.
//
// Usage:
//
//	go run ./scripts/tracker_dump -db ./data/safety_tracker.db
func main() {
	path := flag.String("db", "./data/safety_tracker.db", "tracker database path")
	flag.Parse()

	if _, err := os.Stat(*path); err != nil {
		fmt.Fprintf(os.Stderr, "tracker db: %v\n", err)
		os.Exit(1)
	}
	database, err := db.New(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		fmt.Fprintf(os.Stderr, "migrations: %v\n", err)
		os.Exit(1)
	}

	table := safety.NewTable(nil)
	if err := table.Load(context.Background(), database.Queries()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tSTATUS\tSIDE\tENTRY\tSL\tTP\tSTRATEGY\tAGE\tTRAILING")
	now := time.Now()
	for _, e := range table.Entries() {
		trail := "-"
		if e.Trailing.Active {
			trail = fmt.Sprintf("extreme=%g sl=%g", e.Trailing.Extreme, e.Trailing.CurrentSL)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%g\t%g\t%s\t%s\t%s\n",
			e.Symbol, e.Status, e.Side, e.EntryPrice, e.SLPrice, e.TPPrice, e.Strategy,
			now.Sub(e.CreatedAt).Round(time.Minute), trail)
	}
	_ = w.Flush()
}
