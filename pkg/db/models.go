package db

// TrackerRow is the persisted form of one symbol's protection record.
// Times are unix seconds; zero means unset.
type TrackerRow struct {
	Symbol       string
	Status       string
	EntryOrderID string
	CreatedAt    int64
	ExpiresAt    int64
	Strategy     string
	ATR          float64
	Side         string
	EntryPrice   float64
	SLPrice      float64
	TPPrice      float64
	DecisionTP   float64
	DecisionSL   float64

	TrailingActive    bool
	TrailingExtreme   float64
	TrailingSL        float64
	TrailingUpdatedAt int64 // unix millis
}
