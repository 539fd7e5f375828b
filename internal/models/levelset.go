package models

import "time"

// LevelSet holds the Central Pivot Range and the surrounding
// resistance/support levels for one trading day. It is computed exactly once
// per day from the prior trading day's candle and never recomputed.
type LevelSet struct {
	Pivot  float64 `json:"pivot"`
	TC     float64 `json:"tc"` // top-central
	BC     float64 `json:"bc"` // bottom-central
	R1     float64 `json:"r1"`
	R2     float64 `json:"r2"`
	R3     float64 `json:"r3"`
	R4     float64 `json:"r4"`
	S1     float64 `json:"s1"`
	S2     float64 `json:"s2"`
	S3     float64 `json:"s3"`
	S4     float64 `json:"s4"`
	Buffer float64 `json:"buffer"` // tolerance band around each level

	// SourceDate is the trading day whose OHLC produced these levels.
	SourceDate time.Time `json:"source_date"`
	// ForDay is the trading day the levels apply to (midnight IST).
	ForDay time.Time `json:"for_day"`
}

// NamedLevel pairs a level with the name used in signal reasons.
type NamedLevel struct {
	Name  string
	Value float64
}

// BandLevels returns the resistance/support levels in the fixed iteration
// order the band scan uses (r1..r4 then s1..s4). Later entries override
// earlier matches in the evaluator.
func (l *LevelSet) BandLevels() []NamedLevel {
	return []NamedLevel{
		{"r1", l.R1}, {"r2", l.R2}, {"r3", l.R3}, {"r4", l.R4},
		{"s1", l.S1}, {"s2", l.S2}, {"s3", l.S3}, {"s4", l.S4},
	}
}

// CrossingLevels returns the levels scanned for crossing-based exits,
// in scan order (r1..r4, s1..s4, tc, bc). The first match wins.
func (l *LevelSet) CrossingLevels() []NamedLevel {
	return append(l.BandLevels(), NamedLevel{"tc", l.TC}, NamedLevel{"bc", l.BC})
}
