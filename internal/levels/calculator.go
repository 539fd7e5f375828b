// Package levels computes and resolves the daily Central Pivot Range level
// set: the pure CPR calculation, the backward historical-data walk that
// finds the last completed trading day, and the once-per-day cache.
package levels

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arjunvm/pivot_sentry/internal/models"
)

// bufferRatio sizes the tolerance band as a fraction of BC.
const bufferRatio = 0.0006

// Calculate derives the day's level set from the prior trading day's candle.
// It is a total function over well-formed OHLC (high >= low, close within
// range); a narrow-range day where tc == pivot (and therefore bc == pivot)
// is valid. Intermediate math runs at full precision; each level is rounded
// to 2 decimal places, half away from zero, only on output.
func Calculate(ohlc models.Candle, forDay time.Time) models.LevelSet {
	high := decimal.NewFromFloat(ohlc.High)
	low := decimal.NewFromFloat(ohlc.Low)
	closePx := decimal.NewFromFloat(ohlc.Close)

	two := decimal.NewFromInt(2)
	dayRange := high.Sub(low)

	pivot := high.Add(low).Add(closePx).Div(decimal.NewFromInt(3))
	tc := high.Add(low).Div(two)
	bc := pivot.Mul(two).Sub(tc)

	r1 := pivot.Mul(two).Sub(low)
	r2 := pivot.Add(dayRange)
	r3 := r1.Add(dayRange)
	r4 := r2.Add(dayRange)
	s1 := pivot.Mul(two).Sub(high)
	s2 := pivot.Sub(dayRange)
	s3 := s1.Sub(dayRange)
	s4 := s2.Sub(dayRange)

	round2 := func(d decimal.Decimal) float64 {
		return d.Round(2).InexactFloat64()
	}

	bcRounded := round2(bc)

	return models.LevelSet{
		Pivot:      round2(pivot),
		TC:         round2(tc),
		BC:         bcRounded,
		R1:         round2(r1),
		R2:         round2(r2),
		R3:         round2(r3),
		R4:         round2(r4),
		S1:         round2(s1),
		S2:         round2(s2),
		S3:         round2(s3),
		S4:         round2(s4),
		Buffer:     math.Round(bcRounded * bufferRatio),
		SourceDate: ohlc.Timestamp,
		ForDay:     forDay,
	}
}
