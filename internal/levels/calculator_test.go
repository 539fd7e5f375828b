package levels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arjunvm/pivot_sentry/internal/models"
)

func TestCalculate(t *testing.T) {
	source := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	forDay := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)

	got := Calculate(models.Candle{
		Timestamp: source,
		Open:      24650,
		High:      24800,
		Low:       24600,
		Close:     24750,
	}, forDay)

	assert.Equal(t, 24716.67, got.Pivot)
	assert.Equal(t, 24700.00, got.TC)
	assert.Equal(t, 24733.33, got.BC)
	assert.Equal(t, 24833.33, got.R1)
	assert.Equal(t, 24916.67, got.R2)
	assert.Equal(t, 25033.33, got.R3)
	assert.Equal(t, 25116.67, got.R4)
	assert.Equal(t, 24633.33, got.S1)
	assert.Equal(t, 24516.67, got.S2)
	assert.Equal(t, 24433.33, got.S3)
	assert.Equal(t, 24316.67, got.S4)
	assert.Equal(t, 15.0, got.Buffer)
	assert.True(t, got.SourceDate.Equal(source))
	assert.True(t, got.ForDay.Equal(forDay))
}

func TestCalculate_NarrowRangeDay(t *testing.T) {
	// When (high+low)/2 equals the pivot, bc collapses onto the pivot too.
	// This is a valid degenerate day, not an error.
	got := Calculate(models.Candle{
		High:  24700,
		Low:   24600,
		Close: 24650,
	}, time.Now())

	assert.Equal(t, got.Pivot, got.TC)
	assert.Equal(t, got.Pivot, got.BC)
}

func TestCalculate_LevelOrdering(t *testing.T) {
	got := Calculate(models.Candle{
		High:  24800,
		Low:   24600,
		Close: 24750,
	}, time.Now())

	assert.Less(t, got.R1, got.R2)
	assert.Less(t, got.R2, got.R3)
	assert.Less(t, got.R3, got.R4)
	assert.Greater(t, got.S1, got.S2)
	assert.Greater(t, got.S2, got.S3)
	assert.Greater(t, got.S3, got.S4)
}
