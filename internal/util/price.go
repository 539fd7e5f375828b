// Package util provides common utility functions for price calculations.
package util

import "math"

// NearestStrike rounds an index price to the tradable strike grid. The
// remainder rounds up only when it exceeds half the width, so with width=100
// a price of 24851 maps to 24900 while 24850 and 24820 map to 24800.
func NearestStrike(price, width float64) float64 {
	if width <= 0 {
		return price
	}
	base := math.Floor(price/width) * width
	if math.Mod(price, width) > width/2 {
		return base + width
	}
	return base
}
