/*
Copyright © 2024 the IcePhen authors.
This file is part of IcePhen.

IcePhen is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

IcePhen is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with IcePhen.  If not, see <http://www.gnu.org/licenses/>.
*/

package icephen

import "math"

// PixelClass is the surface class of a pixel in one calendar year.
type PixelClass int

// Pixel classes. Only Valid pixels are scanned for events.
const (
	Valid PixelClass = iota
	Land
	OpenWater
	NoData
)

func (c PixelClass) String() string {
	switch c {
	case Valid:
		return "valid"
	case Land:
		return "land"
	case OpenWater:
		return "open_water"
	case NoData:
		return "missing"
	default:
		return "unknown"
	}
}

// pixelClassMeanings is the CF flag_meanings attribute for PixelClass codes.
const pixelClassMeanings = "valid land open_water missing"

// ClassifyPixel classifies a pixel from its unwindowed calendar-year
// series. A pixel whose smallest valid value is above threshold is land
// (or always ice covered); one whose largest valid value is below
// threshold is permanent open water. NaN values are ignored, and a series
// without any valid value is NoData.
func ClassifyPixel(annual []float64, threshold float64) PixelClass {
	min, max := math.Inf(1), math.Inf(-1)
	n := 0
	for _, v := range annual {
		if math.IsNaN(v) {
			continue
		}
		n++
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	switch {
	case n == 0:
		return NoData
	case min > threshold:
		return Land
	case max < threshold:
		return OpenWater
	default:
		return Valid
	}
}

// anyAbove reports whether any value is strictly above threshold.
func anyAbove(values []float64, threshold float64) bool {
	for _, v := range values {
		if v > threshold {
			return true
		}
	}
	return false
}

// allMissing reports whether every value is NaN.
func allMissing(values []float64) bool {
	for _, v := range values {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}
