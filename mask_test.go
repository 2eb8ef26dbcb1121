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

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPixel(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name   string
		annual []float64
		want   PixelClass
	}{
		{name: "always ice", annual: repeat(0.92, 365), want: Land},
		{name: "always open", annual: repeat(0.02, 365), want: OpenWater},
		{name: "seasonal", annual: concat(repeat(0.9, 200), repeat(0.05, 165)), want: Valid},
		{name: "no samples", annual: repeat(nan, 365), want: NoData},
		{name: "empty", want: NoData},
		{name: "missing ignored", annual: concat(repeat(nan, 10), repeat(0.5, 10)), want: Land},
		{name: "touching threshold", annual: concat(repeat(0.15, 10), repeat(0.5, 10)), want: Valid},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, ClassifyPixel(test.annual, 0.15))
		})
	}
}

func TestMaskInvalid(t *testing.T) {
	p := SMMR()
	v := []float64{-0.1, 0, 0.5, 1.0, 1.1, 1.2}
	p.maskInvalid(v)
	assert.True(t, math.IsNaN(v[0]))
	assert.Equal(t, []float64{0, 0.5, 1.0}, v[1:4])
	assert.True(t, math.IsNaN(v[4]))
	assert.True(t, math.IsNaN(v[5]))
}
