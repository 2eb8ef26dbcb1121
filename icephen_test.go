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
	"github.com/stretchr/testify/require"
)

func repeat(v float64, n int) []float64 {
	o := make([]float64, n)
	for i := range o {
		o[i] = v
	}
	return o
}

func concat(s ...[]float64) []float64 {
	var o []float64
	for _, v := range s {
		o = append(o, v...)
	}
	return o
}

func TestFindFirstEvent(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name      string
		values    []float64
		dir       Direction
		runLength int
		index     int
		ok        bool
	}{
		{
			name:      "rising run after open water",
			values:    concat(repeat(0.05, 10), repeat(0.20, 5), repeat(0.05, 3)),
			dir:       Rising,
			runLength: 5,
			index:     10,
			ok:        true,
		},
		{
			name:      "no falling run",
			values:    repeat(0.20, 17),
			dir:       Falling,
			runLength: 5,
			index:     -1,
		},
		{
			name:      "exactly run length",
			values:    concat(repeat(0.20, 3), repeat(0.05, 5)),
			dir:       Falling,
			runLength: 5,
			index:     3,
			ok:        true,
		},
		{
			name:      "one short of run length",
			values:    concat(repeat(0.20, 3), repeat(0.05, 4), repeat(0.20, 3)),
			dir:       Falling,
			runLength: 5,
			index:     -1,
		},
		{
			name:      "equal to threshold does not count",
			values:    concat(repeat(0.05, 2), repeat(0.15, 6)),
			dir:       Rising,
			runLength: 5,
			index:     -1,
		},
		{
			name:      "missing value breaks run",
			values:    []float64{0.3, 0.3, nan, 0.3, 0.3, 0.3, 0.3, 0.3},
			dir:       Rising,
			runLength: 5,
			index:     3,
			ok:        true,
		},
		{
			name:      "earliest of two runs",
			values:    concat(repeat(0.3, 5), repeat(0.0, 2), repeat(0.3, 6)),
			dir:       Rising,
			runLength: 5,
			index:     0,
			ok:        true,
		},
		{
			name:      "all missing",
			values:    repeat(nan, 20),
			dir:       Rising,
			runLength: 5,
			index:     -1,
		},
		{
			name:      "shorter than run length",
			values:    repeat(0.9, 4),
			dir:       Rising,
			runLength: 5,
			index:     -1,
		},
		{
			name:      "empty",
			dir:       Falling,
			runLength: 5,
			index:     -1,
		},
		{
			name:      "invalid run length",
			values:    repeat(0.9, 10),
			dir:       Rising,
			runLength: 0,
			index:     -1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			index, ok := FindFirstEvent(test.values, 0.15, test.runLength, test.dir)
			assert.Equal(t, test.ok, ok)
			assert.Equal(t, test.index, index)
		})
	}
}

func TestFindFirstEventPure(t *testing.T) {
	values := concat(repeat(0.8, 12), repeat(0.1, 7), repeat(0.8, 3))
	orig := append([]float64(nil), values...)
	i1, ok1 := FindFirstEvent(values, 0.15, 5, Falling)
	i2, ok2 := FindFirstEvent(values, 0.15, 5, Falling)
	assert.Equal(t, orig, values)
	assert.Equal(t, i1, i2)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, 12, i1)
}

func TestFindLastEvent(t *testing.T) {
	values := concat(repeat(0.05, 3), repeat(0.2, 2), repeat(0.05, 5), repeat(0.2, 3))
	index, ok := FindLastEvent(values, 0.15, 3, Falling)
	require.True(t, ok)
	assert.Equal(t, 9, index)

	_, ok = FindLastEvent(values, 0.15, 6, Falling)
	assert.False(t, ok)

	index, ok = FindLastEvent(repeat(0.05, 5), 0.15, 5, Falling)
	require.True(t, ok)
	assert.Equal(t, 4, index)
}

func TestDirectionText(t *testing.T) {
	var d Direction
	require.NoError(t, d.UnmarshalText([]byte("falling")))
	assert.Equal(t, Falling, d)
	require.NoError(t, d.UnmarshalText([]byte(" Rising ")))
	assert.Equal(t, Rising, d)
	assert.Error(t, d.UnmarshalText([]byte("sideways")))

	var s Search
	require.NoError(t, s.UnmarshalText([]byte("last")))
	assert.Equal(t, Last, s)
	b, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "last", string(b))
}
