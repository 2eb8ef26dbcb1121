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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestInput writes a NetCDF classic file holding a short integer
// percent concentration variable "ice" with a 0.1 scale factor and -1
// as the fill value.
func writeTestInput(t *testing.T, units string, days []float64, ny, nx int, value func(k, j, i int) int16) string {
	t.Helper()
	return writeTestInputSince(t, "days since 2021-01-01 00:00:00", units, days, ny, nx, value)
}

func writeTestInputSince(t *testing.T, timeUnits, units string, days []float64, ny, nx int, value func(k, j, i int) int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.nc")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	h := cdf.NewHeader([]string{"time", "y", "x"}, []int{len(days), ny, nx})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", timeUnits)
	h.AddVariable("y", []string{"y"}, []float64{0})
	h.AddVariable("ice", []string{"time", "y", "x"}, []int16{0})
	h.AddAttribute("ice", "units", units)
	h.AddAttribute("ice", "scale_factor", []float32{0.1})
	h.AddAttribute("ice", "_FillValue", []int16{-1})
	h.Define()

	ff, err := cdf.Create(f, h)
	require.NoError(t, err)
	_, err = ff.Writer("time", []int{0}, []int{len(days)}).Write(days)
	require.NoError(t, err)
	y := make([]float64, ny)
	for j := range y {
		y[j] = -4000 + 25*float64(j)
	}
	_, err = ff.Writer("y", []int{0}, []int{ny}).Write(y)
	require.NoError(t, err)

	vals := make([]int16, len(days)*ny*nx)
	for k := range days {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				vals[(k*ny+j)*nx+i] = value(k, j, i)
			}
		}
	}
	_, err = ff.Writer("ice", []int{0, 0, 0}, []int{len(days), ny, nx}).Write(vals)
	require.NoError(t, err)
	require.NoError(t, cdf.UpdateNumRecs(f))
	return path
}

func percentProduct() *Product {
	p := AMSRE()
	p.Variable = "ice"
	return p
}

func openTestInput(t *testing.T, path string, p *Product) (*NetCDFSource, error) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	fi, err := f.Stat()
	require.NoError(t, err)
	return OpenNetCDF(f, fi.Size(), p)
}

func TestNetCDFSource(t *testing.T) {
	// Records are out of order and day 1 appears twice.
	days := []float64{2, 0, 1, 1}
	path := writeTestInput(t, "percent", days, 2, 2, func(k, j, i int) int16 {
		switch {
		case j == 1 && i == 1:
			return -1
		case j == 1 && i == 0:
			return 1200
		}
		return int16(100*k + 10*j + i)
	})

	src, err := openTestInput(t, path, percentProduct())
	require.NoError(t, err)
	assert.Equal(t, 1, src.Duplicates())
	assert.Equal(t, []time.Time{
		date(2021, time.January, 1), date(2021, time.January, 2), date(2021, time.January, 3),
	}, src.Times())

	g := src.Grid()
	assert.Equal(t, 2, g.Ny)
	assert.Equal(t, 2, g.Nx)
	assert.Equal(t, "y", g.YDim)
	assert.Equal(t, []float64{-4000, -3975}, g.Y)
	assert.Nil(t, g.X)

	c, err := src.Read(0, 3)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 2}, c.Data.Shape)
	// Day 0 is raw record 1, day 1 is raw record 2 (the first of the pair),
	// day 2 is raw record 0.
	assert.InDelta(t, 10.0, c.Data.Get(0, 0, 0), 1e-4)
	assert.InDelta(t, 20.1, c.Data.Get(1, 0, 1), 1e-4)
	assert.InDelta(t, 0.0, c.Data.Get(2, 0, 0), 1e-4)
	assert.InDelta(t, 120.0, c.Data.Get(0, 1, 0), 1e-4, "out of range values are masked by the detector")
	assert.True(t, math.IsNaN(c.Data.Get(0, 1, 1)))

	_, err = src.Read(2, 4)
	assert.Error(t, err)
}

func TestNetCDFSourceConfiguration(t *testing.T) {
	days := []float64{0, 1, 2}
	value := func(k, j, i int) int16 { return 500 }

	t.Run("unit mismatch", func(t *testing.T) {
		path := writeTestInput(t, "percent", days, 1, 1, value)
		p := SMMR()
		p.Variable = "ice"
		_, err := openTestInput(t, path, p)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
	t.Run("unrecognized units are accepted", func(t *testing.T) {
		path := writeTestInput(t, "concentration", days, 1, 1, value)
		_, err := openTestInput(t, path, percentProduct())
		assert.NoError(t, err)
	})
	t.Run("missing variable", func(t *testing.T) {
		path := writeTestInput(t, "percent", days, 1, 1, value)
		_, err := openTestInput(t, path, AMSRE())
		assert.ErrorIs(t, err, ErrConfiguration)
	})
	t.Run("missing time coordinate", func(t *testing.T) {
		path := writeTestInput(t, "percent", days, 1, 1, value)
		p := percentProduct()
		p.TimeVariable = "t"
		_, err := openTestInput(t, path, p)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestNetCDFSourceEarlyEpoch(t *testing.T) {
	// 153402 days after 1601-01-01 is 2021-01-01.
	days := []float64{153402, 153403, 153404}
	path := writeTestInputSince(t, "days since 1601-01-01 00:00:00", "percent", days, 1, 1,
		func(k, j, i int) int16 { return 500 })
	src, err := openTestInput(t, path, percentProduct())
	require.NoError(t, err)
	assert.Equal(t, 0, src.Duplicates())
	assert.Equal(t, []time.Time{
		date(2021, time.January, 1), date(2021, time.January, 2), date(2021, time.January, 3),
	}, src.Times())
}

func TestDecodeTime(t *testing.T) {
	tests := []struct {
		epoch time.Time
		step  time.Duration
		v     float64
		want  time.Time
	}{
		{epoch: date(1601, time.January, 1), step: 24 * time.Hour, v: 154556, want: date(2024, time.February, 29)},
		{epoch: date(1601, time.January, 1), step: 24 * time.Hour, v: 153402.5,
			want: time.Date(2021, time.January, 1, 12, 0, 0, 0, time.UTC)},
		{epoch: date(1601, time.January, 1), step: time.Hour, v: 153402 * 24, want: date(2021, time.January, 1)},
		{epoch: date(1601, time.January, 1), step: time.Second, v: 153402 * 86400, want: date(2021, time.January, 1)},
		{epoch: date(1978, time.October, 25), step: time.Hour, v: 36, want: time.Date(1978, time.October, 26, 12, 0, 0, 0, time.UTC)},
		{epoch: date(2021, time.January, 1), step: 24 * time.Hour, v: -1, want: date(2020, time.December, 31)},
	}
	for _, test := range tests {
		if have := decodeTime(test.epoch, test.step, test.v); !have.Equal(test.want) {
			t.Errorf("%g x %s since %s = %s, want %s", test.v, test.step, test.epoch.Format("2006-01-02"), have, test.want)
		}
	}
}

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		units string
		step  time.Duration
		epoch time.Time
	}{
		{units: "days since 1601-01-01 00:00:00", step: 24 * time.Hour, epoch: date(1601, time.January, 1)},
		{units: "hours since 1978-10-25", step: time.Hour, epoch: date(1978, time.October, 25)},
		{units: "seconds since 2002-06-01T00:00:00Z", step: time.Second, epoch: date(2002, time.June, 1)},
		{units: "days since 1970-1-1", step: 24 * time.Hour, epoch: date(1970, time.January, 1)},
	}
	for _, test := range tests {
		step, epoch, err := parseTimeUnits(test.units)
		require.NoError(t, err, test.units)
		assert.Equal(t, test.step, step, test.units)
		assert.True(t, test.epoch.Equal(epoch), "%s: %s", test.units, epoch)
	}
	for _, bad := range []string{"", "days", "fortnights since 2000-01-01", "days since yesterday"} {
		_, _, err := parseTimeUnits(bad)
		assert.ErrorIs(t, err, ErrConfiguration, bad)
	}
}
