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

	"github.com/ctessum/sparse"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Climatology holds per-pixel statistics of a phase across years.
type Climatology struct {
	Mean, Std, Count *sparse.DenseArray
}

func checkStack(stack []*sparse.DenseArray) (ny, nx int, err error) {
	if len(stack) == 0 {
		return 0, 0, errors.New("icephen: no grids to combine")
	}
	s := stack[0].Shape
	if len(s) != 2 {
		return 0, 0, errors.Errorf("icephen: grid has shape %v; (y, x) is required", s)
	}
	for i, g := range stack {
		if len(g.Shape) != 2 || g.Shape[0] != s[0] || g.Shape[1] != s[1] {
			return 0, 0, errors.Errorf("icephen: grid %d has shape %v, which differs from %v", i, g.Shape, s)
		}
	}
	return s[0], s[1], nil
}

func nanGrid(ny, nx int) *sparse.DenseArray {
	o := sparse.ZerosDense(ny, nx)
	for i := range o.Elements {
		o.Elements[i] = math.NaN()
	}
	return o
}

// ComputeClimatology returns the per-pixel mean, sample standard
// deviation and number of valid years of a stack of day-of-year grids.
// Missing values are skipped. Std is NaN where fewer than two years are
// valid.
func ComputeClimatology(stack []*sparse.DenseArray) (*Climatology, error) {
	ny, nx, err := checkStack(stack)
	if err != nil {
		return nil, err
	}
	c := &Climatology{Mean: nanGrid(ny, nx), Std: nanGrid(ny, nx), Count: sparse.ZerosDense(ny, nx)}
	vals := make([]float64, 0, len(stack))
	for i := range c.Mean.Elements {
		vals = vals[:0]
		for _, g := range stack {
			if v := g.Elements[i]; !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		c.Count.Elements[i] = float64(len(vals))
		if len(vals) == 0 {
			continue
		}
		c.Mean.Elements[i] = stat.Mean(vals, nil)
		if len(vals) > 1 {
			c.Std.Elements[i] = stat.StdDev(vals, nil)
		}
	}
	return c, nil
}

// Unwrap returns a copy of g where values below cutoff have 365 added, so
// that early-year dates of a season that straddles the new year sort
// after the late-year dates. A cutoff of zero or less returns a plain copy.
func Unwrap(g *sparse.DenseArray, cutoff float64) *sparse.DenseArray {
	o := g.Copy()
	if cutoff <= 0 {
		return o
	}
	for i, v := range o.Elements {
		if v < cutoff {
			o.Elements[i] = v + 365
		}
	}
	return o
}

// Anomaly returns value - mean per pixel. Missing inputs give NaN.
func Anomaly(value, mean *sparse.DenseArray) (*sparse.DenseArray, error) {
	if _, _, err := checkStack([]*sparse.DenseArray{value, mean}); err != nil {
		return nil, err
	}
	o := value.Copy()
	floats.Sub(o.Elements, mean.Elements)
	return o, nil
}

// Timing classes returned by Classify.
const (
	Ahead  = -1
	OnTime = 0
	Behind = 1
)

// Classify maps each anomaly to Ahead (more than tolerance days early),
// Behind (more than tolerance days late) or OnTime. Missing anomalies
// stay NaN.
func Classify(anomaly *sparse.DenseArray, tolerance float64) *sparse.DenseArray {
	o := anomaly.Copy()
	for i, v := range o.Elements {
		switch {
		case math.IsNaN(v):
		case v < -tolerance:
			o.Elements[i] = Ahead
		case v > tolerance:
			o.Elements[i] = Behind
		default:
			o.Elements[i] = OnTime
		}
	}
	return o
}

// Trend holds per-pixel least-squares fits of day of year against year.
type Trend struct {
	// Slope is in days per year.
	Slope, Intercept, RSquared, Count *sparse.DenseArray
}

// ComputeTrend fits a line through each pixel's valid (year, value) pairs.
// Pixels with fewer than minValidFraction*len(years) valid years, or fewer
// than three, are NaN.
func ComputeTrend(years []float64, stack []*sparse.DenseArray, minValidFraction float64) (*Trend, error) {
	ny, nx, err := checkStack(stack)
	if err != nil {
		return nil, err
	}
	if len(years) != len(stack) {
		return nil, errors.Errorf("icephen: %d years but %d grids", len(years), len(stack))
	}
	need := int(math.Ceil(minValidFraction * float64(len(years))))
	if need < 3 {
		need = 3
	}
	t := &Trend{
		Slope:     nanGrid(ny, nx),
		Intercept: nanGrid(ny, nx),
		RSquared:  nanGrid(ny, nx),
		Count:     sparse.ZerosDense(ny, nx),
	}
	xs := make([]float64, 0, len(years))
	ys := make([]float64, 0, len(years))
	for i := range t.Slope.Elements {
		xs, ys = xs[:0], ys[:0]
		for k, g := range stack {
			if v := g.Elements[i]; !math.IsNaN(v) {
				xs = append(xs, years[k])
				ys = append(ys, v)
			}
		}
		t.Count.Elements[i] = float64(len(xs))
		if len(xs) < need {
			continue
		}
		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		t.Intercept.Elements[i] = alpha
		t.Slope.Elements[i] = beta
		t.RSquared.Elements[i] = stat.RSquared(xs, ys, nil, alpha, beta)
	}
	return t, nil
}

// Duration returns retreat - advance in days where both are present and
// the difference is positive, and NaN elsewhere.
func Duration(retreat, advance *sparse.DenseArray) (*sparse.DenseArray, error) {
	ny, nx, err := checkStack([]*sparse.DenseArray{retreat, advance})
	if err != nil {
		return nil, err
	}
	o := nanGrid(ny, nx)
	for i, r := range retreat.Elements {
		a := advance.Elements[i]
		if math.IsNaN(r) || math.IsNaN(a) || r <= a {
			continue
		}
		o.Elements[i] = r - a
	}
	return o, nil
}
