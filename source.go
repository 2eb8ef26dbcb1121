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
	"time"

	"github.com/ctessum/sparse"
	"github.com/pkg/errors"
)

// Grid describes the horizontal (y, x) grid shared by an input and the
// phase maps computed from it.
type Grid struct {
	Ny, Nx int

	// YDim and XDim are the dimension names. They default to "y" and "x".
	YDim, XDim string

	// Y and X optionally hold coordinate values along each dimension.
	Y, X []float64
}

func (g Grid) dims() (ydim, xdim string) {
	ydim, xdim = g.YDim, g.XDim
	if ydim == "" {
		ydim = "y"
	}
	if xdim == "" {
		xdim = "x"
	}
	return ydim, xdim
}

// Cube holds the concentrations for a contiguous span of a source's
// normalized time axis.
type Cube struct {
	Times []time.Time

	// Data has dimensions (time, y, x).
	Data *sparse.DenseArray
}

// pixel copies the samples of pixel (j, i) for time indices [lo, hi)
// into dst and returns it.
func (c *Cube) pixel(j, i, lo, hi int, dst []float64) []float64 {
	ny, nx := c.Data.Shape[1], c.Data.Shape[2]
	dst = dst[:0]
	for t := lo; t < hi; t++ {
		dst = append(dst, c.Data.Elements[(t*ny+j)*nx+i])
	}
	return dst
}

// A Source provides concentrations on a strictly increasing, duplicate-free
// time axis.
type Source interface {
	// Times returns the normalized time axis.
	Times() []time.Time

	// Grid returns the horizontal grid.
	Grid() Grid

	// Read returns the cube for time indices [lo, hi).
	Read(lo, hi int) (*Cube, error)
}

// MemorySource is a Source backed by an in-memory array.
type MemorySource struct {
	times      []time.Time
	grid       Grid
	data       *sparse.DenseArray
	duplicates int
}

// NewMemorySource creates a Source from a (time, y, x) array whose first
// dimension matches times. The records are sorted by time and repeated
// timestamps are dropped, keeping the first record of each.
func NewMemorySource(times []time.Time, data *sparse.DenseArray) (*MemorySource, error) {
	if len(data.Shape) != 3 {
		return nil, errors.Errorf("icephen: concentration array has %d dimensions, 3 are required", len(data.Shape))
	}
	if data.Shape[0] != len(times) {
		return nil, errors.Errorf("icephen: concentration array has %d records but there are %d timestamps",
			data.Shape[0], len(times))
	}
	ny, nx := data.Shape[1], data.Shape[2]
	sorted, records, dropped := normalizeTimes(times)
	o := &MemorySource{
		times:      sorted,
		grid:       Grid{Ny: ny, Nx: nx},
		data:       sparse.ZerosDense(len(sorted), ny, nx),
		duplicates: dropped,
	}
	n := ny * nx
	for k, r := range records {
		copy(o.data.Elements[k*n:(k+1)*n], data.Elements[r*n:(r+1)*n])
	}
	return o, nil
}

// SetCoordinates attaches coordinate values to the source's grid.
func (s *MemorySource) SetCoordinates(y, x []float64) error {
	if len(y) != s.grid.Ny || len(x) != s.grid.Nx {
		return errors.Errorf("icephen: coordinate lengths (%d, %d) do not match grid (%d, %d)",
			len(y), len(x), s.grid.Ny, s.grid.Nx)
	}
	s.grid.Y, s.grid.X = y, x
	return nil
}

// Times implements Source.
func (s *MemorySource) Times() []time.Time { return s.times }

// Grid implements Source.
func (s *MemorySource) Grid() Grid { return s.grid }

// Duplicates returns the number of records dropped as repeated timestamps.
func (s *MemorySource) Duplicates() int { return s.duplicates }

// Read implements Source.
func (s *MemorySource) Read(lo, hi int) (*Cube, error) {
	if lo < 0 || hi > len(s.times) || lo > hi {
		return nil, errors.Errorf("icephen: time index range [%d, %d) is outside [0, %d)", lo, hi, len(s.times))
	}
	n := s.grid.Ny * s.grid.Nx
	data := sparse.ZerosDense(hi-lo, s.grid.Ny, s.grid.Nx)
	copy(data.Elements, s.data.Elements[lo*n:hi*n])
	return &Cube{Times: s.times[lo:hi], Data: data}, nil
}
