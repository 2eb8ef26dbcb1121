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
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/pkg/errors"
)

// NetCDFSource reads concentrations from a NetCDF classic file. The
// concentration variable must have dimensions (time, y, x) and there must
// be a CF time coordinate along the first dimension.
type NetCDFSource struct {
	f       *cdf.File
	product *Product

	times      []time.Time
	records    []int
	duplicates int
	grid       Grid

	cfScale, cfOffset float64
	fills             []float64
}

// OpenNetCDF prepares rw for reading with the settings in p. size is the
// size of the file in bytes; it is needed to count the records of a file
// whose time dimension is unlimited. A *ConfigurationError is returned
// when the file does not match p.
func OpenNetCDF(rw cdf.ReaderWriterAt, size int64, p *Product) (*NetCDFSource, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, errors.Wrap(err, "icephen: opening NetCDF input")
	}
	h := f.Header
	lengths := h.Lengths(p.Variable)
	if lengths == nil {
		return nil, configErrorf(p.Name, "variable", "%q is not in the input file", p.Variable)
	}
	dims := h.Dimensions(p.Variable)
	if len(dims) != 3 {
		return nil, configErrorf(p.Name, "variable", "%q has dimensions %v; (time, y, x) is required",
			p.Variable, dims)
	}
	tv := p.timeVariable()
	if tdims := h.Dimensions(tv); len(tdims) != 1 || tdims[0] != dims[0] {
		return nil, configErrorf(p.Name, "time_variable", "%q is not a coordinate along dimension %q",
			tv, dims[0])
	}
	if err := checkUnits(p, h.GetAttribute(p.Variable, "units")); err != nil {
		return nil, err
	}

	nt := lengths[0]
	if h.IsRecordVariable(p.Variable) {
		if size <= 0 {
			return nil, errors.New("icephen: the file size is required to read a record variable")
		}
		nt = int(h.NumRecs(size))
	}
	rawTimes, err := readValues(f, tv, nil, nil, nt)
	if err != nil {
		return nil, err
	}
	tunits, _ := h.GetAttribute(tv, "units").(string)
	step, epoch, err := parseTimeUnits(tunits)
	if err != nil {
		return nil, err
	}
	raw := make([]time.Time, len(rawTimes))
	for i, v := range rawTimes {
		raw[i] = decodeTime(epoch, step, v)
	}

	s := &NetCDFSource{
		f:        f,
		product:  p,
		grid:     Grid{Ny: lengths[1], Nx: lengths[2], YDim: dims[1], XDim: dims[2]},
		cfScale:  1,
		cfOffset: 0,
	}
	s.times, s.records, s.duplicates = normalizeTimes(raw)

	if v := attrFloats(h.GetAttribute(p.Variable, "scale_factor")); len(v) > 0 {
		s.cfScale = v[0]
	}
	if v := attrFloats(h.GetAttribute(p.Variable, "add_offset")); len(v) > 0 {
		s.cfOffset = v[0]
	}
	s.fills = append(s.fills, attrFloats(h.GetAttribute(p.Variable, "_FillValue"))...)
	s.fills = append(s.fills, attrFloats(h.GetAttribute(p.Variable, "missing_value"))...)
	s.fills = append(s.fills, attrFloats(h.FillValue(p.Variable))...)
	s.fills = append(s.fills, p.FillValues...)

	if s.grid.Y, err = readCoord(f, dims[1], s.grid.Ny); err != nil {
		return nil, err
	}
	if s.grid.X, err = readCoord(f, dims[2], s.grid.Nx); err != nil {
		return nil, err
	}
	return s, nil
}

// checkUnits compares the units attribute of the input variable, if it
// names a recognizable convention, with the configured units.
func checkUnits(p *Product, attr interface{}) error {
	s, ok := attr.(string)
	if !ok {
		return nil
	}
	u, ok := parseUnits(s)
	if !ok {
		return nil
	}
	if u != p.Units {
		return configErrorf(p.Name, "units", "input variable %s has units %q but the product is configured for %s",
			p.Variable, s, p.Units)
	}
	return nil
}

// Times implements Source.
func (s *NetCDFSource) Times() []time.Time { return s.times }

// Grid implements Source.
func (s *NetCDFSource) Grid() Grid { return s.grid }

// Duplicates returns the number of records dropped as repeated timestamps.
func (s *NetCDFSource) Duplicates() int { return s.duplicates }

// Read implements Source. Records are read one at a time in time order,
// so unsorted inputs are handled without loading the whole file.
func (s *NetCDFSource) Read(lo, hi int) (*Cube, error) {
	if lo < 0 || hi > len(s.times) || lo > hi {
		return nil, errors.Errorf("icephen: time index range [%d, %d) is outside [0, %d)", lo, hi, len(s.times))
	}
	ny, nx := s.grid.Ny, s.grid.Nx
	n := ny * nx
	data := sparse.ZerosDense(hi-lo, ny, nx)
	scale := s.product.scale()
	for k := lo; k < hi; k++ {
		rec := s.records[k]
		vals, err := readValues(s.f, s.product.Variable, []int{rec, 0, 0}, []int{rec + 1, 0, 0}, n)
		if err != nil {
			return nil, errors.Wrapf(err, "icephen: reading %s at %s", s.product.Variable,
				s.times[k].Format("2006-01-02"))
		}
		out := data.Elements[(k-lo)*n : (k-lo+1)*n]
		for i, v := range vals {
			if s.isFill(v) {
				out[i] = math.NaN()
				continue
			}
			out[i] = (v*s.cfScale + s.cfOffset) * scale
		}
	}
	return &Cube{Times: s.times[lo:hi], Data: data}, nil
}

func (s *NetCDFSource) isFill(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	for _, f := range s.fills {
		if v == f {
			return true
		}
	}
	return false
}

// readValues reads n values of variable name between begin and end,
// converting them to float64.
func readValues(f *cdf.File, name string, begin, end []int, n int) ([]float64, error) {
	r := f.Reader(name, begin, end)
	if r == nil {
		return nil, errors.Errorf("icephen: variable %s is not in the file", name)
	}
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, errors.Wrapf(err, "icephen: reading NetCDF variable %s", name)
	}
	o := attrFloats(buf)
	if o == nil {
		return nil, errors.Errorf("icephen: variable %s has an unsupported data type %T", name, buf)
	}
	return o, nil
}

// readCoord reads the 1-D coordinate variable named dim if it exists.
func readCoord(f *cdf.File, dim string, n int) ([]float64, error) {
	if d := f.Header.Dimensions(dim); len(d) != 1 || d[0] != dim {
		return nil, nil
	}
	return readValues(f, dim, nil, nil, n)
}

// attrFloats converts a NetCDF numeric slice or scalar to []float64.
// It returns nil for strings and other types.
func attrFloats(v interface{}) []float64 {
	switch t := v.(type) {
	case []float64:
		return append([]float64(nil), t...)
	case []float32:
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(x)
		}
		return o
	case []int32:
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(x)
		}
		return o
	case []int16:
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(x)
		}
		return o
	case []uint8:
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(x)
		}
		return o
	case float64:
		return []float64{t}
	case float32:
		return []float64{float64(t)}
	case int32:
		return []float64{float64(t)}
	case int16:
		return []float64{float64(t)}
	case uint8:
		return []float64{float64(t)}
	}
	return nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-1-2 15:4:5",
	"2006-1-2",
}

// decodeTime returns the instant v steps after epoch. Whole days go
// through the calendar and only the remainder through time.Duration,
// which cannot span more than about 292 years.
func decodeTime(epoch time.Time, step time.Duration, v float64) time.Time {
	secs := v * step.Seconds()
	days := math.Floor(secs / 86400)
	rem := secs - days*86400
	return epoch.AddDate(0, 0, int(days)).Add(time.Duration(math.Round(rem * 1e9)))
}

// parseTimeUnits parses a CF time unit string such as
// "days since 1601-01-01 00:00:00".
func parseTimeUnits(units string) (step time.Duration, epoch time.Time, err error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return 0, time.Time{}, configErrorf("", "time units", "%q is not of the form '<unit> since <date>'", units)
	}
	switch strings.ToLower(strings.TrimSpace(parts[0])) {
	case "days", "day", "d":
		step = 24 * time.Hour
	case "hours", "hour", "hr", "h":
		step = time.Hour
	case "minutes", "minute", "min":
		step = time.Minute
	case "seconds", "second", "sec", "s":
		step = time.Second
	default:
		return 0, time.Time{}, configErrorf("", "time units", "unsupported time step %q", parts[0])
	}
	ref := strings.TrimSpace(parts[1])
	ref = strings.TrimSuffix(ref, " UTC")
	ref = strings.TrimSuffix(ref, ".0")
	for _, layout := range timeLayouts {
		if epoch, err = time.Parse(layout, ref); err == nil {
			return step, epoch.UTC(), nil
		}
	}
	return 0, time.Time{}, configErrorf("", "time units", "cannot parse reference date %q", parts[1])
}
