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
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/pkg/errors"
)

// GridFile is a set of named two-dimensional (y, x) fields on a common
// grid, together with descriptive attributes. It is stored as a NetCDF
// classic file with float32 fields and NaN as the fill value.
type GridFile struct {
	Grid Grid

	// Attributes holds global attributes. Values must be string,
	// []float64, []float32 or []int32.
	Attributes map[string]interface{}

	Fields map[string]*Field
}

// Field is one variable of a GridFile.
type Field struct {
	Description string
	Units       string

	// Attributes holds additional variable attributes, with the same
	// value types as GridFile.Attributes.
	Attributes map[string]interface{}

	// Data has dimensions (y, x).
	Data *sparse.DenseArray
}

// NewGridFile returns an empty GridFile on grid g.
func NewGridFile(g Grid) *GridFile {
	return &GridFile{
		Grid:       g,
		Attributes: make(map[string]interface{}),
		Fields:     make(map[string]*Field),
	}
}

// AddField adds a field to f and returns it so that attributes can be set.
func (f *GridFile) AddField(name, description, units string, data *sparse.DenseArray) *Field {
	fld := &Field{
		Description: description,
		Units:       units,
		Attributes:  make(map[string]interface{}),
		Data:        data,
	}
	f.Fields[name] = fld
	return fld
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Write writes f to w.
func (f *GridFile) Write(w *os.File) error {
	ydim, xdim := f.Grid.dims()
	ny, nx := f.Grid.Ny, f.Grid.Nx
	h := cdf.NewHeader([]string{ydim, xdim}, []int{ny, nx})
	for _, k := range sortedKeys(f.Attributes) {
		h.AddAttribute("", k, f.Attributes[k])
	}
	hasY := len(f.Grid.Y) == ny && ny > 0
	hasX := len(f.Grid.X) == nx && nx > 0
	if hasY {
		h.AddVariable(ydim, []string{ydim}, []float64{0})
	}
	if hasX {
		h.AddVariable(xdim, []string{xdim}, []float64{0})
	}

	// Sort the names so they write in the same order every time.
	names := make([]string, 0, len(f.Fields))
	for n := range f.Fields {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		fld := f.Fields[name]
		if s := fld.Data.Shape; len(s) != 2 || s[0] != ny || s[1] != nx {
			return errors.Errorf("icephen: field %s has shape %v, but the grid is (%d, %d)", name, s, ny, nx)
		}
		h.AddVariable(name, []string{ydim, xdim}, []float32{0})
		h.AddAttribute(name, "description", fld.Description)
		h.AddAttribute(name, "units", fld.Units)
		h.AddAttribute(name, "_FillValue", []float32{float32(math.NaN())})
		for _, k := range sortedKeys(fld.Attributes) {
			if k == "description" || k == "units" || k == "_FillValue" {
				continue
			}
			h.AddAttribute(name, k, fld.Attributes[k])
		}
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return errors.Errorf("icephen: invalid NetCDF header: %v", errs[0])
	}

	ff, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return errors.Wrap(err, "icephen: creating NetCDF file")
	}
	if hasY {
		if _, err = ff.Writer(ydim, []int{0}, []int{ny}).Write(f.Grid.Y); err != nil {
			return errors.Wrapf(err, "icephen: writing coordinate %s", ydim)
		}
	}
	if hasX {
		if _, err = ff.Writer(xdim, []int{0}, []int{nx}).Write(f.Grid.X); err != nil {
			return errors.Wrapf(err, "icephen: writing coordinate %s", xdim)
		}
	}
	for _, name := range names {
		if err = writeField(ff, name, f.Fields[name].Data); err != nil {
			return errors.Wrapf(err, "icephen: writing variable %s to NetCDF file", name)
		}
	}
	return errors.Wrap(cdf.UpdateNumRecs(w), "icephen: finishing NetCDF file")
}

func writeField(f *cdf.File, name string, data *sparse.DenseArray) error {
	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	_, err := f.Writer(name, start, end).Write(data32)
	return err
}

// LoadGridFile reads a file written by GridFile.Write. Every
// two-dimensional variable becomes a Field.
func LoadGridFile(rw cdf.ReaderWriterAt) (*GridFile, error) {
	ff, err := cdf.Open(rw)
	if err != nil {
		return nil, errors.Wrap(err, "icephen: opening grid file")
	}
	h := ff.Header
	dims := h.Dimensions("")
	lengths := h.Lengths("")
	if len(dims) != 2 {
		return nil, errors.Errorf("icephen: grid file has dimensions %v; (y, x) is required", dims)
	}
	o := NewGridFile(Grid{YDim: dims[0], XDim: dims[1], Ny: lengths[0], Nx: lengths[1]})
	for _, a := range h.Attributes("") {
		o.Attributes[a] = h.GetAttribute("", a)
	}
	if o.Grid.Y, err = readCoord(ff, dims[0], o.Grid.Ny); err != nil {
		return nil, err
	}
	if o.Grid.X, err = readCoord(ff, dims[1], o.Grid.Nx); err != nil {
		return nil, err
	}
	for _, v := range h.Variables() {
		if len(h.Dimensions(v)) != 2 {
			continue
		}
		vals, err := readValues(ff, v, nil, nil, o.Grid.Ny*o.Grid.Nx)
		if err != nil {
			return nil, err
		}
		data := sparse.ZerosDense(o.Grid.Ny, o.Grid.Nx)
		copy(data.Elements, vals)
		desc, _ := h.GetAttribute(v, "description").(string)
		units, _ := h.GetAttribute(v, "units").(string)
		fld := o.AddField(v, desc, units, data)
		for _, a := range h.Attributes(v) {
			if a == "description" || a == "units" || a == "_FillValue" {
				continue
			}
			fld.Attributes[a] = h.GetAttribute(v, a)
		}
	}
	return o, nil
}

// FileName returns the conventional output file name for r.
func (r *YearResult) FileName() string {
	return fmt.Sprintf("seaice_phases_%s_%d.nc", r.Product.Name, r.Year)
}

// VarName returns the output variable name of phase in year.
func VarName(phase string, year int) string {
	return fmt.Sprintf("%s_%d", phase, year)
}

// GridFile converts r to a GridFile carrying the provenance of the run.
func (r *YearResult) GridFile() *GridFile {
	p := r.Product
	f := NewGridFile(r.Grid)
	f.Attributes["description"] = fmt.Sprintf("%s %s | THRESHOLD=%v, WINDOW=%d, Year=%d",
		p.Name, strings.Join(p.PhaseNames(), " & "), p.Threshold, p.RunLength, r.Year)
	f.Attributes["product"] = p.Name
	if p.Title != "" {
		f.Attributes["title"] = p.Title
	}
	f.Attributes["source_variable"] = p.Variable
	f.Attributes["threshold"] = []float64{p.Threshold}
	f.Attributes["run_length"] = []int32{int32(p.RunLength)}
	f.Attributes["min_samples"] = []int32{int32(p.MinSamples)}
	f.Attributes["year"] = []int32{int32(r.Year)}
	f.Attributes["units_convention"] = p.Units.String()
	f.Attributes["created"] = r.Created.Format("2006-01-02T15:04:05Z07:00")
	f.Attributes["software_version"] = "icephen " + Version
	for _, ord := range p.Ordering {
		f.Attributes["ordering_violations_"+ord.Before+"_"+ord.After] =
			[]int32{int32(r.OrderingViolations[ord.String()])}
	}

	for _, pg := range r.Phases {
		w := pg.Window
		desc := w.Description
		if desc == "" {
			desc = w.Name + " day of year"
		}
		fld := f.AddField(VarName(w.Name, r.Year), desc, "day of year", pg.Data)
		fld.Attributes["phase"] = w.Name
		fld.Attributes["direction"] = w.Direction.String()
		fld.Attributes["search"] = w.Search.String()
		start, end := w.Bounds(r.Year)
		first, last := w.DayRange(r.Year)
		fld.Attributes["window_start"] = start.Format("2006-01-02")
		fld.Attributes["window_end"] = end.AddDate(0, 0, -1).Format("2006-01-02")
		fld.Attributes["window_start_doy"] = []int32{int32(first)}
		fld.Attributes["window_end_doy"] = []int32{int32(last)}
		fld.Attributes["events"] = []int32{int32(r.Stats.Events[w.Name])}
	}
	cls := f.AddField(VarName("pixel_class", r.Year), "surface class of each pixel", "1", r.Classes)
	cls.Attributes["flag_values"] = []int32{int32(Valid), int32(Land), int32(OpenWater), int32(NoData)}
	cls.Attributes["flag_meanings"] = pixelClassMeanings
	return f
}

// Write writes r to w in NetCDF format.
func (r *YearResult) Write(w *os.File) error {
	return r.GridFile().Write(w)
}
