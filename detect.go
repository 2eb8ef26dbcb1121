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
	"context"
	"math"
	"runtime"
	"time"

	"github.com/ctessum/sparse"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Detector computes phase maps for one product.
type Detector struct {
	Product *Product

	// Workers is the maximum number of grid rows processed concurrently.
	// Zero means GOMAXPROCS.
	Workers int

	// Log receives pixel and year skip messages. If nil, the logrus
	// standard logger is used.
	Log logrus.FieldLogger

	// Clock stamps results with their creation time. If nil, the wall
	// clock is used.
	Clock clockwork.Clock
}

// PhaseGrid is the day-of-year map of one phase. Data has dimensions
// (y, x) and holds NaN where there is no event.
type PhaseGrid struct {
	Window PhaseWindow
	Data   *sparse.DenseArray
}

// PixelStats summarizes how the pixels of one year were handled.
type PixelStats struct {
	Pixels, Valid, Land, OpenWater, Missing int

	// Events, NoEvent and MissingWindow count, per phase name, valid
	// pixels with an event, without one, and with an all-missing window.
	Events, NoEvent, MissingWindow map[string]int
}

// YearResult holds the phase maps of one product and processing year.
type YearResult struct {
	Product *Product
	Year    int
	Grid    Grid
	Phases  []*PhaseGrid

	// Classes holds the PixelClass of each pixel, dimensions (y, x).
	Classes *sparse.DenseArray

	Stats PixelStats

	// OrderingViolations counts, per PhaseOrder string, the pixels where
	// both phases have events and they occur in the wrong order.
	OrderingViolations map[string]int

	Created time.Time
}

// Phase returns the grid of the named phase, or nil.
func (r *YearResult) Phase(name string) *PhaseGrid {
	for _, pg := range r.Phases {
		if pg.Window.Name == name {
			return pg
		}
	}
	return nil
}

func (d *Detector) logger() logrus.FieldLogger {
	if d.Log == nil {
		return logrus.StandardLogger()
	}
	return d.Log
}

func (d *Detector) clock() clockwork.Clock {
	if d.Clock == nil {
		return clockwork.NewRealClock()
	}
	return d.Clock
}

func (d *Detector) workers() int {
	if d.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return d.Workers
}

type span struct{ lo, hi int }

// rowCounts holds the statistics of one grid row.
type rowCounts struct {
	classes                        [4]int
	events, noEvent, missingWindow []int
}

// DetectYear computes every phase of d.Product for processing year year.
//
// It returns a *CoverageError, which satisfies
// errors.Is(err, ErrInsufficientCoverage), when the calendar year or any
// phase window holds fewer than Product.MinSamples timestamps; callers are
// expected to skip the year. Pixels without usable samples are logged and
// left missing.
func (d *Detector) DetectYear(ctx context.Context, src Source, year int) (*YearResult, error) {
	p := d.Product
	if err := p.Validate(); err != nil {
		return nil, err
	}
	log := d.logger().WithFields(logrus.Fields{"product": p.Name, "year": year})
	start := d.clock().Now()

	times := src.Times()
	aStart, aEnd := calendarYear(year)
	annual := span{}
	annual.lo, annual.hi = timeRange(times, aStart, aEnd)
	if n := annual.hi - annual.lo; n < p.MinSamples {
		return nil, &CoverageError{Year: year, Samples: n, Required: p.MinSamples}
	}
	lo, hi := annual.lo, annual.hi
	spans := make([]span, len(p.Phases))
	for k, w := range p.Phases {
		s, e := w.Bounds(year)
		spans[k].lo, spans[k].hi = timeRange(times, s, e)
		if n := spans[k].hi - spans[k].lo; n < p.MinSamples {
			return nil, &CoverageError{Year: year, Phase: w.Name, Samples: n, Required: p.MinSamples}
		}
		if spans[k].lo < lo {
			lo = spans[k].lo
		}
		if spans[k].hi > hi {
			hi = spans[k].hi
		}
	}

	cube, err := src.Read(lo, hi)
	if err != nil {
		return nil, errors.Wrapf(err, "icephen: loading year %d", year)
	}
	// Shift the spans to be relative to the cube.
	annual.lo, annual.hi = annual.lo-lo, annual.hi-lo
	for k := range spans {
		spans[k].lo, spans[k].hi = spans[k].lo-lo, spans[k].hi-lo
	}

	g := src.Grid()
	r := &YearResult{
		Product: p,
		Year:    year,
		Grid:    g,
		Classes: sparse.ZerosDense(g.Ny, g.Nx),
	}
	for _, w := range p.Phases {
		data := sparse.ZerosDense(g.Ny, g.Nx)
		for i := range data.Elements {
			data.Elements[i] = math.NaN()
		}
		r.Phases = append(r.Phases, &PhaseGrid{Window: w, Data: data})
	}

	rows := make([]rowCounts, g.Ny)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.workers())
	for j := 0; j < g.Ny; j++ {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			rows[j] = d.scanRow(cube, r, j, annual, spans, log)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrapf(err, "icephen: processing year %d", year)
	}

	r.Stats = mergeCounts(rows, p.Phases, g.Ny*g.Nx)
	r.OrderingViolations = checkOrdering(r)
	r.Created = d.clock().Now().UTC()

	for pair, n := range r.OrderingViolations {
		if n > 0 {
			log.WithFields(logrus.Fields{"ordering": pair, "pixels": n}).
				Warn("phase events occur in a physically inconsistent order")
		}
	}
	log.WithFields(logrus.Fields{
		"valid":      r.Stats.Valid,
		"land":       r.Stats.Land,
		"open_water": r.Stats.OpenWater,
		"missing":    r.Stats.Missing,
		"elapsed":    d.clock().Since(start).String(),
	}).Info("year processed")
	return r, nil
}

// scanRow fills row j of every phase grid in r. It only writes cells in
// row j.
func (d *Detector) scanRow(cube *Cube, r *YearResult, j int, annual span, spans []span, log logrus.FieldLogger) rowCounts {
	p := d.Product
	nx := r.Grid.Nx
	rc := rowCounts{
		events:        make([]int, len(p.Phases)),
		noEvent:       make([]int, len(p.Phases)),
		missingWindow: make([]int, len(p.Phases)),
	}
	var annualBuf, series []float64
	for i := 0; i < nx; i++ {
		annualBuf = cube.pixel(j, i, annual.lo, annual.hi, annualBuf)
		p.maskInvalid(annualBuf)
		class := ClassifyPixel(annualBuf, p.Threshold)
		r.Classes.Elements[j*nx+i] = float64(class)
		rc.classes[class]++
		switch class {
		case NoData:
			log.WithFields(logrus.Fields{"x": i, "y": j}).Debug(
				&MissingDataError{Year: r.Year, X: i, Y: j})
			continue
		case Land, OpenWater:
			continue
		}
		for k, w := range p.Phases {
			series = cube.pixel(j, i, spans[k].lo, spans[k].hi, series)
			p.maskInvalid(series)
			if allMissing(series) {
				rc.missingWindow[k]++
				log.WithFields(logrus.Fields{"x": i, "y": j, "phase": w.Name}).Debug(
					&MissingDataError{Year: r.Year, X: i, Y: j, Phase: w.Name})
				continue
			}
			if w.RequireIce && !anyAbove(series, p.Threshold) {
				rc.noEvent[k]++
				continue
			}
			idx, ok := findEvent(series, p.Threshold, p.RunLength, w.Direction, w.Search)
			if !ok {
				rc.noEvent[k]++
				continue
			}
			t := cube.Times[spans[k].lo+idx]
			r.Phases[k].Data.Elements[j*nx+i] = float64(DayOfYear(t, r.Year))
			rc.events[k]++
		}
	}
	return rc
}

// maskInvalid replaces values outside [ValidMin, ValidMax) with NaN.
func (p *Product) maskInvalid(values []float64) {
	for i, v := range values {
		if v < p.ValidMin || v >= p.ValidMax {
			values[i] = math.NaN()
		}
	}
}

func mergeCounts(rows []rowCounts, phases []PhaseWindow, pixels int) PixelStats {
	s := PixelStats{
		Pixels:        pixels,
		Events:        make(map[string]int),
		NoEvent:       make(map[string]int),
		MissingWindow: make(map[string]int),
	}
	for _, rc := range rows {
		s.Valid += rc.classes[Valid]
		s.Land += rc.classes[Land]
		s.OpenWater += rc.classes[OpenWater]
		s.Missing += rc.classes[NoData]
		for k, w := range phases {
			s.Events[w.Name] += rc.events[k]
			s.NoEvent[w.Name] += rc.noEvent[k]
			s.MissingWindow[w.Name] += rc.missingWindow[k]
		}
	}
	return s
}

// checkOrdering counts the pixels that violate each ordering pair of the
// product. Only pixels where both phases have an event are considered.
func checkOrdering(r *YearResult) map[string]int {
	o := make(map[string]int)
	for _, ord := range r.Product.Ordering {
		before, after := r.Phase(ord.Before), r.Phase(ord.After)
		if before == nil || after == nil {
			continue
		}
		n := 0
		for i, b := range before.Data.Elements {
			a := after.Data.Elements[i]
			if !math.IsNaN(a) && !math.IsNaN(b) && b > a {
				n++
			}
		}
		o[ord.String()] = n
	}
	return o
}
