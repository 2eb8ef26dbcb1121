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

package icephenutil

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb"
	"github.com/icephen/icephen"
	"github.com/icephen/icephen/cloud"
	"github.com/icephen/icephen/ledger"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// RunConfig holds the settings of a multi-year detection run.
type RunConfig struct {
	Product *icephen.Product

	// Input is a local path, http(s) URL or blob URL of a NetCDF file.
	Input string

	// OutputDir is a local directory or blob prefix.
	OutputDir string

	// StartYear and EndYear bound the processing years, inclusive.
	// Zero takes the first or last year of the input.
	StartYear, EndYear int

	Workers int

	// LedgerPath is an optional SQLite database recording the run.
	LedgerPath string

	// MetricsFile is an optional Prometheus text file written at the end
	// of the run.
	MetricsFile string

	// Progress, if not nil, receives a progress bar over the years.
	Progress io.Writer

	Log   logrus.FieldLogger
	Clock clockwork.Clock
}

// RunSummary describes the outcome of a run.
type RunSummary struct {
	// RunID is the ledger ID of the run, if a ledger was used.
	RunID string

	// Written holds the output locations, in year order.
	Written []string

	// Skipped holds the years without sufficient coverage.
	Skipped []int

	Metrics *Metrics
}

// Run detects rc.Product's phases for each year of rc.Input and writes one
// file per year to rc.OutputDir. Years with insufficient coverage are
// skipped; any other error ends the run.
func Run(ctx context.Context, rc *RunConfig) (s *RunSummary, err error) {
	log := rc.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	clock := rc.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	p := rc.Product
	if err := p.Validate(); err != nil {
		return nil, err
	}
	log = log.WithField("product", p.Name)

	tmp, err := os.MkdirTemp("", "icephen")
	if err != nil {
		return nil, errors.Wrap(err, "icephen: creating temporary directory")
	}
	defer os.RemoveAll(tmp)

	input, err := cloud.Fetch(ctx, rc.Input, tmp, log)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, errors.Wrap(err, "icephen: opening input")
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "icephen: opening input")
	}
	src, err := icephen.OpenNetCDF(f, fi.Size(), p)
	if err != nil {
		return nil, errors.Wrapf(err, "icephen: reading %s", rc.Input)
	}
	if d := src.Duplicates(); d > 0 {
		log.WithField("duplicates", d).Warn("dropped repeated timestamps from the input; the first record of each was kept")
	}
	years := yearRange(icephen.Years(src.Times()), rc.StartYear, rc.EndYear)
	if len(years) == 0 {
		return nil, errors.Errorf("icephen: no processing years in %s", rc.Input)
	}

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	s = &RunSummary{Metrics: metrics}

	var led *ledger.Ledger
	if rc.LedgerPath != "" {
		if led, err = ledger.Open(ctx, rc.LedgerPath); err != nil {
			return nil, err
		}
		defer led.Close()
		led.Clock = clock
		run := &ledger.Run{
			Product:   p.Name,
			Input:     rc.Input,
			Output:    rc.OutputDir,
			FirstYear: years[0],
			LastYear:  years[len(years)-1],
		}
		if err = led.BeginRun(ctx, run); err != nil {
			return nil, err
		}
		s.RunID = run.ID
		log = log.WithField("run", run.ID)
		defer func() {
			// The run context may already be canceled.
			if ferr := led.FinishRun(context.Background(), run.ID, err); ferr != nil && err == nil {
				err = ferr
			}
		}()
	}

	err = runYears(ctx, rc, src, years, s, led, log, clock)
	if rc.MetricsFile != "" {
		if werr := writeMetrics(rc.MetricsFile, reg); werr != nil && err == nil {
			err = werr
		}
	}
	return s, err
}

// yearRange returns the years from start to end inclusive, where zero
// takes the first or last of the available years.
func yearRange(available []int, start, end int) []int {
	if len(available) == 0 {
		return nil
	}
	if start == 0 {
		start = available[0]
	}
	if end == 0 {
		end = available[len(available)-1]
	}
	var o []int
	for y := start; y <= end; y++ {
		o = append(o, y)
	}
	return o
}

func runYears(ctx context.Context, rc *RunConfig, src icephen.Source, years []int, s *RunSummary,
	led *ledger.Ledger, log logrus.FieldLogger, clock clockwork.Clock) error {
	det := &icephen.Detector{Product: rc.Product, Workers: rc.Workers, Log: log, Clock: clock}
	up := &cloud.Uploader{Log: log}
	defer up.Close()

	var bar *pb.ProgressBar
	if rc.Progress != nil {
		bar = pb.New(len(years))
		bar.Output = rc.Progress
		bar.ShowTimeLeft = true
		bar.Prefix(rc.Product.Name + " ")
		bar.Start()
		defer bar.Finish()
	}

	for _, year := range years {
		start := clock.Now()
		r, err := det.DetectYear(ctx, src, year)
		var cov *icephen.CoverageError
		switch {
		case errors.As(err, &cov):
			log.WithFields(logrus.Fields{"year": year, "phase": cov.Phase}).Warn(cov.Error())
			s.Metrics.observeSkip(cov)
			if led != nil {
				if err := led.RecordSkip(ctx, s.RunID, year, cov.Phase, cov.Error()); err != nil {
					return err
				}
			}
			s.Skipped = append(s.Skipped, year)
		case err != nil:
			return err
		default:
			dst := outputPath(rc.OutputDir, r.FileName())
			if err := writeYear(ctx, up, r, dst); err != nil {
				return err
			}
			if led != nil {
				if err := led.RecordYear(ctx, s.RunID, r, dst); err != nil {
					return err
				}
			}
			s.Metrics.observeYear(r, clock.Since(start))
			s.Written = append(s.Written, dst)
		}
		if bar != nil {
			bar.Increment()
		}
	}
	return nil
}

// outputPath joins an output directory or blob prefix with a file name.
func outputPath(dir, name string) string {
	if cloud.IsBlob(dir) {
		return strings.TrimSuffix(dir, "/") + "/" + name
	}
	return filepath.Join(dir, name)
}

// writeYear writes r to dst, uploading it if dst is a blob.
func writeYear(ctx context.Context, up *cloud.Uploader, r *icephen.YearResult, dst string) error {
	local, err := up.Stage(dst)
	if err != nil {
		return err
	}
	w, err := os.Create(local)
	if err != nil {
		return errors.Wrap(err, "icephen: creating output file")
	}
	if err = r.Write(w); err != nil {
		w.Close()
		return errors.Wrapf(err, "icephen: writing %s", dst)
	}
	if err = w.Close(); err != nil {
		return errors.Wrapf(err, "icephen: closing %s", dst)
	}
	return up.Flush(ctx)
}
