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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/icephen/icephen"
	"github.com/icephen/icephen/cloud"
	"github.com/icephen/icephen/ledger"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// writeSMMRInput writes nYears of daily SMMR concentrations starting in
// 2001 on a 1x2 grid. Pixel (0, 0) is ice covered from May 1 (shifted two
// days later every year) through Nov 30; pixel (0, 1) is always above the
// threshold and so is classified as land.
func writeSMMRInput(t *testing.T, path string, nYears int) {
	t.Helper()
	end := time.Date(2001+nYears, time.January, 1, 0, 0, 0, 0, time.UTC)
	nt := int(end.Sub(epoch).Hours() / 24)

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	h := cdf.NewHeader([]string{"time", "y", "x"}, []int{nt, 1, 2})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "days since 2001-01-01")
	h.AddVariable("x", []string{"x"}, []float64{0})
	h.AddVariable("N07_ICECON", []string{"time", "y", "x"}, []float32{0})
	h.AddAttribute("N07_ICECON", "units", "1")
	h.Define()

	ff, err := cdf.Create(f, h)
	require.NoError(t, err)
	days := make([]float64, nt)
	vals := make([]float32, nt*2)
	for k := range days {
		days[k] = float64(k)
		d := epoch.AddDate(0, 0, k)
		freeze := time.Date(d.Year(), time.May, 1+2*(d.Year()-2001), 0, 0, 0, 0, time.UTC)
		melt := time.Date(d.Year(), time.December, 1, 0, 0, 0, 0, time.UTC)
		vals[2*k] = 0.05
		if !d.Before(freeze) && d.Before(melt) {
			vals[2*k] = 0.8
		}
		vals[2*k+1] = 0.95
	}
	_, err = ff.Writer("time", []int{0}, []int{nt}).Write(days)
	require.NoError(t, err)
	_, err = ff.Writer("x", []int{0}, []int{2}).Write([]float64{-100, 100})
	require.NoError(t, err)
	_, err = ff.Writer("N07_ICECON", []int{0, 0, 0}, []int{nt, 1, 2}).Write(vals)
	require.NoError(t, err)
	require.NoError(t, cdf.UpdateNumRecs(f))
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "smmr.nc")
	writeSMMRInput(t, input, 2)
	out := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(out, 0o755))
	logger, hook := logtest.NewNullLogger()
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC))

	var progress bytes.Buffer
	s, err := Run(ctx, &RunConfig{
		Product:     icephen.SMMR(),
		Input:       input,
		OutputDir:   out,
		StartYear:   2000,
		EndYear:     2002,
		Workers:     1,
		LedgerPath:  filepath.Join(dir, "ledger.db"),
		MetricsFile: filepath.Join(dir, "icephen.prom"),
		Progress:    &progress,
		Log:         logger,
		Clock:       clock,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2000}, s.Skipped)
	assert.Equal(t, []string{
		filepath.Join(out, "seaice_phases_SMMR_2001.nc"),
		filepath.Join(out, "seaice_phases_SMMR_2002.nc"),
	}, s.Written)
	assert.NotEmpty(t, s.RunID)

	gf, err := loadGridFile(s.Written[1])
	require.NoError(t, err)
	assert.Equal(t, 123.0, gf.Fields["advance_2002"].Data.Get(0, 0))
	assert.Equal(t, 335.0, gf.Fields["retreat_2002"].Data.Get(0, 0))
	assert.Equal(t, float64(icephen.Land), gf.Fields["pixel_class_2002"].Data.Get(0, 1))
	assert.Equal(t, []float64{-100, 100}, gf.Grid.X)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.Metrics.YearsProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.YearsSkipped.WithLabelValues("")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.Metrics.Pixels.WithLabelValues("land")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.Metrics.Events.WithLabelValues("retreat")))
	prom, err := os.ReadFile(filepath.Join(dir, "icephen.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "icephen_years_processed_total 2")

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["year"] == 2000 {
			warned = true
		}
	}
	assert.True(t, warned, "skipped year is logged at warn")

	l, err := ledger.Open(ctx, filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer l.Close()
	run, err := l.Run(ctx, s.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusComplete, run.Status)
	assert.Equal(t, 2000, run.FirstYear)
	outs, err := l.Outputs(ctx, s.RunID)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, 1, outs[0].Valid)
	skips, err := l.Skips(ctx, s.RunID)
	require.NoError(t, err)
	require.Len(t, skips, 1)
	assert.Equal(t, 2000, skips[0].Year)
}

func TestRunConfigurationError(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "smmr.nc")
	writeSMMRInput(t, input, 1)
	logger, _ := logtest.NewNullLogger()

	_, err := Run(context.Background(), &RunConfig{
		Product:   icephen.AMSRE(),
		Input:     input,
		OutputDir: dir,
		Log:       logger,
	})
	assert.ErrorIs(t, err, icephen.ErrConfiguration)

	p := icephen.SMMR()
	p.Threshold = 2
	_, err = Run(context.Background(), &RunConfig{Product: p, Input: input, OutputDir: dir, Log: logger})
	assert.ErrorIs(t, err, icephen.ErrConfiguration)
}

func TestRunCommandBlob(t *testing.T) {
	ctx := context.Background()
	t.Chdir(t.TempDir())
	require.NoError(t, os.Mkdir("bkt", 0o755))
	writeSMMRInput(t, "smmr.nc", 1)
	data, err := os.ReadFile("smmr.nc")
	require.NoError(t, err)
	require.NoError(t, cloud.WriteBlob(ctx, "file://bkt/in/smmr.nc", data))

	Cfg.Set("product", "smmr")
	Cfg.Set("phase_set", "")
	Cfg.Set("input", "file://bkt/in/smmr.nc")
	Cfg.Set("output_dir", "file://bkt/phases/")
	Cfg.Set("start_year", 0)
	Cfg.Set("end_year", 0)
	Cfg.Set("progress", false)
	Cfg.Set("ledger", "")
	Cfg.Set("metrics_file", "")
	Cfg.Set("log_level", "warn")
	var stdout bytes.Buffer
	Root.SetOut(&stdout)
	Root.SetErr(&bytes.Buffer{})
	Root.SetArgs([]string{"run"})
	require.NoError(t, Root.Execute())
	assert.Equal(t, "wrote 1 files, skipped 0 years\n", stdout.String())

	files, err := cloud.List(ctx, "file://bkt/phases/", ".nc")
	require.NoError(t, err)
	assert.Equal(t, []string{"file://bkt/phases/seaice_phases_SMMR_2001.nc"}, files)
}

func TestYearRange(t *testing.T) {
	assert.Equal(t, []int{2001, 2002, 2003}, yearRange([]int{2001, 2003}, 0, 0))
	assert.Equal(t, []int{1999, 2000, 2001}, yearRange([]int{2001, 2003}, 1999, 2001))
	assert.Nil(t, yearRange(nil, 0, 0))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "gs://b/out/a.nc", outputPath("gs://b/out/", "a.nc"))
	assert.Equal(t, "gs://b/out/a.nc", outputPath("gs://b/out", "a.nc"))
	assert.True(t, strings.HasSuffix(outputPath("out", "a.nc"), filepath.Join("out", "a.nc")))
}
