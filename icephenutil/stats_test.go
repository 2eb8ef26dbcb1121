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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/icephen/icephen"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// phaseFiles runs the detector over three years of synthetic input and
// returns the phase files, in which the advance date of pixel (0, 0) is
// 121, 123 and 125.
func phaseFiles(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "smmr.nc")
	writeSMMRInput(t, input, 3)
	logger, _ := logtest.NewNullLogger()
	s, err := Run(context.Background(), &RunConfig{
		Product:   icephen.SMMR(),
		Input:     input,
		OutputDir: dir,
		Log:       logger,
	})
	require.NoError(t, err)
	require.Len(t, s.Written, 3)
	return s.Written
}

func runStats(t *testing.T, args ...string) *icephen.GridFile {
	t.Helper()
	out := filepath.Join(t.TempDir(), "stats.nc")
	Cfg.Set("output", out)
	Cfg.Set("log_level", "warn")
	Root.SetOut(&bytes.Buffer{})
	Root.SetErr(&bytes.Buffer{})
	Root.SetArgs(append([]string{"stats"}, args...))
	require.NoError(t, Root.Execute())
	gf, err := loadGridFile(out)
	require.NoError(t, err)
	return gf
}

func TestStatsCommands(t *testing.T) {
	files := phaseFiles(t)
	Cfg.Set("phase", "advance")
	Cfg.Set("cutoff", 0.0)

	clim := runStats(t, append([]string{"climatology"}, files...)...)
	assert.Equal(t, "advance climatology 2001-2003", clim.Attributes["description"])
	assert.Equal(t, []int32{2001, 2002, 2003}, clim.Attributes["years"])
	assert.InDelta(t, 123, clim.Fields["advance_mean"].Data.Get(0, 0), 1e-4)
	assert.InDelta(t, 2, clim.Fields["advance_std"].Data.Get(0, 0), 1e-4)
	assert.Equal(t, 3.0, clim.Fields["advance_count"].Data.Get(0, 0))
	assert.Equal(t, 0.0, clim.Fields["advance_count"].Data.Get(0, 1))
	assert.True(t, math.IsNaN(clim.Fields["advance_mean"].Data.Get(0, 1)))

	climPath := filepath.Join(t.TempDir(), "clim.nc")
	require.NoError(t, writeGridFile(clim, climPath))
	Cfg.Set("climatology", climPath)
	Cfg.Set("tolerance", 1.0)
	anom := runStats(t, append([]string{"anomaly"}, files...)...)
	assert.InDelta(t, -2, anom.Fields["advance_anomaly_2001"].Data.Get(0, 0), 1e-4)
	assert.Equal(t, float64(icephen.Ahead), anom.Fields["advance_timing_2001"].Data.Get(0, 0))
	assert.Equal(t, float64(icephen.OnTime), anom.Fields["advance_timing_2002"].Data.Get(0, 0))
	assert.Equal(t, float64(icephen.Behind), anom.Fields["advance_timing_2003"].Data.Get(0, 0))

	Cfg.Set("min_valid_fraction", 0.7)
	trend := runStats(t, append([]string{"trend"}, files...)...)
	assert.InDelta(t, 2, trend.Fields["advance_slope"].Data.Get(0, 0), 1e-4)
	assert.InDelta(t, 1, trend.Fields["advance_r_squared"].Data.Get(0, 0), 1e-4)
	assert.True(t, math.IsNaN(trend.Fields["advance_slope"].Data.Get(0, 1)))

	Cfg.Set("advance_phase", "advance")
	Cfg.Set("retreat_phase", "retreat")
	dur := runStats(t, append([]string{"duration"}, files...)...)
	assert.Equal(t, 214.0, dur.Fields["duration_2001"].Data.Get(0, 0))
	assert.Equal(t, 210.0, dur.Fields["duration_2003"].Data.Get(0, 0))
}

func TestStatsDefaults(t *testing.T) {
	tests := []struct {
		cmd, flag, want string
	}{
		{cmd: "anomaly", flag: "tolerance", want: "5"},
		{cmd: "trend", flag: "min_valid_fraction", want: "0.7"},
	}
	for _, test := range tests {
		c, _, err := Root.Find([]string{"stats", test.cmd})
		if err != nil {
			t.Fatal(err)
		}
		f := c.Flags().Lookup(test.flag)
		if f == nil {
			t.Fatalf("stats %s has no --%s flag", test.cmd, test.flag)
		}
		if f.DefValue != test.want {
			t.Errorf("stats %s --%s defaults to %s, want %s", test.cmd, test.flag, f.DefValue, test.want)
		}
	}
}

func TestStatsErrors(t *testing.T) {
	files := phaseFiles(t)

	Cfg.Set("phase", "late_freeze")
	Cfg.Set("output", filepath.Join(t.TempDir(), "x.nc"))
	Root.SetOut(&bytes.Buffer{})
	Root.SetErr(&bytes.Buffer{})
	Root.SetArgs(append([]string{"stats", "climatology"}, files...))
	assert.Error(t, Root.Execute(), "missing phase")

	Cfg.Set("phase", "advance")
	Root.SetArgs([]string{"stats", "climatology", files[0], files[0]})
	assert.Error(t, Root.Execute(), "repeated year")

	Cfg.Set("output", "")
	Root.SetArgs([]string{"stats", "climatology", files[0]})
	assert.Error(t, Root.Execute(), "no output")

	Cfg.Set("output", filepath.Join(t.TempDir(), "x.nc"))
	Cfg.Set("climatology", "")
	Root.SetArgs(append([]string{"stats", "anomaly"}, files...))
	assert.Error(t, Root.Execute(), "no climatology")

	Cfg.Set("min_valid_fraction", 1.5)
	Root.SetArgs(append([]string{"stats", "trend"}, files...))
	assert.Error(t, Root.Execute(), "fraction out of range")

	_, err := os.Stat(files[0])
	assert.NoError(t, err, "inputs are left in place")
}
