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
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/icephen/icephen"
	"github.com/icephen/icephen/cloud"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

// statsRun holds the inputs and output of one stats subcommand.
type statsRun struct {
	ctx   context.Context
	log   logrus.FieldLogger
	files []string // local copies of the inputs
	tmp   string

	// out is the file the statistics are written to.
	out *icephen.GridFile
}

// statsCommand fetches the input files named in args, runs f, and writes
// the file f produces to the output location.
func statsCommand(cmd *cobra.Command, args []string, f func(*statsRun) error) error {
	log, err := newLogger(Cfg.GetString("log_level"), Cfg.GetString("log_format"), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	output := os.ExpandEnv(Cfg.GetString("output"))
	if output == "" {
		return fmt.Errorf(`you need to specify an output file (for example: output="climatology.nc")`)
	}
	ctx := cmd.Context()
	tmp, err := os.MkdirTemp("", "icephen")
	if err != nil {
		return errors.Wrap(err, "icephen: creating temporary directory")
	}
	defer os.RemoveAll(tmp)

	s := &statsRun{ctx: ctx, log: log, tmp: tmp}
	paths, err := expandInputs(ctx, args)
	if err != nil {
		return err
	}
	for _, p := range paths {
		local, err := s.fetch(p)
		if err != nil {
			return err
		}
		s.files = append(s.files, local)
	}
	if err = f(s); err != nil {
		return err
	}
	s.out.Attributes["software_version"] = "icephen " + icephen.Version
	s.out.Attributes["inputs"] = strings.Join(paths, " ")

	up := &cloud.Uploader{Log: log}
	defer up.Close()
	local, err := up.Stage(output)
	if err != nil {
		return err
	}
	if err = writeGridFile(s.out, local); err != nil {
		return err
	}
	if err = up.Flush(ctx); err != nil {
		return err
	}
	log.WithField("output", output).Info("statistics written")
	return nil
}

// expandInputs replaces blob directories (paths ending in '/') with the
// NetCDF files they contain.
func expandInputs(ctx context.Context, args []string) ([]string, error) {
	var o []string
	for _, a := range args {
		a = os.ExpandEnv(a)
		if cloud.IsBlob(a) && strings.HasSuffix(a, "/") {
			files, err := cloud.List(ctx, a, ".nc")
			if err != nil {
				return nil, err
			}
			o = append(o, files...)
			continue
		}
		o = append(o, a)
	}
	return o, nil
}

// fetch makes path available locally. Each download gets its own
// directory so that equal base names do not collide.
func (s *statsRun) fetch(path string) (string, error) {
	dir, err := os.MkdirTemp(s.tmp, "in")
	if err != nil {
		return "", errors.Wrap(err, "icephen: creating download directory")
	}
	return cloud.Fetch(s.ctx, path, dir, s.log)
}

func loadGridFile(path string) (*icephen.GridFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "icephen: opening grid file")
	}
	defer f.Close()
	gf, err := icephen.LoadGridFile(f)
	if err != nil {
		return nil, errors.Wrapf(err, "icephen: reading %s", path)
	}
	return gf, nil
}

func writeGridFile(gf *icephen.GridFile, path string) error {
	w, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "icephen: creating output file")
	}
	if err = gf.Write(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// phaseMap is one phase of one year, read from a file written by Run.
type phaseMap struct {
	year int
	grid icephen.Grid
	data *sparse.DenseArray
}

// readPhases reads the named phases from a phase file.
func readPhases(path string, phases ...string) ([]phaseMap, error) {
	gf, err := loadGridFile(path)
	if err != nil {
		return nil, err
	}
	years := cast.ToIntSlice(gf.Attributes["year"])
	if len(years) != 1 {
		return nil, errors.Errorf("icephen: %s has no year attribute; is it a phase file?", path)
	}
	o := make([]phaseMap, len(phases))
	for i, phase := range phases {
		fld, ok := gf.Fields[icephen.VarName(phase, years[0])]
		if !ok {
			return nil, errors.Errorf("icephen: %s has no %s phase for %d", path, phase, years[0])
		}
		o[i] = phaseMap{year: years[0], grid: gf.Grid, data: fld.Data}
	}
	return o, nil
}

// readPhase reads one phase from every input file, sorted by year.
func (s *statsRun) readPhase(phase string, cutoff float64) ([]phaseMap, error) {
	var o []phaseMap
	for _, f := range s.files {
		m, err := readPhases(f, phase)
		if err != nil {
			return nil, err
		}
		m[0].data = icephen.Unwrap(m[0].data, cutoff)
		o = append(o, m[0])
	}
	sort.Slice(o, func(i, j int) bool { return o[i].year < o[j].year })
	for i := 1; i < len(o); i++ {
		if o[i].year == o[i-1].year {
			return nil, errors.Errorf("icephen: more than one input holds %s for %d", phase, o[i].year)
		}
	}
	return o, nil
}

func stack(maps []phaseMap) ([]*sparse.DenseArray, []int32) {
	grids := make([]*sparse.DenseArray, len(maps))
	years := make([]int32, len(maps))
	for i, m := range maps {
		grids[i] = m.data
		years[i] = int32(m.year)
	}
	return grids, years
}

func (s *statsRun) newOutput(g icephen.Grid, description string, years []int32) {
	s.out = icephen.NewGridFile(g)
	s.out.Attributes["description"] = description
	s.out.Attributes["years"] = years
}

func (s *statsRun) climatology(phase string, cutoff float64) error {
	maps, err := s.readPhase(phase, cutoff)
	if err != nil {
		return err
	}
	grids, years := stack(maps)
	c, err := icephen.ComputeClimatology(grids)
	if err != nil {
		return err
	}
	s.newOutput(maps[0].grid, fmt.Sprintf("%s climatology %d-%d", phase, years[0], years[len(years)-1]), years)
	s.out.Attributes["phase"] = phase
	s.out.Attributes["cutoff"] = []float64{cutoff}
	s.out.AddField(phase+"_mean", phase+" mean day of year", "day of year", c.Mean)
	s.out.AddField(phase+"_std", phase+" standard deviation", "days", c.Std)
	s.out.AddField(phase+"_count", "number of years with a "+phase+" date", "years", c.Count)
	return nil
}

func (s *statsRun) anomaly(phase, climatology string, cutoff, tolerance float64) error {
	if climatology == "" {
		return fmt.Errorf(`you need to specify a climatology file (for example: climatology="retreat_climatology.nc")`)
	}
	local, err := s.fetch(climatology)
	if err != nil {
		return err
	}
	clim, err := loadGridFile(local)
	if err != nil {
		return err
	}
	mean, ok := clim.Fields[phase+"_mean"]
	if !ok {
		return errors.Errorf("icephen: %s has no %s_mean variable", climatology, phase)
	}
	maps, err := s.readPhase(phase, cutoff)
	if err != nil {
		return err
	}
	_, years := stack(maps)
	s.newOutput(maps[0].grid, fmt.Sprintf("%s anomalies against %s", phase, climatology), years)
	s.out.Attributes["phase"] = phase
	s.out.Attributes["tolerance"] = []float64{tolerance}
	for _, m := range maps {
		a, err := icephen.Anomaly(m.data, mean.Data)
		if err != nil {
			return errors.Wrapf(err, "icephen: %s anomaly for %d", phase, m.year)
		}
		s.out.AddField(fmt.Sprintf("%s_anomaly_%d", phase, m.year),
			fmt.Sprintf("%s %d minus climatological mean", phase, m.year), "days", a)
		cls := s.out.AddField(fmt.Sprintf("%s_timing_%d", phase, m.year),
			fmt.Sprintf("%s %d timing relative to climatology", phase, m.year), "1",
			icephen.Classify(a, tolerance))
		cls.Attributes["flag_values"] = []int32{icephen.Ahead, icephen.OnTime, icephen.Behind}
		cls.Attributes["flag_meanings"] = "ahead on_time behind"
	}
	return nil
}

func (s *statsRun) trend(phase string, cutoff, minValidFraction float64) error {
	maps, err := s.readPhase(phase, cutoff)
	if err != nil {
		return err
	}
	grids, years := stack(maps)
	fy := make([]float64, len(years))
	for i, y := range years {
		fy[i] = float64(y)
	}
	t, err := icephen.ComputeTrend(fy, grids, minValidFraction)
	if err != nil {
		return err
	}
	s.newOutput(maps[0].grid, fmt.Sprintf("%s trend %d-%d", phase, years[0], years[len(years)-1]), years)
	s.out.Attributes["phase"] = phase
	s.out.Attributes["min_valid_fraction"] = []float64{minValidFraction}
	s.out.AddField(phase+"_slope", phase+" trend", "days per year", t.Slope)
	s.out.AddField(phase+"_intercept", phase+" trend intercept at year 0", "day of year", t.Intercept)
	s.out.AddField(phase+"_r_squared", "coefficient of determination", "1", t.RSquared)
	s.out.AddField(phase+"_count", "number of years with a "+phase+" date", "years", t.Count)
	return nil
}

func (s *statsRun) duration(advance, retreat string) error {
	var maps [][]phaseMap
	for _, f := range s.files {
		m, err := readPhases(f, advance, retreat)
		if err != nil {
			return err
		}
		maps = append(maps, m)
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i][0].year < maps[j][0].year })
	years := make([]int32, len(maps))
	for i, m := range maps {
		years[i] = int32(m[0].year)
	}
	s.newOutput(maps[0][0].grid, fmt.Sprintf("ice season duration (%s to %s)", advance, retreat), years)
	for _, m := range maps {
		d, err := icephen.Duration(m[1].data, m[0].data)
		if err != nil {
			return errors.Wrapf(err, "icephen: duration for %d", m[0].year)
		}
		s.out.AddField(fmt.Sprintf("duration_%d", m[0].year),
			fmt.Sprintf("days from %s to %s in %d", advance, retreat, m[0].year), "days", d)
	}
	return nil
}
