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
	"io"
	"os"
	"strings"

	"github.com/icephen/icephen"
	"github.com/icephen/icephen/cloud"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// newLogger returns a logger writing to w at the given level, formatted
// as "text" or "json".
func newLogger(level, format string, w io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.Out = w
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "icephen: log_level")
	}
	log.SetLevel(lvl)
	switch strings.ToLower(format) {
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("icephen: log_format must be text or json, not %q", format)
	}
	return log, nil
}

// loadProfiles reads product profiles from path, which may be a local
// file or a blob. An empty path returns no profiles.
func loadProfiles(ctx context.Context, path string) ([]*icephen.Product, error) {
	if path == "" {
		return nil, nil
	}
	var r io.Reader
	if cloud.IsBlob(path) {
		b, err := cloud.ReadBlob(ctx, path)
		if err != nil {
			return nil, errors.Wrap(err, "icephen: reading product profiles")
		}
		r = bytes.NewReader(b)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "icephen: reading product profiles")
		}
		defer f.Close()
		r = f
	}
	return icephen.LoadProducts(r)
}

// resolveProduct looks up the product called name among the profiles in
// profilesPath and the built-in profiles, applies phaseSet, and validates
// the result.
func resolveProduct(ctx context.Context, name, profilesPath, phaseSet string) (*icephen.Product, error) {
	if name == "" {
		return nil, errors.Wrap(icephen.ErrConfiguration, "you need to specify a product (for example: product=\"SMMR\")")
	}
	profiles, err := loadProfiles(ctx, profilesPath)
	if err != nil {
		return nil, err
	}
	p, err := icephen.LookupProduct(name, profiles)
	if err != nil {
		return nil, err
	}
	if p, err = p.WithPhaseSet(phaseSet); err != nil {
		return nil, err
	}
	return p, p.Validate()
}

// checkInput makes sure that the input file is specified, and expands
// any environment variables.
func checkInput(f string) (string, error) {
	f = os.ExpandEnv(f)
	if f == "" {
		return "", errors.Wrap(icephen.ErrConfiguration,
			`you need to specify an input file (for example: input="seaice_conc_daily.nc")`)
	}
	return f, nil
}

// checkOutputDir makes sure that the output directory exists, and expands
// any environment variables.
func checkOutputDir(ctx context.Context, dir string) (string, error) {
	dir = os.ExpandEnv(dir)
	if dir == "" {
		dir = "."
	}
	if cloud.IsBlob(dir) {
		b, err := cloud.OpenBucket(ctx, dir)
		if err != nil {
			return dir, errors.Wrap(err, "icephen: error when checking output_dir location")
		}
		return dir, b.Close()
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return dir, errors.Wrap(err, "icephen: the output_dir directory doesn't exist")
	}
	if !fi.IsDir() {
		return dir, errors.Errorf("icephen: output_dir %s is not a directory", dir)
	}
	return dir, nil
}

// checkYears converts the start and end years and makes sure they are in
// order. Zero leaves an end of the range open.
func checkYears(start, end interface{}) (int, int, error) {
	s, err := cast.ToIntE(start)
	if err != nil {
		return 0, 0, errors.Wrap(err, "icephen: start_year")
	}
	e, err := cast.ToIntE(end)
	if err != nil {
		return 0, 0, errors.Wrap(err, "icephen: end_year")
	}
	if s < 0 || e < 0 {
		return 0, 0, errors.Errorf("icephen: years must not be negative (start_year=%d, end_year=%d)", s, e)
	}
	if s != 0 && e != 0 && e < s {
		return 0, 0, errors.Errorf("icephen: end_year %d is before start_year %d", e, s)
	}
	return s, e, nil
}
