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
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/icephen/icephen"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err, "metrics are registered once per registry")

	p := icephen.SMMR()
	r := &icephen.YearResult{
		Product: p,
		Year:    2001,
		Stats: icephen.PixelStats{
			Valid: 3, Land: 4, OpenWater: 5, Missing: 6,
			Events:  map[string]int{"advance": 2, "retreat": 1},
			NoEvent: map[string]int{"advance": 1, "retreat": 2},
		},
		OrderingViolations: map[string]int{"advance<retreat": 1},
	}
	for _, w := range p.Phases {
		r.Phases = append(r.Phases, &icephen.PhaseGrid{Window: w, Data: sparse.ZerosDense(1, 1)})
	}
	m.observeYear(r, 2*time.Second)
	m.observeSkip(&icephen.CoverageError{Year: 2002, Phase: "retreat", Samples: 3, Required: 60})

	assert.Equal(t, 4.0, testutil.ToFloat64(m.Pixels.WithLabelValues("land")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NoEvent.WithLabelValues("retreat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderingViolations.WithLabelValues("advance<retreat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.YearsSkipped.WithLabelValues("retreat")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.YearDuration))

	var nilMetrics *Metrics
	nilMetrics.observeYear(r, time.Second)

	path := filepath.Join(t.TempDir(), "icephen.prom")
	require.NoError(t, writeMetrics(path, reg))
	n, err := testutil.GatherAndCount(reg, "icephen_years_processed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
