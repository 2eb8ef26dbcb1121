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
	"time"

	"github.com/icephen/icephen"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of a detection run.
type Metrics struct {
	Pixels             *prometheus.CounterVec // labels: class={valid,land,open_water,missing}
	Events             *prometheus.CounterVec // labels: phase
	NoEvent            *prometheus.CounterVec // labels: phase
	YearsProcessed     prometheus.Counter
	YearsSkipped       *prometheus.CounterVec // labels: phase, empty for the calendar year
	OrderingViolations *prometheus.CounterVec // labels: pair
	YearDuration       prometheus.Histogram
}

// NewMetrics creates the run metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Pixels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "icephen",
			Name:      "pixels_total",
			Help:      "Pixels processed, by surface class.",
		}, []string{"class"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "icephen",
			Name:      "events_total",
			Help:      "Valid pixels with a detected event, by phase.",
		}, []string{"phase"}),
		NoEvent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "icephen",
			Name:      "no_event_total",
			Help:      "Valid pixels without a detected event, by phase.",
		}, []string{"phase"}),
		YearsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icephen",
			Name:      "years_processed_total",
			Help:      "Years whose phase maps were written.",
		}),
		YearsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "icephen",
			Name:      "years_skipped_total",
			Help:      "Years skipped for insufficient coverage, by the phase window that lacked it.",
		}, []string{"phase"}),
		OrderingViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "icephen",
			Name:      "ordering_violations_total",
			Help:      "Pixels whose phase events occur in the wrong order, by phase pair.",
		}, []string{"pair"}),
		YearDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "icephen",
			Name:      "year_duration_seconds",
			Help:      "Time to detect and write the phases of one year.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
	}
	for _, c := range []prometheus.Collector{
		m.Pixels, m.Events, m.NoEvent, m.YearsProcessed,
		m.YearsSkipped, m.OrderingViolations, m.YearDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "icephen: registering metrics")
		}
	}
	return m, nil
}

func (m *Metrics) observeYear(r *icephen.YearResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	s := r.Stats
	m.Pixels.WithLabelValues("valid").Add(float64(s.Valid))
	m.Pixels.WithLabelValues("land").Add(float64(s.Land))
	m.Pixels.WithLabelValues("open_water").Add(float64(s.OpenWater))
	m.Pixels.WithLabelValues("missing").Add(float64(s.Missing))
	for _, pg := range r.Phases {
		name := pg.Window.Name
		m.Events.WithLabelValues(name).Add(float64(s.Events[name]))
		m.NoEvent.WithLabelValues(name).Add(float64(s.NoEvent[name]))
	}
	for pair, n := range r.OrderingViolations {
		m.OrderingViolations.WithLabelValues(pair).Add(float64(n))
	}
	m.YearsProcessed.Inc()
	m.YearDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeSkip(err *icephen.CoverageError) {
	if m == nil {
		return
	}
	m.YearsSkipped.WithLabelValues(err.Phase).Inc()
}

// writeMetrics writes the metrics gathered by g to path in the Prometheus
// text format.
func writeMetrics(path string, g prometheus.Gatherer) error {
	return errors.Wrap(prometheus.WriteToTextfile(path, g), "icephen: writing metrics file")
}
