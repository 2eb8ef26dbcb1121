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
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MonthDay is a day of the calendar written "MM-DD" in profiles. February
// 29 falls back to February 28 in common years.
type MonthDay struct {
	Month time.Month
	Day   int
}

// ParseMonthDay parses s in "MM-DD" form.
func ParseMonthDay(s string) (MonthDay, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return MonthDay{}, fmt.Errorf("icephen: invalid date %q; it must be in MM-DD form", s)
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil {
		return MonthDay{}, fmt.Errorf("icephen: invalid month in %q", s)
	}
	d, err := strconv.Atoi(parts[1])
	if err != nil {
		return MonthDay{}, fmt.Errorf("icephen: invalid day in %q", s)
	}
	md := MonthDay{Month: time.Month(m), Day: d}
	if !md.valid() {
		return MonthDay{}, fmt.Errorf("icephen: %q is not a day of the calendar", s)
	}
	return md, nil
}

func (d MonthDay) String() string { return fmt.Sprintf("%02d-%02d", int(d.Month), d.Day) }

// MarshalText implements encoding.TextMarshaler.
func (d MonthDay) MarshalText() ([]byte, error) {
	if !d.valid() {
		return nil, fmt.Errorf("icephen: invalid date %d-%d", int(d.Month), d.Day)
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *MonthDay) UnmarshalText(b []byte) error {
	md, err := ParseMonthDay(string(b))
	if err != nil {
		return err
	}
	*d = md
	return nil
}

func (d MonthDay) valid() bool {
	if d.Month < time.January || d.Month > time.December || d.Day < 1 {
		return false
	}
	return d.Day <= daysInMonth(2000, d.Month)
}

// In returns midnight UTC of d in year, with the day clamped to the
// length of the month.
func (d MonthDay) In(year int) time.Time {
	day := d.Day
	if n := daysInMonth(year, d.Month); day > n {
		day = n
	}
	return time.Date(year, d.Month, day, 0, 0, 0, 0, time.UTC)
}

func (d MonthDay) before(o MonthDay) bool {
	return d.Month < o.Month || (d.Month == o.Month && d.Day < o.Day)
}

func daysInMonth(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// PhaseWindow defines the seasonal search window of one phenology phase.
// A window is given either as calendar dates (StartDate, EndDate) or as
// 1-based days of year (StartDOY, EndDOY), both relative to the processing
// year Y. Calendar dates take precedence and keep their month and day in
// leap years. When the end precedes the start the window wraps into year
// Y+1.
type PhaseWindow struct {
	// Name identifies the phase in output variable names, e.g. "retreat".
	Name string `toml:"name"`

	// Description is free text copied into the output metadata.
	Description string `toml:"description,omitempty"`

	Direction Direction `toml:"direction"`
	Search    Search    `toml:"search"`

	StartDate *MonthDay `toml:"start_date,omitempty"`
	EndDate   *MonthDay `toml:"end_date,omitempty"`

	StartDOY int `toml:"start_doy,omitzero"`
	EndDOY   int `toml:"end_doy,omitzero"`

	// RequireIce, when true, means a pixel only has an event in this window
	// if at least one sample in the window is strictly above the threshold.
	RequireIce bool `toml:"require_ice"`
}

var phaseNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks that the window definition is usable.
func (w PhaseWindow) Validate(product string) error {
	if !phaseNameRE.MatchString(w.Name) {
		return configErrorf(product, "phase name",
			"%q must start with a lower-case letter and contain only lower-case letters, digits and underscores", w.Name)
	}
	if w.Direction != Rising && w.Direction != Falling {
		return configErrorf(product, w.Name+".direction", "invalid direction %d", int(w.Direction))
	}
	if w.Search != First && w.Search != Last {
		return configErrorf(product, w.Name+".search", "invalid search %d", int(w.Search))
	}
	if (w.StartDate == nil) != (w.EndDate == nil) {
		return configErrorf(product, w.Name+".start_date", "start_date and end_date must be given together")
	}
	if w.StartDate != nil {
		if !w.StartDate.valid() {
			return configErrorf(product, w.Name+".start_date", "%d-%d is not a day of the calendar", int(w.StartDate.Month), w.StartDate.Day)
		}
		if !w.EndDate.valid() {
			return configErrorf(product, w.Name+".end_date", "%d-%d is not a day of the calendar", int(w.EndDate.Month), w.EndDate.Day)
		}
		return nil
	}
	if w.StartDOY < 1 || w.StartDOY > 366 {
		return configErrorf(product, w.Name+".start_doy", "%d is outside 1..366", w.StartDOY)
	}
	if w.EndDOY < 1 || w.EndDOY > 366 {
		return configErrorf(product, w.Name+".end_doy", "%d is outside 1..366", w.EndDOY)
	}
	return nil
}

// Wraps reports whether the window crosses into the following year.
func (w PhaseWindow) Wraps() bool {
	if w.StartDate != nil && w.EndDate != nil {
		return w.EndDate.before(*w.StartDate)
	}
	return w.EndDOY < w.StartDOY
}

// Bounds returns the absolute time range [start, end) that the window
// covers for processing year year. The end day is inclusive, so end is
// midnight of the day after it. Day numbers past the end of their year
// are clamped to the last day of that year.
func (w PhaseWindow) Bounds(year int) (start, end time.Time) {
	endYear := year
	if w.Wraps() {
		endYear = year + 1
	}
	if w.StartDate != nil && w.EndDate != nil {
		return w.StartDate.In(year), w.EndDate.In(endYear).AddDate(0, 0, 1)
	}
	start = dayOf(year, w.StartDOY)
	end = dayOf(endYear, w.EndDOY).AddDate(0, 0, 1)
	return start, end
}

// DayRange returns the day-of-year numbers of the first and last days of
// the window for processing year year, each counted within its own
// calendar year.
func (w PhaseWindow) DayRange(year int) (first, last int) {
	start, end := w.Bounds(year)
	end = end.AddDate(0, 0, -1)
	return start.YearDay(), end.YearDay()
}

// dayOf returns midnight UTC of day doy of year, clamping doy to the
// length of the year.
func dayOf(year, doy int) time.Time {
	if n := daysIn(year); doy > n {
		doy = n
	}
	return time.Date(year, time.January, doy, 0, 0, 0, 0, time.UTC)
}

// DayOfYear returns the day number of t counted from January 1 of year,
// which is day 1. Dates in later years continue the count, so January 2
// of the year after a 365-day year is day 367.
func DayOfYear(t time.Time, year int) int {
	t = t.UTC()
	doy := t.YearDay()
	for y := year; y < t.Year(); y++ {
		doy += daysIn(y)
	}
	for y := t.Year(); y < year; y++ {
		doy -= daysIn(y)
	}
	return doy
}

func daysIn(year int) int {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
}

// calendarYear returns the bounds of calendar year year.
func calendarYear(year int) (start, end time.Time) {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC)
}
