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

// Package icephen detects sea-ice phenology events (advance, retreat, melt
// and freeze onsets) in gridded passive-microwave sea-ice concentration
// records.
//
// For every pixel and every year, the concentration series is restricted to
// a seasonal search window and scanned for the first run of consecutive
// samples that cross a concentration threshold. The result is a day-of-year
// map per (year, phase).
package icephen

import (
	"fmt"
	"strings"
)

// Version gives the version number.
const Version = "1.2.0"

// Direction specifies which side of the threshold a sample must be on
// to count toward an event.
type Direction int

const (
	// Rising events require values strictly above the threshold.
	Rising Direction = iota
	// Falling events require values strictly below the threshold.
	Falling
)

// crosses reports whether v is strictly on the event side of threshold.
// NaN never crosses.
func (d Direction) crosses(v, threshold float64) bool {
	if d == Rising {
		return v > threshold
	}
	return v < threshold
}

func (d Direction) String() string {
	switch d {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	if d != Rising && d != Falling {
		return nil, fmt.Errorf("icephen: invalid direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "rising", "advance", "freeze":
		*d = Rising
	case "falling", "retreat", "melt":
		*d = Falling
	default:
		return fmt.Errorf("icephen: invalid direction %q; it must be rising or falling", string(b))
	}
	return nil
}

// Search specifies whether the earliest or the latest run in a window
// is reported.
type Search int

const (
	// First reports the first sample of the earliest qualifying run.
	First Search = iota
	// Last reports the last sample of the latest qualifying run.
	Last
)

func (s Search) String() string {
	switch s {
	case First:
		return "first"
	case Last:
		return "last"
	default:
		return fmt.Sprintf("Search(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Search) MarshalText() ([]byte, error) {
	if s != First && s != Last {
		return nil, fmt.Errorf("icephen: invalid search %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Search) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "first", "":
		*s = First
	case "last":
		*s = Last
	default:
		return fmt.Errorf("icephen: invalid search %q; it must be first or last", string(b))
	}
	return nil
}

// FindFirstEvent returns the index of the first sample of the earliest run
// of runLength consecutive values that are all strictly above (Rising) or
// strictly below (Falling) threshold. Runs are counted by index adjacency;
// missing (NaN) values break a run. ok is false when there is no such run,
// which includes series shorter than runLength and all-missing series.
// values is not modified.
func FindFirstEvent(values []float64, threshold float64, runLength int, dir Direction) (index int, ok bool) {
	if runLength < 1 || len(values) < runLength {
		return -1, false
	}
	run := 0
	for i, v := range values {
		if !dir.crosses(v, threshold) {
			run = 0
			continue
		}
		run++
		if run == runLength {
			return i - runLength + 1, true
		}
	}
	return -1, false
}

// FindLastEvent is the mirror of FindFirstEvent: it returns the index of
// the last sample of the latest run of runLength consecutive qualifying
// values.
func FindLastEvent(values []float64, threshold float64, runLength int, dir Direction) (index int, ok bool) {
	if runLength < 1 || len(values) < runLength {
		return -1, false
	}
	run := 0
	for i := len(values) - 1; i >= 0; i-- {
		if !dir.crosses(values[i], threshold) {
			run = 0
			continue
		}
		run++
		if run == runLength {
			return i + runLength - 1, true
		}
	}
	return -1, false
}

// findEvent dispatches on s.
func findEvent(values []float64, threshold float64, runLength int, dir Direction, s Search) (int, bool) {
	if s == Last {
		return FindLastEvent(values, threshold, runLength, dir)
	}
	return FindFirstEvent(values, threshold, runLength, dir)
}
