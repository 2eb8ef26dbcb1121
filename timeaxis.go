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
	"sort"
	"time"
)

// normalizeTimes sorts the raw time axis and drops repeated instants.
// It returns the strictly increasing axis and, for each entry, the raw
// record it came from. When an instant is repeated the earliest record wins.
func normalizeTimes(raw []time.Time) (times []time.Time, records []int, dropped int) {
	idx := make([]int, len(raw))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return raw[idx[a]].Before(raw[idx[b]]) })

	times = make([]time.Time, 0, len(raw))
	records = make([]int, 0, len(raw))
	for _, r := range idx {
		t := raw[r].UTC()
		if n := len(times); n > 0 && t.Equal(times[n-1]) {
			dropped++
			continue
		}
		times = append(times, t)
		records = append(records, r)
	}
	return times, records, dropped
}

// timeRange returns the index range [lo, hi) of the entries of the sorted
// axis times that fall within [start, end).
func timeRange(times []time.Time, start, end time.Time) (lo, hi int) {
	lo = sort.Search(len(times), func(i int) bool { return !times[i].Before(start) })
	hi = sort.Search(len(times), func(i int) bool { return !times[i].Before(end) })
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Years returns the distinct calendar years present in the sorted axis
// times, in increasing order.
func Years(times []time.Time) []int {
	var years []int
	for _, t := range times {
		y := t.UTC().Year()
		if n := len(years); n == 0 || years[n-1] != y {
			years = append(years, y)
		}
	}
	return years
}
