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
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/icephen/icephen/ledger"
)

// Report writes a summary of the runs in the ledger at path to w. If runID
// is not empty, it instead lists the output files and skipped years of
// that run.
func Report(ctx context.Context, path, runID string, w io.Writer) error {
	l, err := ledger.Open(ctx, path)
	if err != nil {
		return err
	}
	defer l.Close()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if runID == "" {
		runs, err := l.Runs(ctx, "")
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "RUN\tPRODUCT\tYEARS\tSTATUS\tSTARTED\tDURATION")
		for _, r := range runs {
			dur := "-"
			if !r.Finished.IsZero() {
				dur = r.Finished.Sub(r.Started).Round(time.Second).String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%d-%d\t%s\t%s\t%s\n", r.ID, r.Product, r.FirstYear, r.LastYear,
				r.Status, r.Started.Format(time.RFC3339), dur)
		}
		return tw.Flush()
	}

	r, err := l.Run(ctx, runID)
	if err != nil {
		return err
	}
	outs, err := l.Outputs(ctx, runID)
	if err != nil {
		return err
	}
	skips, err := l.Skips(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "run %s: %s %d-%d, %s (icephen %s)\n", r.ID, r.Product, r.FirstYear, r.LastYear,
		r.Status, r.Version)
	if r.Message != "" {
		fmt.Fprintf(w, "error: %s\n", r.Message)
	}
	fmt.Fprintln(tw, "YEAR\tVALID\tLAND\tOPEN WATER\tMISSING\tEVENTS\tORDERING\tPATH")
	for _, o := range outs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n", o.Year, o.Valid, o.Land, o.OpenWater,
			o.Missing, counts(o.Events), counts(o.Violations), o.Path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range skips {
		fmt.Fprintf(w, "%d  skipped: %s\n", s.Year, s.Reason)
	}
	return nil
}

// counts formats a map of counts as "a=1 b=2", sorted by key.
func counts(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}
