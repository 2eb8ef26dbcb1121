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

	"github.com/pkg/errors"
)

// Sentinel errors for the three recoverable-or-fatal classes of failure.
// Use errors.Is to test for them.
var (
	// ErrMissingData means a pixel or season has no usable samples.
	// It is recovered locally: the result is left missing.
	ErrMissingData = errors.New("icephen: missing data")

	// ErrInsufficientCoverage means a season has fewer timestamps than the
	// minimum required. The whole year is skipped.
	ErrInsufficientCoverage = errors.New("icephen: insufficient coverage")

	// ErrConfiguration means the product configuration is inconsistent
	// with itself or with the input data. It is fatal.
	ErrConfiguration = errors.New("icephen: configuration error")
)

// ConfigurationError describes an invalid or mismatched setting.
type ConfigurationError struct {
	Product string
	Field   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Product == "" {
		return fmt.Sprintf("icephen: configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("icephen: configuration of product %s: %s: %s", e.Product, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrConfiguration) succeed.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func configErrorf(product, field, format string, args ...interface{}) error {
	return &ConfigurationError{Product: product, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CoverageError reports a season that has too few timestamps to be
// analyzed. Phase is empty when the calendar year itself is short.
type CoverageError struct {
	Year     int
	Phase    string
	Samples  int
	Required int
}

func (e *CoverageError) Error() string {
	what := "calendar year"
	if e.Phase != "" {
		what = e.Phase + " window"
	}
	return fmt.Sprintf("icephen: year %d: %s has %d timestamps, at least %d are required",
		e.Year, what, e.Samples, e.Required)
}

// Is makes errors.Is(err, ErrInsufficientCoverage) succeed.
func (e *CoverageError) Is(target error) bool { return target == ErrInsufficientCoverage }

// MissingDataError identifies a pixel without usable samples.
type MissingDataError struct {
	Year  int
	X, Y  int
	Phase string
}

func (e *MissingDataError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("icephen: year %d pixel (y=%d, x=%d): no valid samples", e.Year, e.Y, e.X)
	}
	return fmt.Sprintf("icephen: year %d pixel (y=%d, x=%d): no valid samples in %s window",
		e.Year, e.Y, e.X, e.Phase)
}

// Is makes errors.Is(err, ErrMissingData) succeed.
func (e *MissingDataError) Is(target error) bool { return target == ErrMissingData }
