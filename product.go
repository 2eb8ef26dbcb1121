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
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Units is the unit convention of a concentration variable.
type Units int

const (
	// Fraction concentrations range from 0 to 1.
	Fraction Units = iota
	// Percent concentrations range from 0 to 100.
	Percent
)

func (u Units) String() string {
	switch u {
	case Fraction:
		return "fraction"
	case Percent:
		return "percent"
	default:
		return fmt.Sprintf("Units(%d)", int(u))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (u Units) MarshalText() ([]byte, error) {
	if u != Fraction && u != Percent {
		return nil, fmt.Errorf("icephen: invalid units %d", int(u))
	}
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Units) UnmarshalText(b []byte) error {
	v, ok := parseUnits(string(b))
	if !ok {
		return fmt.Errorf("icephen: invalid units %q; they must be fraction or percent", string(b))
	}
	*u = v
	return nil
}

// parseUnits recognizes the unit strings found in configuration files
// and in NetCDF "units" attributes.
func parseUnits(s string) (Units, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fraction", "fractional", "1", "0-1":
		return Fraction, true
	case "percent", "percentage", "%", "0-100":
		return Percent, true
	}
	return 0, false
}

// PhaseOrder names two phases whose events are expected, physically, to
// occur in the given order within a year. Violations are counted and
// reported but never corrected.
type PhaseOrder struct {
	Before string `toml:"before"`
	After  string `toml:"after"`
}

func (o PhaseOrder) String() string { return o.Before + "<" + o.After }

// Product holds everything that differs between sensor products: where
// the concentration lives in the input, how to decode it, and the event
// detection parameters.
type Product struct {
	// Name is a short identifier used in output file names, e.g. "SMMR".
	Name string `toml:"name"`

	// Title is a human-readable description of the product.
	Title string `toml:"title,omitempty"`

	// Variable is the name of the concentration variable in the input.
	Variable string `toml:"variable"`

	// TimeVariable is the name of the CF time coordinate. Default "time".
	TimeVariable string `toml:"time_variable,omitempty"`

	Units     Units   `toml:"units"`
	Threshold float64 `toml:"threshold"`

	// RunLength is the number of consecutive samples that make an event.
	RunLength int `toml:"run_length"`

	// MinSamples is the smallest number of timestamps a season may have
	// before its year is skipped.
	MinSamples int `toml:"min_samples"`

	// Decoded values below ValidMin or at or above ValidMax are missing.
	ValidMin float64 `toml:"valid_min"`
	ValidMax float64 `toml:"valid_max"`

	// Scale multiplies decoded values, after any CF scale_factor and
	// add_offset, e.g. 0.1 for raw AMSR-E counts. Zero means 1.
	Scale float64 `toml:"scale,omitempty"`

	// FillValues are raw sentinel values treated as missing in addition to
	// the variable's _FillValue and missing_value attributes.
	FillValues []float64 `toml:"fill_values,omitempty"`

	Phases   []PhaseWindow `toml:"phase"`
	Ordering []PhaseOrder  `toml:"ordering,omitempty"`
}

// Validate returns a *ConfigurationError if p is inconsistent, including
// a threshold that does not match the unit convention.
func (p *Product) Validate() error {
	if p.Name == "" {
		return configErrorf("", "name", "product name is empty")
	}
	if p.Variable == "" {
		return configErrorf(p.Name, "variable", "concentration variable name is empty")
	}
	switch p.Units {
	case Fraction:
		if p.Threshold <= 0 || p.Threshold >= 1 {
			return configErrorf(p.Name, "threshold",
				"%g is not a valid threshold for fractional (0-1) concentrations", p.Threshold)
		}
		if p.ValidMax > 2 {
			return configErrorf(p.Name, "valid_max",
				"%g looks like a percent bound but the units are fraction", p.ValidMax)
		}
	case Percent:
		if p.Threshold < 1 || p.Threshold >= 100 {
			return configErrorf(p.Name, "threshold",
				"%g is not a valid threshold for percent (0-100) concentrations", p.Threshold)
		}
		if p.ValidMax <= 2 {
			return configErrorf(p.Name, "valid_max",
				"%g looks like a fractional bound but the units are percent", p.ValidMax)
		}
	default:
		return configErrorf(p.Name, "units", "invalid units %d", int(p.Units))
	}
	if !(p.ValidMin < p.Threshold && p.Threshold < p.ValidMax) {
		return configErrorf(p.Name, "threshold", "%g is not inside the valid range [%g, %g)",
			p.Threshold, p.ValidMin, p.ValidMax)
	}
	if p.Scale < 0 {
		return configErrorf(p.Name, "scale", "%g is negative", p.Scale)
	}
	if p.RunLength < 1 {
		return configErrorf(p.Name, "run_length", "%d must be at least 1", p.RunLength)
	}
	if p.MinSamples < p.RunLength {
		return configErrorf(p.Name, "min_samples", "%d is less than run_length %d", p.MinSamples, p.RunLength)
	}
	if len(p.Phases) == 0 {
		return configErrorf(p.Name, "phase", "no phases are defined")
	}
	seen := make(map[string]bool)
	for _, w := range p.Phases {
		if err := w.Validate(p.Name); err != nil {
			return err
		}
		if seen[w.Name] {
			return configErrorf(p.Name, "phase", "phase %q is defined more than once", w.Name)
		}
		seen[w.Name] = true
	}
	for _, o := range p.Ordering {
		if !seen[o.Before] || !seen[o.After] {
			return configErrorf(p.Name, "ordering", "%s refers to an undefined phase", o)
		}
	}
	return nil
}

// scale returns the effective product scale.
func (p *Product) scale() float64 {
	if p.Scale == 0 {
		return 1
	}
	return p.Scale
}

func (p *Product) timeVariable() string {
	if p.TimeVariable == "" {
		return "time"
	}
	return p.TimeVariable
}

// Phase returns the phase window with the given name.
func (p *Product) Phase(name string) (PhaseWindow, bool) {
	for _, w := range p.Phases {
		if w.Name == name {
			return w, true
		}
	}
	return PhaseWindow{}, false
}

// PhaseNames returns the names of p's phases in order.
func (p *Product) PhaseNames() []string {
	o := make([]string, len(p.Phases))
	for i, w := range p.Phases {
		o[i] = w.Name
	}
	return o
}

// Copy returns a deep copy of p.
func (p *Product) Copy() *Product {
	o := *p
	o.FillValues = append([]float64(nil), p.FillValues...)
	o.Phases = append([]PhaseWindow(nil), p.Phases...)
	o.Ordering = append([]PhaseOrder(nil), p.Ordering...)
	return &o
}

// Phase set names accepted by WithPhaseSet.
const (
	PhaseSetAdvanceRetreat = "advance-retreat"
	PhaseSetUnified        = "unified"
	PhaseSetAnnual         = "annual"
)

// WithPhaseSet returns a copy of p whose phases are replaced by the named
// set. The advance-retreat and unified sets reuse p's "advance" and
// "retreat" windows; an empty set name returns p's phases unchanged.
func (p *Product) WithPhaseSet(set string) (*Product, error) {
	o := p.Copy()
	switch set {
	case "":
		return o, nil
	case PhaseSetAdvanceRetreat, PhaseSetUnified:
		adv, okA := p.Phase("advance")
		ret, okR := p.Phase("retreat")
		if !okA || !okR {
			return nil, configErrorf(p.Name, "phase set",
				"%s requires the product to define advance and retreat windows", set)
		}
		if set == PhaseSetAdvanceRetreat {
			o.Phases = []PhaseWindow{adv, ret}
			o.Ordering = nil
			return o, nil
		}
		o.Phases = []PhaseWindow{
			{
				Name:        "early_melt",
				Description: "first sustained drop below threshold during winter and early spring",
				Direction:   Falling,
				StartDate:   &MonthDay{time.July, 1},
				EndDate:     &MonthDay{time.September, 30},
				RequireIce:  true,
			},
			ret,
			adv,
			{
				Name:        "late_freeze",
				Description: "first sustained rise above threshold after the main advance window",
				Direction:   Rising,
				StartDate:   &MonthDay{time.September, 16},
				EndDate:     &MonthDay{time.December, 31},
			},
		}
		o.Ordering = []PhaseOrder{
			{Before: "early_melt", After: "retreat"},
			{Before: "advance", After: "late_freeze"},
		}
		return o, nil
	case PhaseSetAnnual:
		o.Phases = []PhaseWindow{
			{
				Name:        "freeze_start",
				Description: "first sustained rise above threshold in the calendar year",
				Direction:   Rising,
				StartDate:   &MonthDay{time.January, 1},
				EndDate:     &MonthDay{time.December, 31},
			},
			{
				Name:        "melt_start",
				Description: "first sustained drop below threshold in the calendar year",
				Direction:   Falling,
				StartDate:   &MonthDay{time.January, 1},
				EndDate:     &MonthDay{time.December, 31},
				RequireIce:  true,
			},
			{
				Name:        "melt_end",
				Description: "last day of the latest sustained period below threshold in the calendar year",
				Direction:   Falling,
				Search:      Last,
				StartDate:   &MonthDay{time.January, 1},
				EndDate:     &MonthDay{time.December, 31},
			},
		}
		o.Ordering = []PhaseOrder{{Before: "melt_start", After: "melt_end"}}
		return o, nil
	default:
		return nil, configErrorf(p.Name, "phase set", "unknown phase set %q; it must be one of %s, %s, %s",
			set, PhaseSetAdvanceRetreat, PhaseSetUnified, PhaseSetAnnual)
	}
}

// SMMR returns the built-in profile for the SMMR-era bootstrap record,
// whose concentrations are fractions.
func SMMR() *Product {
	return &Product{
		Name:         "SMMR",
		Title:        "SMMR/bootstrap daily sea-ice concentration",
		Variable:     "N07_ICECON",
		TimeVariable: "time",
		Units:        Fraction,
		Threshold:    0.15,
		RunLength:    5,
		MinSamples:   60,
		ValidMin:     0,
		ValidMax:     1.1,
		Phases: []PhaseWindow{
			{
				Name:        "advance",
				Description: "first sustained rise above threshold (freeze onset)",
				Direction:   Rising,
				StartDate:   &MonthDay{time.February, 1},
				EndDate:     &MonthDay{time.September, 15},
			},
			{
				Name:        "retreat",
				Description: "first sustained drop below threshold (melt onset)",
				Direction:   Falling,
				StartDate:   &MonthDay{time.August, 15},
				EndDate:     &MonthDay{time.February, 29}, // Y+1
				RequireIce:  true,
			},
		},
	}
}

// AMSRE returns the built-in profile for the AMSR-E 12.5 km Southern
// Hemisphere record, whose concentrations are percentages.
func AMSRE() *Product {
	return &Product{
		Name:         "AMSRE",
		Title:        "AMSR-E 12.5 km daily sea-ice concentration",
		Variable:     "SI_12km_SH_ICECON_DAY_SpPolarGrid12km",
		TimeVariable: "time",
		Units:        Percent,
		Threshold:    15,
		RunLength:    5,
		MinSamples:   60,
		ValidMin:     0,
		ValidMax:     110,
		Phases: []PhaseWindow{
			{
				Name:        "advance",
				Description: "first sustained rise above threshold (freeze onset)",
				Direction:   Rising,
				StartDate:   &MonthDay{time.March, 25},
				EndDate:     &MonthDay{time.September, 15},
			},
			{
				Name:        "retreat",
				Description: "first sustained drop below threshold (melt onset)",
				Direction:   Falling,
				StartDate:   &MonthDay{time.August, 25},
				EndDate:     &MonthDay{time.February, 29}, // Y+1
				RequireIce:  true,
			},
		},
	}
}

// BuiltinProducts returns fresh copies of the built-in product profiles.
func BuiltinProducts() []*Product {
	return []*Product{SMMR(), AMSRE()}
}

// LookupProduct returns a copy of the product named name, searching
// profiles first and then the built-in products. Names are matched
// case-insensitively.
func LookupProduct(name string, profiles []*Product) (*Product, error) {
	for _, set := range [][]*Product{profiles, BuiltinProducts()} {
		for _, p := range set {
			if strings.EqualFold(p.Name, name) {
				return p.Copy(), nil
			}
		}
	}
	return nil, configErrorf(name, "product", "no product profile named %q", name)
}

type productFile struct {
	Product []*Product `toml:"product"`
}

// LoadProducts reads product profiles in TOML format from r, filling
// in defaults for unset fields and validating each profile.
func LoadProducts(r io.Reader) ([]*Product, error) {
	var f productFile
	if _, err := toml.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "icephen: decoding product profiles")
	}
	for _, p := range f.Product {
		if p.TimeVariable == "" {
			p.TimeVariable = "time"
		}
		if p.RunLength == 0 {
			p.RunLength = 5
		}
		if p.MinSamples == 0 {
			p.MinSamples = 60
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Product, nil
}

// EncodeProducts writes products to w in the format read by LoadProducts.
func EncodeProducts(w io.Writer, products []*Product) error {
	if err := toml.NewEncoder(w).Encode(productFile{Product: products}); err != nil {
		return errors.Wrap(err, "icephen: encoding product profiles")
	}
	return nil
}
