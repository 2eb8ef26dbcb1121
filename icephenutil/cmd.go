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

// Package icephenutil contains the IcePhen command-line interface and the
// drivers behind it: multi-year detection runs, downstream statistics and
// run reports.
package icephenutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/icephen/icephen"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	statsFlags := []*pflag.FlagSet{climatologyCmd.Flags(), anomalyCmd.Flags(), trendCmd.Flags(), durationCmd.Flags()}

	// Options are the configuration options available to IcePhen.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log_level",
			usage: `
              log_level is the minimum level of log messages to print:
              debug, info, warn or error. Pixels without usable data are
              reported at debug level.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log_format",
			usage: `
              log_format is either text or json.`,
			defaultVal: "text",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "profiles",
			usage: `
              profiles is the location of a TOML file of [[product]]
              profiles to use in addition to the built-in SMMR and AMSRE
              profiles. It may be a local path or a blob URL.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "product",
			usage: `
              product is the name of the product profile describing the
              input: its variable name, unit convention, threshold and
              phase windows.`,
			shorthand:  "p",
			defaultVal: "SMMR",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "phase_set",
			usage: `
              phase_set replaces the product's phases with a predefined set:
              advance-retreat, unified (early_melt, retreat, advance,
              late_freeze) or annual (freeze_start, melt_start, melt_end).
              Leave empty to use the phases of the profile.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), profilesCmd.Flags()},
		},
		{
			name: "input",
			usage: `
              input is the NetCDF file of daily sea-ice concentration. It
              may be a local path, an http(s) URL or a blob URL such as
              gs://bucket/file.nc. Environment variables are expanded.`,
			shorthand:  "i",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "output_dir",
			usage: `
              output_dir is the directory or blob prefix where one
              seaice_phases_<PRODUCT>_<year>.nc file per year is written.`,
			shorthand:  "o",
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "start_year",
			usage: `
              start_year is the first processing year. Zero means the first
              year in the input.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "end_year",
			usage: `
              end_year is the last processing year (inclusive). Zero means
              the last year in the input.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "workers",
			usage: `
              workers is the number of grid rows processed concurrently.
              Zero uses every available CPU.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "progress",
			usage: `
              progress specifies whether to show a progress bar over the
              processing years.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ledger",
			usage: `
              ledger is the path of a SQLite database where runs, output
              files and skipped years are recorded. Leave empty to
              disable the ledger.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), reportCmd.Flags()},
		},
		{
			name: "metrics_file",
			usage: `
              metrics_file is the path of a Prometheus text file to which
              run metrics are written when the run ends, for collection by
              the node exporter textfile collector.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "phase",
			usage: `
              phase is the name of the phase to compute statistics for.`,
			defaultVal: "retreat",
			flagsets:   []*pflag.FlagSet{climatologyCmd.Flags(), anomalyCmd.Flags(), trendCmd.Flags()},
		},
		{
			name: "advance_phase",
			usage: `
              advance_phase is the phase that starts the ice season.`,
			defaultVal: "advance",
			flagsets:   []*pflag.FlagSet{durationCmd.Flags()},
		},
		{
			name: "retreat_phase",
			usage: `
              retreat_phase is the phase that ends the ice season.`,
			defaultVal: "retreat",
			flagsets:   []*pflag.FlagSet{durationCmd.Flags()},
		},
		{
			name: "cutoff",
			usage: `
              cutoff is a day of year below which 365 is added to phase
              dates before they are combined, so that seasons crossing the
              new year are averaged correctly. Zero disables unwrapping.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{climatologyCmd.Flags(), anomalyCmd.Flags(), trendCmd.Flags()},
		},
		{
			name: "climatology",
			usage: `
              climatology is the file written by 'stats climatology' that
              anomalies are computed against.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "tolerance",
			usage: `
              tolerance is the number of days an anomaly may differ from
              zero and still be classified as on time. The default of 5
              days matches the usual ±5 day phase assessment.`,
			defaultVal: 5.0,
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "min_valid_fraction",
			usage: `
              min_valid_fraction is the fraction of years a pixel must have
              a valid date in for its trend to be computed.`,
			defaultVal: 0.7,
			flagsets:   []*pflag.FlagSet{trendCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output is the NetCDF file (local path or blob URL) that
              statistics are written to.`,
			defaultVal: "",
			flagsets:   statsFlags,
		},
		{
			name: "run",
			usage: `
              run is the ID of the run to report on. Leave empty to list
              every run.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{reportCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("ICEPHEN")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
			case int:
				set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(profilesCmd)
	Root.AddCommand(statsCmd)
	statsCmd.AddCommand(climatologyCmd)
	statsCmd.AddCommand(anomalyCmd)
	statsCmd.AddCommand(trendCmd)
	statsCmd.AddCommand(durationCmd)
	Root.AddCommand(reportCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return errors.Wrap(err, "icephen: problem reading configuration file")
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "icephen",
	Short: "Sea-ice phenology event detection.",
	Long: `IcePhen finds the days of year on which sea ice advances and retreats
(and, optionally, when melt and freeze begin) in gridded daily sea-ice
concentration records, writing one map per phase and year.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'ICEPHEN_var' where 'var' is the
name of the variable to be set.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of IcePhen.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("IcePhen v%s\n", icephen.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect phenology events.",
	Long: `run detects the configured phases for every year of the input record
and writes one NetCDF file of day-of-year maps per year. Years whose data
do not cover the calendar year or a phase window with at least the
product's min_samples timestamps are skipped with a warning.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(Cfg.GetString("log_level"), Cfg.GetString("log_format"), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		p, err := resolveProduct(ctx, Cfg.GetString("product"),
			os.ExpandEnv(Cfg.GetString("profiles")), Cfg.GetString("phase_set"))
		if err != nil {
			return err
		}
		input, err := checkInput(Cfg.GetString("input"))
		if err != nil {
			return err
		}
		outputDir, err := checkOutputDir(ctx, Cfg.GetString("output_dir"))
		if err != nil {
			return err
		}
		startYear, endYear, err := checkYears(Cfg.Get("start_year"), Cfg.Get("end_year"))
		if err != nil {
			return err
		}
		rc := &RunConfig{
			Product:     p,
			Input:       input,
			OutputDir:   outputDir,
			StartYear:   startYear,
			EndYear:     endYear,
			Workers:     Cfg.GetInt("workers"),
			LedgerPath:  os.ExpandEnv(Cfg.GetString("ledger")),
			MetricsFile: os.ExpandEnv(Cfg.GetString("metrics_file")),
			Log:         log,
		}
		if Cfg.GetBool("progress") {
			rc.Progress = cmd.ErrOrStderr()
		}
		s, err := Run(ctx, rc)
		if err != nil {
			return err
		}
		cmd.Printf("wrote %d files, skipped %d years\n", len(s.Written), len(s.Skipped))
		return nil
	},
	DisableAutoGenTag: true,
}

var profilesCmd = &cobra.Command{
	Use:   "profiles [name...]",
	Short: "Print product profiles.",
	Long: `profiles prints the named product profiles, or all built-in and
configured profiles, in the TOML format accepted by the 'profiles'
configuration option.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := os.ExpandEnv(Cfg.GetString("profiles"))
		set := Cfg.GetString("phase_set")
		var products []*icephen.Product
		if len(args) == 0 {
			loaded, err := loadProfiles(ctx, path)
			if err != nil {
				return err
			}
			for _, p := range append(icephen.BuiltinProducts(), loaded...) {
				args = append(args, p.Name)
			}
			args = uniqueFold(args)
		}
		for _, name := range args {
			p, err := resolveProduct(ctx, name, path, set)
			if err != nil {
				return err
			}
			products = append(products, p)
		}
		return icephen.EncodeProducts(cmd.OutOrStdout(), products)
	},
	DisableAutoGenTag: true,
}

// uniqueFold removes case-insensitive duplicates from names, keeping the
// last occurrence so that configured profiles shadow built-in ones.
func uniqueFold(names []string) []string {
	var o []string
	for i, n := range names {
		dup := false
		for _, later := range names[i+1:] {
			if strings.EqualFold(n, later) {
				dup = true
				break
			}
		}
		if !dup {
			o = append(o, n)
		}
	}
	return o
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Compute statistics of phase maps.",
	Long: `stats combines the per-year files written by 'run' into climatologies,
anomalies, trends and ice-season durations. Use the subcommands specified
below to choose a statistic. Inputs may be local paths, blob URLs, or blob
directories ending in '/', which are expanded to every .nc file in them.`,
	DisableAutoGenTag: true,
}

var climatologyCmd = &cobra.Command{
	Use:   "climatology file...",
	Short: "Per-pixel mean, standard deviation and count of a phase.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsCommand(cmd, args, func(s *statsRun) error {
			return s.climatology(Cfg.GetString("phase"), Cfg.GetFloat64("cutoff"))
		})
	},
	DisableAutoGenTag: true,
}

var anomalyCmd = &cobra.Command{
	Use:   "anomaly file...",
	Short: "Per-year anomalies of a phase against a climatology.",
	Long: `anomaly subtracts the climatological mean of a phase from each year's
map and classifies each pixel as ahead (-1), on time (0) or behind (1).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsCommand(cmd, args, func(s *statsRun) error {
			return s.anomaly(Cfg.GetString("phase"), os.ExpandEnv(Cfg.GetString("climatology")),
				Cfg.GetFloat64("cutoff"), Cfg.GetFloat64("tolerance"))
		})
	},
	DisableAutoGenTag: true,
}

var trendCmd = &cobra.Command{
	Use:   "trend file...",
	Short: "Per-pixel linear trend of a phase in days per year.",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsCommand(cmd, args, func(s *statsRun) error {
			frac, err := cast.ToFloat64E(Cfg.Get("min_valid_fraction"))
			if err != nil || frac < 0 || frac > 1 {
				return errors.Errorf("icephen: min_valid_fraction must be between 0 and 1, not %v", Cfg.Get("min_valid_fraction"))
			}
			return s.trend(Cfg.GetString("phase"), Cfg.GetFloat64("cutoff"), frac)
		})
	},
	DisableAutoGenTag: true,
}

var durationCmd = &cobra.Command{
	Use:   "duration file...",
	Short: "Ice-season duration of each year.",
	Long: `duration computes retreat minus advance day for every pixel and year
where both exist and the difference is positive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsCommand(cmd, args, func(s *statsRun) error {
			return s.duration(Cfg.GetString("advance_phase"), Cfg.GetString("retreat_phase"))
		})
	},
	DisableAutoGenTag: true,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize runs recorded in a ledger.",
	Long: `report lists the runs recorded in the ledger database, or, when a run
ID is given, the files that run wrote and the years it skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := os.ExpandEnv(Cfg.GetString("ledger"))
		if path == "" {
			return fmt.Errorf("icephen: the ledger configuration variable must be set")
		}
		return Report(cmd.Context(), path, Cfg.GetString("run"), cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}
