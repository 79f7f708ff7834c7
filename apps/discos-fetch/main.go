// Copyright 2024 OrbitWatch

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command discos-fetch downloads DISCOS datasets into a local CSV cache and
// optionally prints them.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orbitwatch/discosweb/catalog"
	"github.com/orbitwatch/discosweb/schema"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	toml "github.com/pelletier/go-toml/v2"
)

type Flags struct {
	CacheDir string // default: ~/.discos
	Datasets []schema.Name
	LogLevel logging.Level
	MaxAge   time.Duration // 0 = use the configured max_age_days
	Show     int           // rows to print as text; 0 = none
	CSV      bool          // print the full dataset as CSV
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("discos-fetch", flag.ExitOnError)
	fs.StringVar(&flags.CacheDir, "cache",
		filepath.Join(os.Getenv("HOME"), ".discos"),
		"cache directory with config.toml")
	var db string
	fs.StringVar(&db, "db", "", "comma-separated datasets to fetch")
	var all bool
	fs.BoolVar(&all, "all", false, "fetch all datasets")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")
	fs.DurationVar(&flags.MaxAge, "max-age", 0,
		"accept cached data up to this age, e.g. 48h; default: config max_age_days")
	fs.IntVar(&flags.Show, "show", 0, "print up to this many rows as text")
	fs.BoolVar(&flags.CSV, "csv", false, "print the full dataset as CSV")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if all && db != "" {
		return nil, errors.Reason("-db and -all are mutually exclusive")
	}
	if all {
		flags.Datasets = schema.AllNames()
		return &flags, nil
	}
	if db == "" {
		return nil, errors.Reason("missing required -db or -all argument")
	}
	for _, s := range strings.Split(db, ",") {
		name, err := schema.ParseName(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		flags.Datasets = append(flags.Datasets, name)
	}
	if flags.CSV && len(flags.Datasets) != 1 {
		return nil, errors.Reason("-csv requires exactly one dataset")
	}
	return &flags, nil
}

func parseConfig(dir string) (*catalog.Config, error) {
	filePath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sample := `token = "YourSecretDiscoswebToken"
data_dir = "esa_data"
max_age_days = 365
`
			err = errors.Annotate(err,
				"config file '%s' does not exist.\nPlease create config file containing:\n%s",
				filePath, sample)
			return nil, err
		} else {
			return nil, errors.Annotate(err,
				"cannot check config file for existence: '%s'", filePath)
		}
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", filePath)
	}
	defer f.Close()

	d := toml.NewDecoder(f)
	var c catalog.Config
	if err := d.Decode(&c); err != nil {
		return nil, errors.Annotate(err, "failed to read config file %s", filePath)
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(dir, "esa_data")
	} else if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(dir, c.DataDir)
	}
	return &c, nil
}

func run(ctx context.Context, flags *Flags, w io.Writer) error {
	config, err := parseConfig(flags.CacheDir)
	if err != nil {
		return errors.Annotate(err, "failed to parse config")
	}
	cat, err := catalog.New(*config)
	if err != nil {
		return errors.Annotate(err, "failed to create catalog")
	}
	maxAge := flags.MaxAge
	if maxAge == 0 {
		maxAge = cat.MaxAge()
	}
	for _, name := range flags.Datasets {
		ds, err := cat.Get(ctx, name, maxAge)
		if err != nil {
			return errors.Annotate(err, "failed to get %s", name)
		}
		if flags.CSV {
			if err := ds.WriteCSV(w); err != nil {
				return errors.Annotate(err, "failed to print CSV")
			}
			continue
		}
		if flags.Show > 0 {
			if err := ds.WriteText(w, flags.Show); err != nil {
				return errors.Annotate(err, "failed to print text")
			}
		}
	}
	return nil
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := run(ctx, flags, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
