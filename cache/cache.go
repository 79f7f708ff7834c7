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

// Package cache persists normalized datasets as date-stamped CSV files and
// resolves whether a fresh enough capture already exists. The cache
// directory is assumed to belong to a single process; there is no locking.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/orbitwatch/discosweb/schema"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

const (
	fileExt   = ".csv"
	dateStamp = "2006-01-02"
)

// fileDate extracts the capture date stamp from a cache file name. The last
// match wins, in case the dataset name itself ever contains digits.
var fileDate = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Store manages the cache directory of one catalog.
type Store struct {
	dir string
	now func() time.Time // overridden in tests
}

// NewStore creates a Store over the given directory. The directory is
// created lazily on the first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// entry is one dated cache file candidate.
type entry struct {
	path string
	age  time.Duration
}

// candidates lists the dataset's cache files ordered by increasing age.
// Files without a parseable date stamp are reported and skipped.
func (s *Store) candidates(ctx context.Context, name schema.Name) ([]entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Annotate(err, "failed to list cache directory '%s'", s.dir)
	}
	prefix := string(name) + "_"
	var entries []entry
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), prefix) {
			continue
		}
		matches := fileDate.FindAllString(f.Name(), -1)
		if len(matches) == 0 {
			logging.Warningf(ctx, "ignoring cache file without a date stamp: %s", f.Name())
			continue
		}
		captured, err := time.Parse(dateStamp, matches[len(matches)-1])
		if err != nil {
			logging.Warningf(ctx, "ignoring cache file '%s': %s", f.Name(), err.Error())
			continue
		}
		entries = append(entries, entry{
			path: filepath.Join(s.dir, f.Name()),
			age:  s.now().Sub(captured),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].age < entries[j].age })
	return entries, nil
}

// Resolve returns the dataset's most recent cached capture aged strictly
// less than maxAge, or nil on a miss. Unreadable candidates are reported and
// skipped in favor of the next freshest one; they never abort the lookup.
func (s *Store) Resolve(ctx context.Context, name schema.Name, maxAge time.Duration) (*schema.Dataset, error) {
	entries, err := s.candidates(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.age >= maxAge {
			break
		}
		ds, err := s.load(name, e.path)
		if err != nil {
			logging.Warningf(ctx, "skipping unreadable cache file '%s': %s",
				e.path, err.Error())
			continue
		}
		logging.Infof(ctx, "read %d rows of %s from %s", len(ds.Rows), name, e.path)
		return ds, nil
	}
	logging.Infof(ctx, "no recent cache file for %s", name)
	return nil, nil
}

func (s *Store) load(name schema.Name, path string) (*schema.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open '%s'", path)
	}
	defer f.Close()
	ds, err := schema.ReadCSV(name, f)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read '%s'", path)
	}
	return ds, nil
}

// Store writes the dataset to a new file stamped with the current date and
// returns its path. Files of prior capture dates are never touched.
func (s *Store) Store(ctx context.Context, ds *schema.Dataset) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", errors.Annotate(err, "failed to create cache directory '%s'", s.dir)
	}
	path := filepath.Join(s.dir,
		string(ds.Name)+"_"+s.now().Format(dateStamp)+fileExt)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", errors.Annotate(err, "failed to open '%s' for writing", path)
	}
	defer f.Close()
	if err := ds.WriteCSV(f); err != nil {
		return "", errors.Annotate(err, "failed to write '%s'", path)
	}
	logging.Infof(ctx, "wrote %d rows of %s to %s", len(ds.Rows), ds.Name, path)
	return path, nil
}

// Prune removes all but the keep most recent dated captures of the dataset.
// It is an explicit policy, never invoked by Resolve or Store.
func (s *Store) Prune(ctx context.Context, name schema.Name, keep int) error {
	if keep < 1 {
		return errors.Reason("keep = %d must be >= 1", keep)
	}
	entries, err := s.candidates(ctx, name)
	if err != nil {
		return err
	}
	for _, e := range entries[min(keep, len(entries)):] {
		if err := os.Remove(e.path); err != nil {
			return errors.Annotate(err, "failed to remove '%s'", e.path)
		}
		logging.Infof(ctx, "pruned stale cache file %s", e.path)
	}
	return nil
}

func min(x, y int) int {
	if x < y {
		return x
	}
	return y
}
