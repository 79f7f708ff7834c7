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

package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orbitwatch/discosweb/schema"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStore(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_cache")
	defer os.RemoveAll(tmpdir)

	Convey("Test setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	ctx := context.Background()
	// All ages below are relative to this fixed "today".
	today := time.Date(2020, 6, 10, 15, 0, 0, 0, time.UTC)

	newStore := func(subdir string) *Store {
		s := NewStore(filepath.Join(tmpdir, subdir))
		s.now = func() time.Time { return today }
		return s
	}

	dataset := func(id string) *schema.Dataset {
		return &schema.Dataset{
			Name:    schema.Reentries,
			Columns: []string{"ReentryId", "Epoch"},
			Rows: [][]schema.Value{
				{schema.String(id), schema.Time(
					time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC))},
			},
		}
	}

	writeFile := func(s *Store, name, content string) {
		So(os.MkdirAll(s.dir, 0755), ShouldBeNil)
		So(os.WriteFile(filepath.Join(s.dir, name), []byte(content), 0644),
			ShouldBeNil)
	}

	storeOn := func(s *Store, day time.Time, ds *schema.Dataset) string {
		saved := s.now
		s.now = func() time.Time { return day }
		path, err := s.Store(ctx, ds)
		s.now = saved
		So(err, ShouldBeNil)
		return path
	}

	Convey("Store and Resolve round-trip", t, func() {
		s := newStore("roundtrip")
		ds := dataset("5")
		path, err := s.Store(ctx, ds)
		So(err, ShouldBeNil)
		So(filepath.Base(path), ShouldEqual, "reentries_2020-06-10.csv")

		ds2, err := s.Resolve(ctx, schema.Reentries, 365*24*time.Hour)
		So(err, ShouldBeNil)
		So(ds2, ShouldResemble, ds)

		Convey("storing again the same day overwrites in place", func() {
			path2, err := s.Store(ctx, dataset("6"))
			So(err, ShouldBeNil)
			So(path2, ShouldEqual, path)
			ds3, err := s.Resolve(ctx, schema.Reentries, 365*24*time.Hour)
			So(err, ShouldBeNil)
			So(ds3.Rows[0][0], ShouldResemble, schema.String("6"))
		})
	})

	Convey("Resolve works correctly", t, func() {
		Convey("missing directory is a cache miss", func() {
			s := newStore("does-not-exist")
			ds, err := s.Resolve(ctx, schema.Reentries, 24*time.Hour)
			So(err, ShouldBeNil)
			So(ds, ShouldBeNil)
		})

		Convey("picks the most recent capture under maxAge", func() {
			s := newStore("freshest")
			storeOn(s, today.AddDate(0, 0, -20), dataset("old"))
			storeOn(s, today.AddDate(0, 0, -3), dataset("recent"))
			ds, err := s.Resolve(ctx, schema.Reentries, 10*24*time.Hour)
			So(err, ShouldBeNil)
			So(ds.Rows[0][0], ShouldResemble, schema.String("recent"))
		})

		Convey("a capture aged exactly maxAge is stale", func() {
			s := newStore("boundary")
			storeOn(s, today.AddDate(0, 0, -2), dataset("boundary"))
			// The capture date parses to midnight, so its age at 15:00 two
			// days later is 2d15h.
			ds, err := s.Resolve(ctx, schema.Reentries, 2*24*time.Hour+15*time.Hour)
			So(err, ShouldBeNil)
			So(ds, ShouldBeNil)
			ds, err = s.Resolve(ctx, schema.Reentries, 2*24*time.Hour+15*time.Hour+time.Second)
			So(err, ShouldBeNil)
			So(ds, ShouldNotBeNil)
		})

		Convey("files without a date stamp are ignored", func() {
			s := newStore("stampless")
			writeFile(s, "reentries_backup.csv", "ReentryId,Epoch\n9,\n")
			ds, err := s.Resolve(ctx, schema.Reentries, 24*time.Hour)
			So(err, ShouldBeNil)
			So(ds, ShouldBeNil)
		})

		Convey("other datasets' files are ignored", func() {
			s := newStore("other")
			storeOn(s, today, dataset("5"))
			ds, err := s.Resolve(ctx, schema.Launches, 24*time.Hour)
			So(err, ShouldBeNil)
			So(ds, ShouldBeNil)
		})

		Convey("a malformed candidate falls back to the next freshest", func() {
			s := newStore("malformed")
			storeOn(s, today.AddDate(0, 0, -3), dataset("good"))
			writeFile(s, "reentries_2020-06-09.csv", "ReentryId,Epoch\n5,bogus\n")
			ds, err := s.Resolve(ctx, schema.Reentries, 10*24*time.Hour)
			So(err, ShouldBeNil)
			So(ds.Rows[0][0], ShouldResemble, schema.String("good"))
		})
	})

	Convey("Prune works correctly", t, func() {
		s := newStore("prune")
		writeFile(s, "reentries_backup.csv", "ReentryId,Epoch\n9,\n")
		var paths []string
		for days := 4; days >= 0; days-- {
			paths = append(paths,
				storeOn(s, today.AddDate(0, 0, -days), dataset("5")))
		}
		storeOn(s, today, &schema.Dataset{
			Name: schema.Launches, Columns: []string{"LaunchId"}})

		So(s.Prune(ctx, schema.Reentries, 2), ShouldBeNil)

		Convey("only the newest captures remain", func() {
			for _, path := range paths[:3] {
				_, err := os.Stat(path)
				So(os.IsNotExist(err), ShouldBeTrue)
			}
			for _, path := range paths[3:] {
				_, err := os.Stat(path)
				So(err, ShouldBeNil)
			}
		})

		Convey("stampless and other datasets' files are untouched", func() {
			_, err := os.Stat(filepath.Join(s.dir, "reentries_backup.csv"))
			So(err, ShouldBeNil)
			_, err = os.Stat(filepath.Join(s.dir, "launches_2020-06-10.csv"))
			So(err, ShouldBeNil)
		})

		Convey("keep must be positive", func() {
			So(s.Prune(ctx, schema.Reentries, 0), ShouldNotBeNil)
		})
	})
}
