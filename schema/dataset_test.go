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

package schema

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/orbitwatch/discosweb/discos"

	. "github.com/smartystreets/goconvey/convey"
)

func testLaunches() *Dataset {
	return &Dataset{
		Name: Launches,
		Columns: []string{"LaunchId", "Epoch", "FlightNo", "Failure",
			"CosparLaunchNo", "LaunchSiteId"},
		Rows: [][]Value{
			{String("1"), Time(time.Date(2019, 2, 22, 1, 0, 0, 0, time.UTC)),
				String("F1"), Bool(false), Number(14), Null()},
			{String("2"), Null(), String("F2"), Bool(true), Number(15),
				String("12")},
			{String("3"), Time(time.Date(2019, 4, 15, 0, 0, 0, 0, time.UTC)),
				Null(), Bool(false), Number(16), Refs("12", "13")},
		},
	}
}

func TestDataset(t *testing.T) {
	t.Parallel()

	Convey("CSV round-trip preserves the dataset", t, func() {
		ds := testLaunches()
		var buf bytes.Buffer
		So(ds.WriteCSV(&buf), ShouldBeNil)

		Convey("cells are rendered in their string form", func() {
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			So(lines[0], ShouldEqual,
				"LaunchId,Epoch,FlightNo,Failure,CosparLaunchNo,LaunchSiteId")
			So(lines[1], ShouldEqual, "1,2019-02-22T01:00:00Z,F1,false,14,")
			So(lines[3], ShouldEqual, "3,2019-04-15T00:00:00Z,,false,16,12;13")
		})

		Convey("reading back restores the typed cells", func() {
			ds2, err := ReadCSV(Launches, &buf)
			So(err, ShouldBeNil)
			So(ds2, ShouldResemble, ds)
		})
	})

	Convey("list-valued attributes survive a CSV round-trip", t, func() {
		records := []discos.RawRecord{
			{
				ID:   "22",
				Type: "launchSite",
				Attributes: map[string]any{
					"name": "Cape Canaveral", "latitude": 28.5, "longitude": -80.5,
					"altitude": 3.0, "azimuths": []any{90.0, 100.0},
					"pads": []any{"LC-39A"}, "constraints": []any{},
				},
			},
		}
		ds, err := Normalize(LaunchSites, records)
		So(err, ShouldBeNil)
		So(ds.cell(0, "Azimuths"), ShouldResemble, Refs("90", "100"))
		So(ds.cell(0, "Pads"), ShouldResemble, Refs("LC-39A"))
		So(ds.cell(0, "Constraints"), ShouldResemble, Null())

		var buf bytes.Buffer
		So(ds.WriteCSV(&buf), ShouldBeNil)
		ds2, err := ReadCSV(LaunchSites, &buf)
		So(err, ShouldBeNil)
		So(ds2, ShouldResemble, ds)
	})

	Convey("ReadCSV works correctly", t, func() {
		Convey("header only yields zero rows", func() {
			ds, err := ReadCSV(Reentries, strings.NewReader("ReentryId,Epoch\n"))
			So(err, ShouldBeNil)
			So(ds.Columns, ShouldResemble, []string{"ReentryId", "Epoch"})
			So(len(ds.Rows), ShouldEqual, 0)
		})

		Convey("undeclared columns decode as scalars", func() {
			ds, err := ReadCSV(Reentries, strings.NewReader(
				"ReentryId,Epoch,attributes.note\n5,2020-01-01,42\n"))
			So(err, ShouldBeNil)
			So(ds.Rows[0][2], ShouldResemble, Number(42))
		})

		Convey("empty input fails", func() {
			_, err := ReadCSV(Reentries, strings.NewReader(""))
			So(err, ShouldNotBeNil)
		})

		Convey("unparsable timestamp cell fails", func() {
			_, err := ReadCSV(Reentries, strings.NewReader(
				"ReentryId,Epoch\n5,bogus\n"))
			So(err, ShouldNotBeNil)
		})

		Convey("unknown dataset fails", func() {
			_, err := ReadCSV(Name("bogus"), strings.NewReader("a\n"))
			So(err, ShouldNotBeNil)
		})
	})

	Convey("WriteText formats an aligned table", t, func() {
		ds := testLaunches()
		var buf bytes.Buffer
		So(ds.WriteText(&buf, 2), ShouldBeNil)
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		// header + separator + 2 rows
		So(len(lines), ShouldEqual, 4)
		So(lines[0], ShouldContainSubstring, "LaunchId")
		So(lines[1], ShouldContainSubstring, "---")
		So(lines[2], ShouldContainSubstring, "2019-02-22T01:00:00Z")
		for _, line := range lines[1:] {
			So(len(line), ShouldEqual, len(lines[0]))
		}
	})
}
