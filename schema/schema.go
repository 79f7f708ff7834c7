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

// Package schema normalizes raw DISCOS records into flat typed datasets. One
// declarative rule set per dataset drives a single normalization engine:
// which columns to keep, their public names, and how references and epochs
// are coerced.
package schema

import (
	"strings"

	"github.com/orbitwatch/discosweb/discos"

	"github.com/stockparfait/errors"
)

// Name identifies one of the DISCOS catalog datasets. Its value is the URL
// path of the dataset under the API root.
type Name string

const (
	SpaceObjects   = Name("objects")
	Launches       = Name("launches")
	Reentries      = Name("reentries")
	LaunchSites    = Name("launch-sites")
	InitialOrbits  = Name("initial-orbits")
	Fragmentations = Name("fragmentations")
)

// AllNames lists the supported datasets in a stable order.
func AllNames() []Name {
	return []Name{SpaceObjects, Launches, Reentries, LaunchSites,
		InitialOrbits, Fragmentations}
}

// ParseName validates a dataset name supplied by a user.
func ParseName(s string) (Name, error) {
	for _, n := range AllNames() {
		if s == string(n) {
			return n, nil
		}
	}
	strs := make([]string, 0, len(AllNames()))
	for _, n := range AllNames() {
		strs = append(strs, string(n))
	}
	return "", errors.Reason("unknown dataset '%s'; expected one of: %s",
		s, strings.Join(strs, ", "))
}

// ColumnKind selects the coercion rule for one output column.
type ColumnKind uint8

const (
	// KindID is the record id.
	KindID ColumnKind = iota
	// KindScalar copies a flattened attribute as-is.
	KindScalar
	// KindText coerces a non-null attribute to its string form.
	KindText
	// KindList is a list-valued attribute; its cells stay lists on a cache
	// reload instead of decaying to scalars.
	KindList
	// KindTime parses an epoch-like attribute into a timestamp; parse
	// failures abort normalization.
	KindTime
	// KindRef coerces a relationship into null, a single id, or an id list
	// depending on cardinality.
	KindRef
	// KindIntRefs coerces a relationship into a list of integer ids with no
	// scalar collapse, regardless of cardinality.
	KindIntRefs
)

// Column maps one dotted source path to a public output column.
type Column struct {
	Name string // stable public column name
	Path string // dotted source path, e.g. "attributes.cosparId"
	Kind ColumnKind
}

// ruleSet is the full normalization and query rule set of one dataset.
type ruleSet struct {
	include string // "include" query parameter, optional
	sort    string // "sort" query parameter, optional
	drop    []string
	columns []Column // declared output columns, in order
}

// ruleSets is the fixed dispatch table keyed by dataset name. Flattened
// paths in the drop set are removed outright; declared columns are renamed
// and coerced; any remaining attribute path is kept under its dotted name.
var ruleSets = map[Name]ruleSet{
	SpaceObjects: {
		include: "launch,reentry,initialOrbits,destinationOrbits,operators",
		sort:    "satno",
		drop:    []string{"type"},
		columns: []Column{
			{"DiscosID", "id", KindID},
			{"IntlDes", "attributes.cosparId", KindScalar},
			{"SatNo", "attributes.satno", KindScalar},
			{"SatName", "attributes.name", KindScalar},
			{"ObjectType", "attributes.objectClass", KindScalar},
			{"Mass", "attributes.mass", KindScalar},
			{"Shape", "attributes.shape", KindScalar},
			{"Height", "attributes.height", KindScalar},
			{"Depth", "attributes.depth", KindScalar},
			{"Length", "attributes.length", KindScalar},
			{"XSectMin", "attributes.xSectMin", KindScalar},
			{"XSectAvg", "attributes.xSectAvg", KindScalar},
			{"XSectMax", "attributes.xSectMax", KindScalar},
			{"VimpelId", "attributes.vimpelId", KindText},
			{"LaunchId", "relationships.launch", KindRef},
			{"ReentryId", "relationships.reentry", KindRef},
			{"InitOrbitId", "relationships.initialOrbits", KindRef},
			{"DestOrbitId", "relationships.destinationOrbits", KindRef},
			{"OperatorId", "relationships.operators", KindRef},
		},
	},
	Launches: {
		include: "site",
		drop:    []string{"type"},
		columns: []Column{
			{"LaunchId", "id", KindID},
			{"Epoch", "attributes.epoch", KindTime},
			{"FlightNo", "attributes.flightNo", KindScalar},
			{"Failure", "attributes.failure", KindScalar},
			{"CosparLaunchNo", "attributes.cosparLaunchNo", KindScalar},
			{"LaunchSiteId", "relationships.site", KindRef},
		},
	},
	Reentries: {
		drop: []string{"type"},
		columns: []Column{
			{"ReentryId", "id", KindID},
			{"Epoch", "attributes.epoch", KindTime},
		},
	},
	LaunchSites: {
		drop: []string{"type"},
		columns: []Column{
			{"LaunchSiteId", "id", KindID},
			{"Name", "attributes.name", KindScalar},
			{"Latitude", "attributes.latitude", KindScalar},
			{"Longitude", "attributes.longitude", KindScalar},
			{"Altitude", "attributes.altitude", KindScalar},
			{"Azimuths", "attributes.azimuths", KindList},
			{"Pads", "attributes.pads", KindList},
			{"Constraints", "attributes.constraints", KindScalar},
		},
	},
	InitialOrbits: {
		drop: []string{"type"},
		columns: []Column{
			{"OrbitId", "id", KindID},
			// Orbit epochs are kept verbatim; only launch, reentry and
			// fragmentation epochs are temporal columns.
			{"Epoch", "attributes.epoch", KindScalar},
			{"SemiMajorAxis", "attributes.sma", KindScalar},
			{"Eccentricity", "attributes.ecc", KindScalar},
			{"Inclination", "attributes.inc", KindScalar},
			{"RAAN", "attributes.raan", KindScalar},
			{"ArgPeriapsis", "attributes.aPer", KindScalar},
			{"MeanAnomaly", "attributes.mAno", KindScalar},
			{"RefFrame", "attributes.frame", KindScalar},
		},
	},
	Fragmentations: {
		include: "objects",
		drop:    []string{"type"},
		columns: []Column{
			{"FragmentationId", "id", KindID},
			{"EventType", "attributes.eventType", KindScalar},
			{"Epoch", "attributes.epoch", KindTime},
			{"Latitude", "attributes.latitude", KindScalar},
			{"Longitude", "attributes.longitude", KindScalar},
			{"Altitude", "attributes.altitude", KindScalar},
			{"Comment", "attributes.comment", KindScalar},
			// Fragmentation events inherently reference multiple objects, so
			// this column never collapses to a scalar id.
			{"DiscosIds", "relationships.objects", KindIntRefs},
		},
	},
}

// Query builds the dataset's paginated API query.
func Query(name Name) (*discos.Query, error) {
	rs, ok := ruleSets[name]
	if !ok {
		return nil, errors.Reason("unknown dataset '%s'", name)
	}
	q := discos.NewQuery(string(name))
	if rs.include != "" {
		q = q.Include(rs.include)
	}
	if rs.sort != "" {
		q = q.Sort(rs.sort)
	}
	return q, nil
}

// columnKind looks up the coercion kind of a public column name; undeclared
// (kept-as-is) columns read back as scalars.
func columnKind(name Name, column string) ColumnKind {
	for _, c := range ruleSets[name].columns {
		if c.Name == column {
			return c.Kind
		}
	}
	return KindScalar
}
