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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/orbitwatch/discosweb/discos"

	"github.com/stockparfait/errors"
)

// Error describes a normalization failure of one dataset: a declared column
// missing from every record, or an unparsable value in a coerced column.
type Error struct {
	Dataset Name
	Column  string
	Reason  string
}

var _ error = &Error{}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to normalize %s column '%s': %s",
		e.Dataset, e.Column, e.Reason)
}

const relationshipsPrefix = "relationships."

// flatten maps a record's id, type and attributes to dotted paths.
// Relationship entries are handled separately by the coercion rules.
func flatten(r discos.RawRecord) map[string]Value {
	flat := make(map[string]Value, len(r.Attributes)+2)
	flat["id"] = String(r.ID)
	flat["type"] = String(r.Type)
	for k, v := range r.Attributes {
		flat["attributes."+k] = fromAny(v)
	}
	return flat
}

// convert produces the cell of one declared column for one record.
func convert(name Name, c Column, r discos.RawRecord, flat map[string]Value) (Value, error) {
	switch c.Kind {
	case KindID:
		return String(r.ID), nil

	case KindScalar, KindList:
		v, ok := flat[c.Path]
		if !ok {
			return Null(), nil
		}
		return v, nil

	case KindText:
		v, ok := flat[c.Path]
		if !ok || v.IsNull() {
			return Null(), nil
		}
		return String(v.String()), nil

	case KindTime:
		v, ok := flat[c.Path]
		if !ok || v.IsNull() {
			return Null(), nil
		}
		t, err := ParseTimestamp(v.String())
		if err != nil {
			return Null(), &Error{Dataset: name, Column: c.Name, Reason: err.Error()}
		}
		return Time(t), nil

	case KindRef:
		rel, ok := r.Relationships[strings.TrimPrefix(c.Path, relationshipsPrefix)]
		if !ok || len(rel.Refs) == 0 {
			return Null(), nil
		}
		if len(rel.Refs) == 1 {
			return String(rel.Refs[0].ID), nil
		}
		ids := make([]string, len(rel.Refs))
		for i, ref := range rel.Refs {
			ids[i] = ref.ID
		}
		return Refs(ids...), nil

	case KindIntRefs:
		rel, ok := r.Relationships[strings.TrimPrefix(c.Path, relationshipsPrefix)]
		if !ok || len(rel.Refs) == 0 {
			return Null(), nil
		}
		ids := make([]int64, len(rel.Refs))
		for i, ref := range rel.Refs {
			id, err := strconv.ParseInt(ref.ID, 10, 64)
			if err != nil {
				return Null(), &Error{Dataset: name, Column: c.Name,
					Reason: fmt.Sprintf("reference id '%s' is not an integer", ref.ID)}
			}
			ids[i] = id
		}
		return IntRefs(ids...), nil
	}
	return Null(), errors.Reason("unsupported column kind: %d", c.Kind)
}

// checkDeclared verifies that every declared column's source is present in at
// least one record. Per-record absence elsewhere normalizes to null; total
// absence means the upstream schema no longer matches the rule set. An empty
// fetch carries no schema information and passes vacuously.
func checkDeclared(name Name, rs ruleSet, records []discos.RawRecord, flats []map[string]Value) error {
	if len(records) == 0 {
		return nil
	}
	for _, c := range rs.columns {
		if c.Kind == KindID {
			continue
		}
		found := false
		if c.Kind == KindRef || c.Kind == KindIntRefs {
			key := strings.TrimPrefix(c.Path, relationshipsPrefix)
			for _, r := range records {
				if _, ok := r.Relationships[key]; ok {
					found = true
					break
				}
			}
		} else {
			for _, flat := range flats {
				if _, ok := flat[c.Path]; ok {
					found = true
					break
				}
			}
		}
		if !found {
			return &Error{Dataset: name, Column: c.Name,
				Reason: fmt.Sprintf("source '%s' is missing from all records", c.Path)}
		}
	}
	return nil
}

// Normalize transforms raw records of one dataset into its flat tabular
// form. It is a pure function of its inputs and the dataset's rule set. An
// empty record sequence yields a dataset with zero rows and the full
// declared column set.
func Normalize(name Name, records []discos.RawRecord) (*Dataset, error) {
	rs, ok := ruleSets[name]
	if !ok {
		return nil, errors.Reason("unknown dataset '%s'", name)
	}
	declared := make(map[string]bool, len(rs.columns))
	for _, c := range rs.columns {
		declared[c.Path] = true
	}
	dropped := make(map[string]bool, len(rs.drop))
	for _, path := range rs.drop {
		dropped[path] = true
	}

	flats := make([]map[string]Value, len(records))
	extraSet := make(map[string]bool)
	for i, r := range records {
		flats[i] = flatten(r)
		for path := range flats[i] {
			if declared[path] || dropped[path] {
				continue
			}
			extraSet[path] = true
		}
	}
	if err := checkDeclared(name, rs, records, flats); err != nil {
		return nil, err
	}
	extras := make([]string, 0, len(extraSet))
	for path := range extraSet {
		extras = append(extras, path)
	}
	sort.Strings(extras)

	columns := make([]string, 0, len(rs.columns)+len(extras))
	for _, c := range rs.columns {
		columns = append(columns, c.Name)
	}
	columns = append(columns, extras...)

	rows := make([][]Value, len(records))
	for i, r := range records {
		row := make([]Value, 0, len(columns))
		for _, c := range rs.columns {
			v, err := convert(name, c, r, flats[i])
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		for _, path := range extras {
			v, ok := flats[i][path]
			if !ok {
				v = Null()
			}
			row = append(row, v)
		}
		rows[i] = row
	}
	return &Dataset{Name: name, Columns: columns, Rows: rows}, nil
}
