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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stockparfait/errors"
)

type valueKind uint8

const (
	kindNull valueKind = iota
	kindString
	kindNumber
	kindBool
	kindTime
	kindRefs // list of reference id strings
	kindInts // list of integer reference ids
)

// listSeparator joins list cells in their string representation.
const listSeparator = ";"

// Value is a single cell of a normalized row: a scalar, a timestamp, or a
// reference value. Reference cells hold null, a single id, or a list of ids,
// never a nested object.
type Value struct {
	kind valueKind
	str  string
	num  float64
	b    bool
	t    time.Time
	refs []string
	ints []int64
}

func Null() Value            { return Value{} }
func String(s string) Value  { return Value{kind: kindString, str: s} }
func Number(n float64) Value { return Value{kind: kindNumber, num: n} }
func Bool(b bool) Value      { return Value{kind: kindBool, b: b} }
func Time(t time.Time) Value { return Value{kind: kindTime, t: t} }

// Refs creates a list cell of reference id strings.
func Refs(ids ...string) Value { return Value{kind: kindRefs, refs: ids} }

// IntRefs creates a list cell of integer reference ids.
func IntRefs(ids ...int64) Value { return Value{kind: kindInts, ints: ids} }

// IsNull checks whether the cell holds no value.
func (v Value) IsNull() bool { return v.kind == kindNull }

// String renders the cell the way it is stored in a CSV cache file: an empty
// string for null, and list values joined by ";".
func (v Value) String() string {
	switch v.kind {
	case kindNull:
		return ""
	case kindString:
		return v.str
	case kindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case kindBool:
		return strconv.FormatBool(v.b)
	case kindTime:
		return v.t.UTC().Format(time.RFC3339)
	case kindRefs:
		return strings.Join(v.refs, listSeparator)
	case kindInts:
		strs := make([]string, len(v.ints))
		for i, id := range v.ints {
			strs[i] = strconv.FormatInt(id, 10)
		}
		return strings.Join(strs, listSeparator)
	}
	return ""
}

// timeFormats accepted for epoch-like attributes, most specific first.
var timeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an epoch-like string into a UTC timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	var err error
	for _, format := range timeFormats {
		var t time.Time
		if t, err = time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Annotate(err, "failed to parse timestamp '%s'", s)
}

// fromAny converts a decoded JSON attribute into a cell. Nested lists become
// list cells of their elements' string forms; nested objects are kept as
// their compact JSON text.
func fromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case string:
		return String(x)
	case []any:
		// An empty list carries no values; null keeps it identical across a
		// cache reload.
		if len(x) == 0 {
			return Null()
		}
		strs := make([]string, len(x))
		for i, el := range x {
			strs[i] = fromAny(el).String()
		}
		return Refs(strs...)
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return String(fmt.Sprintf("%v", x))
		}
		return String(string(b))
	}
	return String(fmt.Sprintf("%v", v))
}

// decodeCell parses a CSV cell back into a Value according to the column
// kind. Cells of KindScalar (and of undeclared columns) fall back to
// inference: bool, then number, then plain string.
func decodeCell(s string, kind ColumnKind) (Value, error) {
	if s == "" {
		return Null(), nil
	}
	switch kind {
	case KindID, KindText:
		return String(s), nil
	case KindTime:
		t, err := ParseTimestamp(s)
		if err != nil {
			return Null(), err
		}
		return Time(t), nil
	case KindList:
		return Refs(strings.Split(s, listSeparator)...), nil
	case KindRef:
		if strings.Contains(s, listSeparator) {
			return Refs(strings.Split(s, listSeparator)...), nil
		}
		return String(s), nil
	case KindIntRefs:
		parts := strings.Split(s, listSeparator)
		ids := make([]int64, len(parts))
		for i, p := range parts {
			id, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return Null(), errors.Annotate(err, "failed to parse reference id '%s'", p)
			}
			ids[i] = id
		}
		return IntRefs(ids...), nil
	}
	switch s {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(n), nil
	}
	return String(s), nil
}
