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
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/stockparfait/errors"
)

// Dataset is the normalized tabular result for one entity type. Rows are
// aligned with Columns; relationships between entities are referential only,
// linked by id for downstream joining by the consumer.
type Dataset struct {
	Name    Name
	Columns []string
	Rows    [][]Value
}

// csvRow renders one row for encoding/csv.
func csvRow(row []Value) []string {
	res := make([]string, len(row))
	for i, v := range row {
		res[i] = v.String()
	}
	return res
}

// WriteCSV writes the header and all rows to w in CSV format.
func (d *Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(d.Columns); err != nil {
		return errors.Annotate(err, "failed to write header")
	}
	for i, row := range d.Rows {
		if err := cw.Write(csvRow(row)); err != nil {
			return errors.Annotate(err, "failed to write row %d", i)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Annotate(err, "failed to flush written rows")
	}
	return nil
}

// ReadCSV reads a dataset previously written by WriteCSV. Cells are decoded
// according to the dataset's rule set; columns outside the rule set decode
// as scalars.
func ReadCSV(name Name, r io.Reader) (*Dataset, error) {
	if _, ok := ruleSets[name]; !ok {
		return nil, errors.Reason("unknown dataset '%s'", name)
	}
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, errors.Annotate(err, "failed to read CSV for %s", name)
	}
	if len(rows) == 0 {
		return nil, errors.Reason("CSV for %s has no header", name)
	}
	columns := rows[0]
	kinds := make([]ColumnKind, len(columns))
	for i, col := range columns {
		kinds[i] = columnKind(name, col)
	}
	data := make([][]Value, len(rows)-1)
	for i, raw := range rows[1:] {
		if len(raw) != len(columns) {
			return nil, errors.Reason("row %d has %d cells, expected %d",
				i, len(raw), len(columns))
		}
		row := make([]Value, len(raw))
		for j, cell := range raw {
			v, err := decodeCell(cell, kinds[j])
			if err != nil {
				return nil, errors.Annotate(err, "failed to parse cell (%d, %s)",
					i, columns[j])
			}
			row[j] = v
		}
		data[i] = row
	}
	return &Dataset{Name: name, Columns: columns, Rows: data}, nil
}

// WriteText writes up to maxRows rows as a text table formatted for ease of
// reading; maxRows <= 0 writes all rows.
func (d *Dataset) WriteText(w io.Writer, maxRows int) error {
	n := len(d.Rows)
	if maxRows > 0 && maxRows < n {
		n = maxRows
	}
	widths := make([]int, len(d.Columns))
	update := func(row []string) {
		for i, s := range row {
			if i < len(widths) && widths[i] < len(s) {
				widths[i] = len(s)
			}
		}
	}
	update(d.Columns)
	for _, row := range d.Rows[:n] {
		update(csvRow(row))
	}
	write := func(row []string) error {
		padded := make([]string, len(row))
		for i, s := range row {
			padded[i] = fmt.Sprintf("%[2]*[1]s", s, widths[i])
		}
		_, err := fmt.Fprintf(w, "%s\n", strings.Join(padded, " | "))
		return err
	}
	if err := write(d.Columns); err != nil {
		return errors.Annotate(err, "failed to write header")
	}
	dashes := make([]string, len(widths))
	for i, width := range widths {
		dashes[i] = strings.Repeat("-", width)
	}
	if err := write(dashes); err != nil {
		return errors.Annotate(err, "failed to write header separator")
	}
	for i, row := range d.Rows[:n] {
		if err := write(csvRow(row)); err != nil {
			return errors.Annotate(err, "failed to write row %d", i)
		}
	}
	return nil
}
