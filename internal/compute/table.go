package compute

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"modelops/internal/apperrors"
	"slices"
	"strconv"
	"strings"
)

// Table is a numeric feature matrix with named columns.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// Dataset is a feature table with one label per row.
type Dataset struct {
	Features Table
	Labels   []string
}

// Column returns the values of the named column.
func (t Table) Column(name string) ([]float64, bool) {
	idx := slices.Index(t.Columns, name)
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Reorder returns the table with columns in the given order.
// Every requested column must be present; extra columns are dropped.
func (t Table) Reorder(columns []string) (Table, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		j := slices.Index(t.Columns, c)
		if j < 0 {
			return Table{}, apperrors.Validation("features", fmt.Sprintf("missing feature %q", c))
		}
		idx[i] = j
	}
	rows := make([][]float64, len(t.Rows))
	for r, row := range t.Rows {
		out := make([]float64, len(columns))
		for i, j := range idx {
			out[i] = row[j]
		}
		rows[r] = out
	}
	return Table{Columns: slices.Clone(columns), Rows: rows}, nil
}

// ParseCSV reads a dataset with a header row. The separator is detected from
// the header (';' or ','). When label is empty every column is a feature.
// Rows with an empty or NA value are dropped; any other non-numeric feature
// value is an error.
func ParseCSV(data []byte, label string) (*Dataset, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = detectSeparator(data)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperrors.Validation("dataset", "dataset is empty")
		}
		return nil, apperrors.Validation("dataset", fmt.Sprintf("read header: %v", err))
	}
	for i := range header {
		header[i] = strings.Trim(strings.TrimSpace(header[i]), `"`)
	}

	labelIdx := -1
	if label != "" {
		labelIdx = slices.Index(header, label)
		if labelIdx < 0 {
			return nil, apperrors.Validation("dataset", fmt.Sprintf("label column %q not found", label))
		}
	}

	ds := &Dataset{}
	for i, name := range header {
		if i != labelIdx {
			ds.Features.Columns = append(ds.Features.Columns, name)
		}
	}
	if len(ds.Features.Columns) == 0 {
		return nil, apperrors.Validation("dataset", "dataset has no feature columns")
	}

	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, apperrors.Validation("dataset", fmt.Sprintf("line %d: %v", line, err))
		}

		row := make([]float64, 0, len(ds.Features.Columns))
		var lbl string
		skip := false
		for i, raw := range rec {
			v := strings.TrimSpace(raw)
			if isMissing(v) {
				skip = true
				break
			}
			if i == labelIdx {
				lbl = normalizeLabel(v)
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, apperrors.Validation("dataset", fmt.Sprintf("line %d: column %q: %q is not numeric", line, header[i], v))
			}
			row = append(row, f)
		}
		if skip {
			continue
		}
		ds.Features.Rows = append(ds.Features.Rows, row)
		if labelIdx >= 0 {
			ds.Labels = append(ds.Labels, lbl)
		}
	}

	if len(ds.Features.Rows) == 0 {
		return nil, apperrors.Validation("dataset", "dataset has no complete rows")
	}
	return ds, nil
}

// MarshalCSV writes the dataset comma-separated with a header row. The label
// column is appended last when the dataset has labels.
func (d *Dataset) MarshalCSV(label string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := slices.Clone(d.Features.Columns)
	withLabels := label != "" && len(d.Labels) == len(d.Features.Rows)
	if withLabels {
		header = append(header, label)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for i, row := range d.Features.Rows {
		rec := make([]string, 0, len(header))
		for _, v := range row {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if withLabels {
			rec = append(rec, d.Labels[i])
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func detectSeparator(data []byte) rune {
	first, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(",")) {
		return ';'
	}
	return ','
}

func isMissing(v string) bool {
	switch strings.ToLower(v) {
	case "", "na", "nan", "null":
		return true
	}
	return false
}

// normalizeLabel maps "6.0" and "6" to the same class.
func normalizeLabel(v string) string {
	if f, err := strconv.ParseFloat(v, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return v
}
