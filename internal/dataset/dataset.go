// Package dataset loads CSV training data into column-typed frames and
// provides the shuffled train/validation split the training pipeline uses.
package dataset

import (
	"encoding/csv"
	"io"
	"math/rand"
	"os"
	"strconv"

	"nova-ml/internal/mlerr"
)

// Frame is an in-memory table of string cells with a header row. Column
// types are inferred lazily: a column is numeric when every non-empty cell
// parses as a float.
type Frame struct {
	headers []string
	index   map[string]int
	rows    [][]string
}

// LoadCSV reads a headered CSV file into a Frame.
func LoadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mlerr.Wrap(err, "open dataset")
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses headered CSV from a reader.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, mlerr.Wrap(err, "read header row")
	}
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := index[h]; dup {
			return nil, mlerr.Newf("duplicate column %q", h)
		}
		index[h] = i
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mlerr.Wrap(err, "read data row")
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return nil, mlerr.New("dataset has no data rows")
	}
	return &Frame{headers: headers, index: index, rows: rows}, nil
}

// Headers returns the column names in file order.
func (f *Frame) Headers() []string {
	return append([]string(nil), f.headers...)
}

// NumRows returns the number of data rows.
func (f *Frame) NumRows() int { return len(f.rows) }

// Column returns the raw string cells of one column.
func (f *Frame) Column(name string) ([]string, error) {
	idx, ok := f.index[name]
	if !ok {
		return nil, mlerr.Newf("no column %q", name)
	}
	col := make([]string, len(f.rows))
	for i, row := range f.rows {
		col[i] = row[idx]
	}
	return col, nil
}

// IsNumeric reports whether every non-empty cell of the column parses as a
// float. Empty columns count as numeric.
func (f *Frame) IsNumeric(name string) (bool, error) {
	col, err := f.Column(name)
	if err != nil {
		return false, err
	}
	for _, cell := range col {
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return false, nil
		}
	}
	return true, nil
}

// Split partitions row indices into a shuffled train/validation pair.
// validationRatio is the fraction held out; the seed makes runs repeatable.
func (f *Frame) Split(validationRatio float64, seed int64) (train, validation []int, err error) {
	if validationRatio < 0 || validationRatio >= 1 {
		return nil, nil, mlerr.Newf("validation ratio %v out of range [0, 1)", validationRatio)
	}
	n := len(f.rows)
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nVal := int(float64(n) * validationRatio)
	validation = perm[:nVal]
	train = perm[nVal:]
	if len(train) == 0 {
		return nil, nil, mlerr.New("split leaves no training rows")
	}
	return train, validation, nil
}

// Cell returns one raw cell by row index and column name.
func (f *Frame) Cell(row int, name string) (string, error) {
	idx, ok := f.index[name]
	if !ok {
		return "", mlerr.Newf("no column %q", name)
	}
	if row < 0 || row >= len(f.rows) {
		return "", mlerr.Newf("row %d out of range", row)
	}
	return f.rows[row][idx], nil
}
