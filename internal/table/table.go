// Package table loads tabular datasets into memory exactly as stored: values
// are never coerced, filled, trimmed, or dropped.
package table

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataset-audit/internal/model"
)

// Ingestion errors. They are fatal and surface verbatim to the caller.
var (
	ErrNotFound          = eris.New("dataset not found")
	ErrUnsupportedFormat = eris.New("unsupported file type")
	ErrMalformed         = eris.New("malformed dataset")
)

// DType is the observed storage type of a column.
type DType string

const (
	DTypeInt64   DType = "int64"
	DTypeFloat64 DType = "float64"
	DTypeBool    DType = "bool"
	DTypeObject  DType = "object"
)

const missingKey = "\x00<NA>"

var supportedFormats = map[string]bool{
	".csv":  true,
	".tsv":  true,
	".json": true,
	".xlsx": true,
}

// SupportedFormat reports whether the extension (with leading dot) can be loaded.
func SupportedFormat(ext string) bool {
	return supportedFormats[strings.ToLower(ext)]
}

// Column holds one column's raw cells plus the parsed numeric view.
type Column struct {
	Name    string
	DType   DType
	Raw     []string
	Missing []bool
	// Nums holds parsed values for numeric dtypes (bool as 0/1); NaN where missing.
	Nums []float64
}

// Len returns the number of cells.
func (c *Column) Len() int { return len(c.Raw) }

// IsNumeric reports whether the column has a numeric dtype.
func (c *Column) IsNumeric() bool {
	return c.DType == DTypeInt64 || c.DType == DTypeFloat64 || c.DType == DTypeBool
}

// IsText reports whether the column holds free-form values.
func (c *Column) IsText() bool { return c.DType == DTypeObject }

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for _, m := range c.Missing {
		if m {
			n++
		}
	}
	return n
}

// Key returns a canonical identity for cell i. Numeric cells compare by
// parsed value, text cells by raw content, missing cells by a shared sentinel.
func (c *Column) Key(i int) string {
	if c.Missing[i] {
		return missingKey
	}
	if c.IsNumeric() {
		return strconv.FormatFloat(c.Nums[i], 'g', -1, 64)
	}
	return c.Raw[i]
}

// IsMissingKey reports whether k is the missing-cell sentinel returned by Key.
func IsMissingKey(k string) bool { return k == missingKey }

// ValueCounts counts cells by Key.
func (c *Column) ValueCounts(includeMissing bool) map[string]int {
	counts := make(map[string]int)
	for i := range c.Raw {
		if c.Missing[i] && !includeMissing {
			continue
		}
		counts[c.Key(i)]++
	}
	return counts
}

// Distinct returns the number of distinct values.
func (c *Column) Distinct(includeMissing bool) int {
	return len(c.ValueCounts(includeMissing))
}

// Floats returns the non-missing numeric values in row order.
func (c *Column) Floats() []float64 {
	if !c.IsNumeric() {
		return nil
	}
	out := make([]float64, 0, len(c.Nums))
	for i, v := range c.Nums {
		if !c.Missing[i] && !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Table is an in-memory dataset with ordered columns.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.cols) }

// Columns returns columns in file order.
func (t *Table) Columns() []*Column { return t.cols }

// ColumnNames returns column names in file order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by exact name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Dtypes maps column name to observed dtype.
func (t *Table) Dtypes() map[string]string {
	out := make(map[string]string, len(t.cols))
	for _, c := range t.cols {
		out[c.Name] = string(c.DType)
	}
	return out
}

// RowKey returns a canonical identity for row i, used for duplicate detection.
// Cell keys are length-prefixed.
func (t *Table) RowKey(i int) string {
	var sb strings.Builder
	for _, c := range t.cols {
		k := c.Key(i)
		sb.WriteString(strconv.Itoa(len(k)))
		sb.WriteByte(':')
		sb.WriteString(k)
	}
	return sb.String()
}

// RowMissing returns how many cells of row i are missing.
func (t *Table) RowMissing(i int) int {
	n := 0
	for _, c := range t.cols {
		if c.Missing[i] {
			n++
		}
	}
	return n
}

// Load reads the dataset at path. The loader is chosen by extension.
func Load(ctx context.Context, path string) (*Table, []model.IngestionWarning, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, eris.Wrapf(ErrNotFound, "table: %s", path)
		}
		return nil, nil, eris.Wrapf(err, "table: stat %s", path)
	}
	if info.IsDir() {
		return nil, nil, eris.Wrapf(ErrNotFound, "table: %s is a directory", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var (
		header []string
		rows   [][]string
		warns  []model.IngestionWarning
	)
	switch ext {
	case ".csv":
		header, rows, err = loadDelimited(ctx, path, ',')
	case ".tsv":
		header, rows, err = loadDelimited(ctx, path, '\t')
	case ".json":
		header, rows, err = loadJSON(ctx, path)
	case ".xlsx":
		header, rows, err = loadXLSX(path)
	default:
		return nil, nil, eris.Wrapf(ErrUnsupportedFormat, "table: %q", ext)
	}
	if err != nil {
		return nil, nil, err
	}

	t, buildWarns, err := Build(header, rows)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "table: %s", path)
	}
	warns = append(warns, buildWarns...)
	if t.NumRows() == 0 {
		warns = append(warns, model.IngestionWarning{
			Code:    "EMPTY_DATASET",
			Message: "Dataset contains zero rows.",
		})
	}
	return t, warns, nil
}
