package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataset-audit/internal/model"
)

// missingTokens are the cell texts read as missing. Matching is exact; cells
// are never trimmed first.
var missingTokens = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true,
	"-1.#QNAN": true, "-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true,
	"<NA>": true, "N/A": true, "NA": true, "NULL": true, "NaN": true,
	"None": true, "n/a": true, "nan": true, "null": true,
}

var boolTokens = map[string]float64{
	"True": 1, "TRUE": 1, "true": 1,
	"False": 0, "FALSE": 0, "false": 0,
}

// IsMissingToken reports whether a raw cell is read as missing.
func IsMissingToken(s string) bool { return missingTokens[s] }

// Build assembles a table from a header and raw rows, inferring each
// column's dtype. Rows shorter than the header are padded with missing cells
// and reported; longer rows are malformed.
func Build(header []string, rows [][]string) (*Table, []model.IngestionWarning, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := index[name]; dup {
			return nil, nil, eris.Wrapf(ErrMalformed, "duplicate column name %q", name)
		}
		index[name] = i
	}

	cols := make([]*Column, len(header))
	for i, name := range header {
		cols[i] = &Column{
			Name:    name,
			Raw:     make([]string, len(rows)),
			Missing: make([]bool, len(rows)),
		}
	}

	ragged := 0
	for r, row := range rows {
		if len(row) > len(header) {
			return nil, nil, eris.Wrapf(ErrMalformed, "row %d has %d fields, header has %d", r+1, len(row), len(header))
		}
		if len(row) < len(header) {
			ragged++
		}
		for c, col := range cols {
			if c >= len(row) {
				col.Missing[r] = true
				continue
			}
			col.Raw[r] = row[c]
			col.Missing[r] = missingTokens[row[c]]
		}
	}

	for _, col := range cols {
		inferColumn(col)
	}

	var warns []model.IngestionWarning
	if ragged > 0 {
		warns = append(warns, model.IngestionWarning{
			Code:    "RAGGED_ROWS",
			Message: fmt.Sprintf("%d rows have fewer fields than the header; absent cells are read as missing.", ragged),
		})
	}

	return &Table{cols: cols, index: index, rows: len(rows)}, warns, nil
}

func inferColumn(col *Column) {
	n := len(col.Raw)
	present, allInt, allFloat, allBool := 0, true, true, true
	for i, s := range col.Raw {
		if col.Missing[i] {
			continue
		}
		present++
		if allInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, ok := parseFloat(s); !ok {
				allFloat = false
			}
		}
		if allBool {
			if _, ok := boolTokens[s]; !ok {
				allBool = false
			}
		}
	}

	switch {
	case n == 0:
		col.DType = DTypeObject
		return
	case present == 0:
		col.DType = DTypeFloat64
	case allInt && present == n:
		col.DType = DTypeInt64
	case allInt || allFloat:
		col.DType = DTypeFloat64
	case allBool && present == n:
		col.DType = DTypeBool
	default:
		col.DType = DTypeObject
		return
	}

	col.Nums = make([]float64, n)
	for i, s := range col.Raw {
		if col.Missing[i] {
			col.Nums[i] = math.NaN()
			continue
		}
		if col.DType == DTypeBool {
			col.Nums[i] = boolTokens[s]
			continue
		}
		col.Nums[i], _ = parseFloat(s)
	}
}

func parseFloat(s string) (float64, bool) {
	if strings.ContainsAny(s, "xX_") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
