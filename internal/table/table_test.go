package table

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_PassesFieldsThrough(t *testing.T) {
	t.Parallel()

	input := "a,b\n  x , y\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"  x ", " y"}, rows[1])
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\n1\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestLoad_CSVInfersDtypes(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "data.csv",
		"id,score,flag,name,gap\n1,1.5,true,alice,3\n2,2.5,false,bob,\n3,3.5,True,carol,5\n")

	tbl, warns, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, warns)
	assert.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, []string{"id", "score", "flag", "name", "gap"}, tbl.ColumnNames())
	assert.Equal(t, map[string]string{
		"id":    "int64",
		"score": "float64",
		"flag":  "bool",
		"name":  "object",
		"gap":   "float64",
	}, tbl.Dtypes())

	gap, ok := tbl.Column("gap")
	require.True(t, ok)
	assert.Equal(t, 1, gap.MissingCount())
	assert.Equal(t, []float64{3, 5}, gap.Floats())
}

func TestLoad_TSV(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "data.tsv", "a\tb\n1\tx\n2\ty\n")
	tbl, _, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.NumCols())
	assert.Equal(t, 2, tbl.NumRows())
}

func TestLoad_CSVStripsLeadingBOM(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "data.csv", "\uFEFFid,name\n1,a\n")
	tbl, _, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, tbl.ColumnNames())
	_, ok := tbl.Column("id")
	assert.True(t, ok)
}

func TestLoad_HeaderOnlyIsEmptyDataset(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "empty.csv", "a,b,c\n")
	tbl, warns, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.NumRows())
	assert.Equal(t, 3, tbl.NumCols())
	require.Len(t, warns, 1)
	assert.Equal(t, "EMPTY_DATASET", warns[0].Code)
	assert.Equal(t, "object", tbl.Dtypes()["a"])
}

func TestLoad_RaggedRowsPadded(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "ragged.csv", "a,b,c\n1,2,3\n4,5\n")
	tbl, warns, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, warns, 1)
	assert.Equal(t, "RAGGED_ROWS", warns[0].Code)

	c, _ := tbl.Column("c")
	assert.True(t, c.Missing[1])
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, _, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.True(t, errors.Is(err, ErrNotFound))

	parquet := writeTestFile(t, "data.parquet", "PAR1")
	_, _, err = Load(context.Background(), parquet)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	long := writeTestFile(t, "long.csv", "a,b\n1,2,3\n")
	_, _, err = Load(context.Background(), long)
	assert.True(t, errors.Is(err, ErrMalformed))

	dup := writeTestFile(t, "dup.csv", "a,a\n1,2\n")
	_, _, err = Load(context.Background(), dup)
	assert.True(t, errors.Is(err, ErrMalformed))

	blank := writeTestFile(t, "blank.csv", "")
	_, _, err = Load(context.Background(), blank)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestLoad_MissingTokensAreExact(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "tokens.csv", "v\nNA\n na\nnull\nx\n")
	tbl, _, err := Load(context.Background(), path)
	require.NoError(t, err)

	v, _ := tbl.Column("v")
	assert.Equal(t, []bool{true, false, true, false}, v.Missing)
	assert.Equal(t, " na", v.Raw[1])
}

func TestLoad_JSONKeepsKeyOrder(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "data.json",
		`[{"zeta": 1, "alpha": "a"}, {"alpha": "b", "zeta": null, "extra": true}]`)
	tbl, _, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "extra"}, tbl.ColumnNames())

	zeta, _ := tbl.Column("zeta")
	assert.Equal(t, []bool{false, true}, zeta.Missing)
	assert.Equal(t, "float64", string(zeta.DType))

	extra, _ := tbl.Column("extra")
	assert.True(t, extra.Missing[0])
}

func TestLoad_JSONRejectsNonArray(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "obj.json", `{"a": 1}`)
	_, _, err := Load(context.Background(), path)
	assert.True(t, errors.Is(err, ErrMalformed))

	scalars := writeTestFile(t, "scalars.json", `[1, 2]`)
	_, _, err = Load(context.Background(), scalars)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestLoad_XLSX(t *testing.T) {
	t.Parallel()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range [][]string{{"name", "age"}, {"alice", "30"}, {"bob", "25"}} {
		row := sheet.AddRow()
		for _, v := range rowData {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "data.xlsx")
	require.NoError(t, f.Save(path))

	tbl, _, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.NumRows())
	assert.Equal(t, "int64", tbl.Dtypes()["age"])
}

func TestColumn_KeysCompareParsedNumbers(t *testing.T) {
	t.Parallel()

	tbl, _, err := Build([]string{"n"}, [][]string{{"1"}, {"1.0"}, {""}})
	require.NoError(t, err)

	n, _ := tbl.Column("n")
	assert.Equal(t, n.Key(0), n.Key(1))
	assert.True(t, IsMissingKey(n.Key(2)))
	assert.Equal(t, 1, n.Distinct(false))
	assert.Equal(t, 2, n.Distinct(true))
}

func TestTable_RowKeyAndRowMissing(t *testing.T) {
	t.Parallel()

	tbl, _, err := Build([]string{"a", "b"}, [][]string{{"1", "x"}, {"1", "x"}, {"", ""}})
	require.NoError(t, err)
	assert.Equal(t, tbl.RowKey(0), tbl.RowKey(1))
	assert.NotEqual(t, tbl.RowKey(0), tbl.RowKey(2))
	assert.Equal(t, 2, tbl.RowMissing(2))
}

func TestTable_RowKeyDistinguishesSeparatorInCells(t *testing.T) {
	t.Parallel()

	tbl, _, err := Build([]string{"a", "b"}, [][]string{{"x\x1fy", "z"}, {"x", "y\x1fz"}, {"x\x1fy", "z"}})
	require.NoError(t, err)
	assert.NotEqual(t, tbl.RowKey(0), tbl.RowKey(1))
	assert.Equal(t, tbl.RowKey(0), tbl.RowKey(2))
}
