// Package snapshot builds content-addressed dataset snapshots.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/table"
)

// ChunkSize is the read size used when hashing file bytes.
const ChunkSize = 8192

// HashFile returns the hex SHA-256 of the raw file bytes, streamed in
// ChunkSize reads.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, eris.Wrapf(table.ErrNotFound, "snapshot: %s", path)
		}
		return "", 0, eris.Wrapf(err, "snapshot: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	buf := make([]byte, ChunkSize)
	var size int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n]) //nolint:errcheck // hash writes never fail
			size += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, eris.Wrapf(err, "snapshot: read %s", path)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// Build describes the file at path and the table loaded from it. The
// snapshot id depends only on the file bytes; structural facts come from tbl.
func Build(path string, tbl *table.Table) (model.Snapshot, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !table.SupportedFormat(ext) {
		return model.Snapshot{}, eris.Wrapf(table.ErrUnsupportedFormat, "snapshot: %q", ext)
	}

	id, size, err := HashFile(path)
	if err != nil {
		return model.Snapshot{}, err
	}

	return model.Snapshot{
		SnapshotID:    id,
		FilePath:      path,
		FileType:      strings.TrimPrefix(ext, "."),
		FileSizeBytes: size,
		RowCount:      tbl.NumRows(),
		ColumnCount:   tbl.NumCols(),
		Columns:       tbl.ColumnNames(),
		Dtypes:        tbl.Dtypes(),
	}, nil
}
