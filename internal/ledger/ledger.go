// Package ledger is the append-only, hash-chained audit history. Each line is
// one JSON record whose hash binds its payload to the previous record's hash.
package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataset-audit/internal/decision"
	"github.com/sells-group/dataset-audit/internal/model"
)

const tailChunk = 64 * 1024

// Ledger appends records to a JSONL file. Appends are serialized within the
// process by a mutex and across processes by an exclusive file lock.
type Ledger struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// Open creates or opens the ledger at path. Missing directories are created.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, eris.New("ledger: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "ledger: create dir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: open %s", path)
	}
	return &Ledger{path: path, f: f}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Close releases the file handle.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return eris.Wrap(err, "ledger: close")
}

// Append writes the report with ruleset provenance and chain fields, and
// returns the new record hash. A torn trailing line left by a crashed writer
// is truncated before appending.
func (l *Ledger) Append(ctx context.Context, r model.Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "ledger: append")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return "", eris.New("ledger: closed")
	}

	if err := lockFile(l.f); err != nil {
		return "", eris.Wrap(err, "ledger: lock")
	}
	defer unlockFile(l.f) //nolint:errcheck

	prev, err := l.repairAndTail()
	if err != nil {
		return "", err
	}

	rec := model.LedgerRecord{
		Report:             r,
		RulesetVersion:     decision.RulesetVersion,
		RulesetFingerprint: decision.Fingerprint(),
		PreviousHash:       prev,
	}
	line, hash, err := encodeRecord(rec)
	if err != nil {
		return "", err
	}

	// One write per record, so a crash leaves at most one torn line.
	if _, err := l.f.Write(line); err != nil {
		return "", eris.Wrap(err, "ledger: write record")
	}
	if err := l.f.Sync(); err != nil {
		return "", eris.Wrap(err, "ledger: sync")
	}

	zap.L().Debug("ledger: record appended",
		zap.String("audit_id", r.AuditID),
		zap.String("record_hash", hash),
	)
	return hash, nil
}

// repairAndTail truncates a torn final line and returns the hash of the last
// complete record, or nil for an empty ledger.
func (l *Ledger) repairAndTail() (*string, error) {
	info, err := l.f.Stat()
	if err != nil {
		return nil, eris.Wrap(err, "ledger: stat")
	}
	size := info.Size()

	line, end, err := lastLine(l.f, size)
	if err != nil {
		return nil, err
	}
	if end < size {
		zap.L().Warn("ledger: truncating torn trailing record",
			zap.String("path", l.path),
			zap.Int64("bytes", size-end),
		)
		if err := l.f.Truncate(end); err != nil {
			return nil, eris.Wrap(err, "ledger: truncate torn record")
		}
	}
	if line == nil {
		return nil, nil
	}

	var tail struct {
		RecordHash string `json:"record_hash"`
	}
	if err := json.Unmarshal(line, &tail); err != nil || tail.RecordHash == "" {
		return nil, eris.New("ledger: last record is unreadable; refusing to extend the chain")
	}
	return &tail.RecordHash, nil
}

// lastLine returns the last newline-terminated line (without the newline)
// and the offset just past it.
func lastLine(f *os.File, size int64) ([]byte, int64, error) {
	var buf []byte
	off := size
	for {
		if idx := bytes.LastIndexByte(buf, '\n'); idx >= 0 {
			end := off + int64(idx) + 1
			if start := bytes.LastIndexByte(buf[:idx], '\n'); start >= 0 {
				return buf[start+1 : idx], end, nil
			}
			if off == 0 {
				return buf[:idx], end, nil
			}
		} else if off == 0 {
			return nil, 0, nil
		}

		n := min(int64(tailChunk), off)
		off -= n
		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, off); err != nil {
			return nil, 0, eris.Wrap(err, "ledger: read tail")
		}
		buf = append(chunk, buf...)
	}
}

// encodeRecord renders the record as one sorted-key JSON line ending in a
// newline and returns it with its hash.
func encodeRecord(rec model.LedgerRecord) ([]byte, string, error) {
	rec.RecordHash = ""
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, "", eris.Wrap(err, "ledger: marshal record")
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, "", err
	}
	delete(obj, "record_hash")

	hash, err := hashPayload(obj, rec.PreviousHash)
	if err != nil {
		return nil, "", err
	}
	obj["record_hash"] = hash

	line, err := json.Marshal(obj)
	if err != nil {
		return nil, "", eris.Wrap(err, "ledger: marshal line")
	}
	return append(line, '\n'), hash, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "ledger: decode record")
	}
	if obj == nil {
		return nil, eris.New("ledger: record is not an object")
	}
	return obj, nil
}

// hashPayload computes sha256 over {"previous_hash": prev, "record": payload}
// with keys sorted at every level. payload must not contain record_hash.
func hashPayload(payload map[string]any, prev *string) (string, error) {
	doc := map[string]any{
		"record":        payload,
		"previous_hash": prev,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", eris.Wrap(err, "ledger: canonicalize record")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
