package ledger

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataset-audit/internal/model"
)

// readLines returns the complete lines of the ledger at path. A trailing
// partial line, such as an append in flight, is dropped and reported.
func readLines(path string) ([][]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, eris.Wrapf(err, "ledger: read %s", path)
	}
	torn := len(data) > 0 && data[len(data)-1] != '\n'
	if end := bytes.LastIndexByte(data, '\n'); end >= 0 {
		data = data[:end]
	} else {
		data = nil
	}
	if len(data) == 0 {
		return nil, torn, nil
	}
	return bytes.Split(data, []byte{'\n'}), torn, nil
}

// ReadAll parses every complete record at path. Reads take no lock.
func ReadAll(path string) ([]model.LedgerRecord, error) {
	lines, _, err := readLines(path)
	if err != nil {
		return nil, err
	}
	out := make([]model.LedgerRecord, 0, len(lines))
	for i, line := range lines {
		var rec model.LedgerRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, eris.Wrapf(err, "ledger: parse record %d", i+1)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Records parses every complete record in this ledger.
func (l *Ledger) Records() ([]model.LedgerRecord, error) {
	return ReadAll(l.path)
}

// Find returns every record with the given audit id, oldest first.
func (l *Ledger) Find(auditID string) ([]model.LedgerRecord, error) {
	recs, err := l.Records()
	if err != nil {
		return nil, err
	}
	var out []model.LedgerRecord
	for _, r := range recs {
		if r.AuditID == auditID {
			out = append(out, r)
		}
	}
	return out, nil
}
