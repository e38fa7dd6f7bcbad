package report

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataset-audit/internal/model"
)

// Marshal renders the canonical indented JSON form of a report.
func Marshal(r model.Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "report: marshal")
	}
	return data, nil
}

// WriteJSON writes the report followed by a newline.
func WriteJSON(w io.Writer, r model.Report) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return eris.Wrap(err, "report: write json")
	}
	return nil
}

// WriteJSONFile writes the report to path.
func WriteJSONFile(path string, r model.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := WriteJSON(f, r); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}
