package table

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray decodes a JSON array streaming, sending each element to a channel.
// Expects input in the form [{...},{...}].
// Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				errCh <- eris.New("json: empty document")
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// jsonRecord keeps object keys in document order.
type jsonRecord struct {
	keys   []string
	values map[string]string
}

func loadJSON(ctx context.Context, path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "json: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	outCh, errCh := DecodeJSONArray[json.RawMessage](ctx, f)

	var (
		header  []string
		seen    = make(map[string]bool)
		records []jsonRecord
		decErr  error
	)
	for raw := range outCh {
		if decErr != nil {
			continue
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			decErr = err
			continue
		}
		for _, k := range rec.keys {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return nil, nil, eris.Wrapf(ErrMalformed, "%v", err)
	}
	if decErr != nil {
		return nil, nil, eris.Wrapf(ErrMalformed, "%v", decErr)
	}

	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(header))
		for j, k := range header {
			row[j] = rec.values[k] // absent keys read as missing
		}
		rows[i] = row
	}
	if header == nil {
		header = []string{}
	}
	return header, rows, nil
}

func decodeRecord(raw json.RawMessage) (jsonRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return jsonRecord{}, eris.Wrap(err, "json: read record")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return jsonRecord{}, eris.Errorf("json: expected object element, got %v", tok)
	}

	rec := jsonRecord{values: make(map[string]string)}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return jsonRecord{}, eris.Wrap(err, "json: read key")
		}
		key, _ := kt.(string)

		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return jsonRecord{}, eris.Wrapf(err, "json: decode value for %q", key)
		}
		if _, dup := rec.values[key]; !dup {
			rec.keys = append(rec.keys, key)
		}
		rec.values[key] = cellText(v)
	}
	return rec, nil
}

// cellText renders a JSON scalar as its text. Strings are unquoted, null is
// empty, and nested values keep their raw encoding.
func cellText(v json.RawMessage) string {
	trimmed := bytes.TrimSpace(v)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		return ""
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
