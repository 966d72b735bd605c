package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is one structured entry in a JSON-format watched file. Records are
// concatenated JSON objects, usually one per line.
type Record struct {
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Type      string          `json:"type"`
	Content   string          `json:"content"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// DecodeRecords decodes every record in b, one line at a time. A line may
// hold several concatenated objects. A malformed line is skipped; records on
// the other lines are still returned, along with an error wrapping
// ErrMalformedRecord that names the first bad line.
func DecodeRecords(b []byte) ([]Record, error) {
	var (
		out      []Record
		firstErr error
		bad      int
	)
	for n, line := range bytes.Split(b, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		for {
			var r Record
			err := dec.Decode(&r)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				bad++
				if firstErr == nil {
					firstErr = fmt.Errorf("line %d: %v", n+1, err)
				}
				break
			}
			out = append(out, r)
		}
	}
	switch {
	case bad == 1:
		return out, fmt.Errorf("%w: %v", ErrMalformedRecord, firstErr)
	case bad > 1:
		return out, fmt.Errorf("%w: %d bad lines, first at %v", ErrMalformedRecord, bad, firstErr)
	}
	return out, nil
}
