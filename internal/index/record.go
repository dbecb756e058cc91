package index

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cratehub/registry"
)

// decodeRecords parses a crate's index file content as one
// registry.IndexRecord JSON object per line, in file order.
func decodeRecords(b []byte) ([]registry.IndexRecord, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []registry.IndexRecord
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec registry.IndexRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("index: decode record line: %w", err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("index: scan records: %w", err)
	}
	return out, nil
}

// encodeRecords serializes records back to the one-JSON-object-per-line
// format, preserving order.
func encodeRecords(records []registry.IndexRecord) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("index: encode record: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// appendRecordLine appends a single encoded line to an existing file's
// bytes without touching any of the prior content, so a failure
// writing the new line can never corrupt an already-published line.
func appendRecordLine(existing []byte, rec registry.IndexRecord) ([]byte, error) {
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("index: encode record: %w", err)
	}
	out := make([]byte, 0, len(existing)+len(line)+1)
	out = append(out, existing...)
	out = append(out, line...)
	out = append(out, '\n')
	return out, nil
}
