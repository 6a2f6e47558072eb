package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseRecords splits a provider delivery body into individual records. Bodies
// are either a JSON array of objects, a single object, or newline-delimited JSON.
func ParseRecords(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decoding record array: %w", err)
		}
		return records, nil
	case '{':
		if json.Valid(trimmed) {
			return []json.RawMessage{json.RawMessage(trimmed)}, nil
		}
	}

	var records []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		if !json.Valid(b) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		records = append(records, json.RawMessage(append([]byte(nil), b...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	return records, nil
}
