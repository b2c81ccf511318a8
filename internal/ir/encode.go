package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal encodes v as compact JSON without HTML escaping.
//
// Stored payloads (inputs, outputs, step values) are kept exactly as
// Marshal produces them: numbers keep their digits and strings their code
// points. Canonicalize is for digests and comparisons only.
func Marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Compact validates data as a single JSON value and strips insignificant
// whitespace, leaving every token as written.
func Compact(data []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("compact: %w", err)
	}
	return buf.Bytes(), nil
}
