package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The wire encoding for every protocol object is JSON produced by this
// package: struct fields in declaration order, no HTML escaping, no
// indentation, byte strings as lowercase hex, amounts as integer base units.
// Encoding the same value twice yields identical bytes, which is what block
// ids, transaction ids and signatures are computed over.

// Encode marshals v into its canonical byte form.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	// Encoder appends a newline; the canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode unmarshals canonical bytes into v.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("canonical decode: %w", err)
	}
	return nil
}
