package utils

import (
	"bytes"
	"encoding/json"
)

// MarshalNoEscape marshals JSON without HTML escaping.
// This keeps prompts containing '<' or '&' readable in the persisted documents.
func MarshalNoEscape(v any) ([]byte, error) {
	return marshal(v, "")
}

// MarshalIndentNoEscape is MarshalNoEscape with two-space indentation, used
// for the on-disk documents that humans occasionally inspect.
func MarshalIndentNoEscape(v any) ([]byte, error) {
	return marshal(v, "  ")
}

func marshal(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder adds a trailing newline; remove it for parity with json.Marshal.
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return out, nil
}
