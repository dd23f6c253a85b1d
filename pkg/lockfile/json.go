package lockfile

import (
	"bytes"
	"encoding/json"
)

// unmarshalStrict decodes JSON disallowing unknown fields so a lockfile
// written by a newer tool version fails loudly instead of silently
// dropping fields it doesn't recognize.
func unmarshalStrict(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// prettyPrint re-indents already-canonical JSON bytes for human-friendly
// on-disk storage. It never changes key order or content, only whitespace.
func prettyPrint(raw []byte) ([]byte, error) {
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
