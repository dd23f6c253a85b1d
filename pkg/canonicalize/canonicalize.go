// Package canonicalize provides deterministic JSON serialization and SHA-256
// hashing used for every hash-bearing artifact in redletters: lockfiles,
// variant stores, receipts, snapshots, and bundle manifests.
//
// This is the one place determinism lives. No formatting here may depend on
// locale, platform, float representation, or map-iteration order.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// JSON returns the canonical JSON representation of v: UTF-8, object keys
// sorted lexicographically by byte value, no HTML escaping, no trailing
// whitespace, numbers preserved exactly as encoded by the standard marshaler.
func JSON(v interface{}) ([]byte, error) {
	// Marshal with the standard encoder first so struct tags, omitempty, and
	// custom MarshalJSON methods are honored, then decode into a generic tree
	// and re-encode it canonically.
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal failed: %w", err)
	}

	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decode failed: %w", err)
	}

	return encode(generic)
}

// MustJSON is JSON but panics on error; reserved for constants/tests where the
// input is known-good.
func MustJSON(v interface{}) []byte {
	b, err := JSON(v)
	if err != nil {
		panic(err)
	}
	return b
}

// ContentHash returns the lowercase hex SHA-256 digest of the canonical JSON
// representation of v.
func ContentHash(v interface{}) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the lowercase hex SHA-256 digest of a string.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// FileHash streams a file in fixed-size chunks and returns its lowercase hex
// SHA-256 digest. Used for pack content hashing and bundle artifact hashing.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("canonicalize: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("canonicalize: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func encode(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		return encodeString(t)
	case []interface{}:
		return encodeArray(t)
	case map[string]interface{}:
		return encodeObject(t)
	default:
		// Anything else (e.g. a json.RawMessage that escaped decoding) falls
		// back to the standard encoder with HTML escaping disabled.
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
	}
}

func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func encodeArray(items []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := encode(item)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func encodeObject(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := encodeString(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')

		vb, err := encode(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ContentHashElided computes the content hash of v as a JSON object with the
// named top-level keys removed first. Used for self-referential hash fields
// such as Lockfile.lockfile_hash, which must be computed over the object as
// it would look without the hash itself.
func ContentHashElided(v interface{}, elideKeys ...string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize: marshal failed: %w", err)
	}

	var m map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return "", fmt.Errorf("canonicalize: decode failed: %w", err)
	}
	for _, k := range elideKeys {
		delete(m, k)
	}

	b, err := encodeObject(m)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// ConcatHash computes SHA-256 over the concatenation (in the order given) of
// a set of already-computed hex hashes, used for bundle content_hash and run
// log content_hash aggregation.
func ConcatHash(hashes []string) string {
	h := sha256.New()
	for _, hh := range hashes {
		h.Write([]byte(hh))
	}
	return hex.EncodeToString(h.Sum(nil))
}
