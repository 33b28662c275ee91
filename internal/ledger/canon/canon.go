// Package canon implements the canonical serialization rules of spec §4.2:
// deterministic JSON with recursively sorted object keys, and deterministic
// CBOR for compact proof transport. Both formats are used in exactly two
// places in the system: leaf hashing and proof transport, and both must be
// bit-exact across runs and implementations.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MaxSafeInteger is the largest integer representable exactly as an
// IEEE-754 double. Values outside this range are rendered as decimal
// strings rather than JSON numbers, per spec §4.2.
const MaxSafeInteger = 1<<53 - 1

// MarshalJSON produces the canonical JSON byte image of v: object keys in
// ascending Unicode code-point order (recursively), no insignificant
// whitespace, UTF-8 encoding, arrays in original order, explicit nulls
// preserved, absent/omitted fields dropped by the normal encoding/json
// rules before this function ever sees them.
//
// v is first marshaled with the standard encoding/json encoder (so
// `json:"...,omitempty"` struct tags are honored) and then canonicalized by
// decoding into a generic tree and re-encoding with sorted keys.
func MarshalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: decode for canonicalization: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, val)
	case string:
		return encodeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canon: unsupported type %T", v)
	}
}

func encodeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("canon: encode string: %w", err)
	}
	buf.Write(b)
	return nil
}

// encodeNumber renders a JSON number canonically. Integers whose magnitude
// exceeds MaxSafeInteger are emitted as decimal strings rather than bare
// numbers, per spec §4.2, since such values would otherwise be subject to
// float rounding in a conformant-but-naive decoder on the wire.
func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		if i > MaxSafeInteger || i < -MaxSafeInteger {
			return encodeString(buf, n.String())
		}
		buf.WriteString(n.String())
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canon: invalid number %q: %w", n.String(), err)
	}
	if math.Abs(f) > MaxSafeInteger {
		return encodeString(buf, n.String())
	}
	buf.WriteString(n.String())
	return nil
}

// FormatTimestamp renders t as ISO-8601 UTC with millisecond precision, the
// fixed timestamp format spec §4.2 requires.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// cborMode is a deterministic CBOR encoding mode: sorted map keys,
// definite-length encoding. fxamacker/cbor/v2's canonical mode implements
// both directly, so no hand-rolled CBOR writer is needed (see DESIGN.md).
var cborMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("canon: invalid cbor encoding options: %v", err))
	}
	return mode
}()

// MarshalCBOR produces the canonical (deterministic, sorted-key,
// definite-length) CBOR byte image of v.
func MarshalCBOR(v any) ([]byte, error) {
	b, err := cborMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: cbor marshal: %w", err)
	}
	return b, nil
}

// UnmarshalCBOR decodes a canonical CBOR byte image into v.
func UnmarshalCBOR(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("canon: cbor unmarshal: %w", err)
	}
	return nil
}
