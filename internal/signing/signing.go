// Package signing implements the Ingest Gateway's authentication
// scheme (§4.1): HMAC-SHA256 over the canonical JSON serialization of
// a payload, verified in constant time.
//
// Canonical serialization means object keys lexicographically sorted,
// no insignificant whitespace, UTF-8. The exact bytes received must be
// the bytes canonicalized before verification — re-serializing after
// parsing would not reproduce the sender's byte-for-byte canonical
// form if the sender's JSON encoder orders keys differently, so
// Canonicalize operates on an already-decoded generic value and
// re-encodes deterministically rather than trusting either party's
// original byte stream.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize decodes arbitrary JSON and re-encodes it with object
// keys sorted lexicographically and no insignificant whitespace. It
// is the single source of truth for "the canonical serialization of
// the payload" referenced throughout §4.1.
func Canonicalize(raw []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, fmt.Errorf("canonicalize: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
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
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

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

	default:
		// Strings, booleans, nulls, and json.Number (preserved verbatim
		// by UseNumber so integers never round-trip through float64).
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// Sign computes the hex HMAC-SHA256 of the canonical form of raw,
// suitable for the X-Reality-Signature header.
func Sign(secret []byte, raw []byte) (string, error) {
	canon, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canon)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether sigHex is the correct hex HMAC-SHA256 of the
// canonical form of raw under secret, using a constant-time equality
// check throughout.
func Verify(secret []byte, raw []byte, sigHex string) bool {
	canon, err := Canonicalize(raw)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canon)
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, given)
}
