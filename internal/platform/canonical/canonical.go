// Package canonical produces deterministic serializations and digests for
// the compliance ledger hash chain. Entries are marshaled to JSON and
// normalized to RFC 8785 (JCS) form, so recomputing a hash from the stored
// fields always reproduces the original digest regardless of map iteration
// order or encoder quirks.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal returns the canonical JSON form of v.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// HashHex returns the lowercase hex SHA-256 digest of the canonical form of v.
func HashHex(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
