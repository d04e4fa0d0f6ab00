// Package digest computes the content identifiers used to name and verify pieces.
package digest

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is the BitTorrent piece hash, not a security boundary
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the digest length in bytes (160-bit SHA-1).
const Size = sha1.Size

// Digest is the SHA-1 of a byte span.
// Used as a map key, so it stays a fixed-size array.
type Digest [Size]byte

// Sum returns the digest of b. An empty or nil span hashes as the empty string.
func Sum(b []byte) Digest {
	return Digest(sha1.Sum(b)) //nolint:gosec // see import
}

// String returns the canonical upper-case hex form used in piece file names.
func (d Digest) String() string {
	return strings.ToUpper(hex.EncodeToString(d[:]))
}

func (d Digest) Bytes() []byte {
	return d[:]
}

func (d Digest) Equal(o Digest) bool {
	return d == o
}

// Concat returns the raw digests back to back, the layout of the metainfo
// "pieces" field.
func Concat(ds []Digest) []byte {
	out := make([]byte, 0, len(ds)*Size)
	for _, d := range ds {
		out = append(out, d[:]...)
	}
	return out
}

// Parse decodes a 40 character hex string (any case) into a Digest.
func Parse(s string) (Digest, error) {
	var d Digest
	if len(s) != 2*Size {
		return d, fmt.Errorf("invalid digest length %d (expected %d hex chars)", len(s), 2*Size)
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("invalid digest hex: %w", err)
	}
	return d, nil
}
