// Package fingerprint computes the document digests that identify credentials on-chain.
//
// A Digest is the SHA-256 of the document's raw bytes. It is presented as a 0x-prefixed
// lowercase hex string and passed to the registry contract as bytes32.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pilacorp/go-credential-registry/regerr"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// DefaultMaxDocumentBytes bounds FromReader and FromFile when no limit is given.
const DefaultMaxDocumentBytes int64 = 32 << 20

// Digest is the SHA-256 fingerprint of a document.
type Digest [Size]byte

// Sum fingerprints a document held in memory.
func Sum(document []byte) Digest {
	return Digest(sha256.Sum256(document))
}

// FromReader fingerprints a document streamed from r.
//
// Documents larger than maxBytes are rejected with an input error; a maxBytes of 0 applies
// DefaultMaxDocumentBytes. Read failures are reported as IO errors.
func FromReader(r io.Reader, maxBytes int64) (Digest, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}

	h := sha256.New()
	n, err := io.Copy(h, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return Digest{}, regerr.Wrap(regerr.CodeIO, err, "failed to read document")
	}
	if n > maxBytes {
		return Digest{}, regerr.Input("document exceeds %d bytes", maxBytes)
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// FromFile fingerprints the file at path.
func FromFile(path string, maxBytes int64) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, regerr.Wrap(regerr.CodeIO, err, fmt.Sprintf("failed to open %s", path))
	}
	defer f.Close()

	return FromReader(f, maxBytes)
}

// Parse decodes a 0x-prefixed (or bare) 64-character hex digest.
func Parse(s string) (Digest, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Digest{}, regerr.Input("invalid digest %q: %v", s, err)
	}
	if len(b) != Size {
		return Digest{}, regerr.Input("digest must be %d bytes, got %d", Size, len(b))
	}

	var d Digest
	copy(d[:], b)
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Hex returns the 0x-prefixed lowercase hex form.
func (d Digest) Hex() string {
	return "0x" + hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Bytes32 returns d in the form the ABI encoder expects for bytes32.
func (d Digest) Bytes32() [32]byte {
	return [32]byte(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
