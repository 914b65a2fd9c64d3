// Package hashing computes content digests of document files.
//
// Digests are SHA-256 and identify a document's full content at a point in
// time. Two properties matter to callers: a digest can be recomputed from the
// file on disk at any moment, and comparing digests is the only way the
// system detects edits made outside the editor.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// DigestLength is the size of a content digest in bytes.
const DigestLength = sha256.Size

// Digest is a SHA-256 content digest.
//
// Digests render as lowercase hex and round-trip through JSON as text.
type Digest [DigestLength]byte

// String returns the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for log output.
func (d Digest) Short() string {
	return d.String()[:12]
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid digest %q: %w", text, err)
	}
	if len(raw) != DigestLength {
		return fmt.Errorf("invalid digest length: got %d bytes, want %d", len(raw), DigestLength)
	}
	copy(d[:], raw)
	return nil
}

// HashReader consumes the reader and returns the digest of everything read.
func HashReader(r io.Reader) (Digest, error) {
	hasher := sha256.New()
	buf := make([]byte, 8192)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Digest{}, err
		}
	}

	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d, nil
}

// HashBytes returns the digest of the given content.
func HashBytes(content []byte) Digest {
	return sha256.Sum256(content)
}

// HashFile returns the digest of the file's current content.
//
// A file that does not exist hashes as empty content, matching the empty
// initial revision a new document starts from.
func HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return HashBytes(nil), nil
	}
	if err != nil {
		return Digest{}, fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	return HashReader(f)
}

// Equal reports whether two digests are identical.
func Equal(a, b Digest) bool {
	return bytes.Equal(a[:], b[:])
}
