package undofile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kirawi/undofile/internal/hashing"
)

// Revision payloads are content-addressed blobs: the payload field of a
// revision is the hex digest of the blob's content, and the blob lives at
// <state>/blobs/<digest>. Blobs are write-once; identical content from any
// client lands on the same file.

// PutBlob stores content in the blob directory and returns its reference.
// Writing an already-present blob is a no-op.
func PutBlob(blobDir string, content []byte) (string, error) {
	ref := hashing.HashBytes(content).String()
	path := filepath.Join(blobDir, ref)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	// Write-temp-then-rename so concurrent writers of the same blob never
	// expose a partial file under the final name.
	tmp, err := os.CreateTemp(blobDir, ".tmp-blob-*")
	if err != nil {
		return "", fmt.Errorf("failed to create blob temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store blob %s: %w", ref, err)
	}

	return ref, nil
}

// GetBlob reads a blob by its reference and verifies its content still
// matches the address.
func GetBlob(blobDir, ref string) ([]byte, error) {
	path := filepath.Join(blobDir, ref)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", ref, err)
	}

	if hashing.HashBytes(content).String() != ref {
		return nil, fmt.Errorf("blob %s content does not match its address", ref)
	}
	return content, nil
}
