package transfer

import (
	"fmt"
	"io"
	"os"

	"github.com/tonimelisma/sharepoint-go/pkg/quickxorhash"
)

// ComputeQuickXorHash returns the base64 QuickXorHash of the file at path,
// reading it in constant memory.
func ComputeQuickXorHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("transfer: opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	return hashReader(f, path)
}

func hashReader(r io.Reader, name string) (string, error) {
	h := quickxorhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("transfer: hashing %s: %w", name, err)
	}

	return quickxorhash.Encode(h.Sum(nil)), nil
}

func hashBytes(data []byte) string {
	h := quickxorhash.New()
	h.Write(data)

	return quickxorhash.Encode(h.Sum(nil))
}

// verifyHash compares a locally computed hash against the one the server
// reported. An empty remote hash cannot be checked and passes.
func verifyHash(name, local, remote string) error {
	if remote == "" || local == remote {
		return nil
	}

	return fmt.Errorf("transfer: %s: local %s, server %s: %w", name, local, remote, ErrHashMismatch)
}
