package sync

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// fileDigest computes the BLAKE2b-256 digest of a file's content.
func fileDigest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("blake2b: %w", err)
	}
	bufp := copyBuffers.Get().(*[]byte)
	_, err = io.CopyBuffer(h, f, *bufp)
	copyBuffers.Put(bufp)
	if err != nil {
		return nil, fmt.Errorf("digest %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// checksumEqual reports whether two files hold identical content.
func checksumEqual(a, b string) (bool, error) {
	da, err := fileDigest(a)
	if err != nil {
		return false, err
	}
	db, err := fileDigest(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}
