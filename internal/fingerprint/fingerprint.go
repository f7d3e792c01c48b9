// Package fingerprint computes content hashes used for change detection.
//
// Replication decisions compare fingerprints rather than modification times:
// a re-written identical file produces the same fingerprint, and a re-fetched
// blob after a transfer retry does not look like new data.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumFile returns the fingerprint of a file's full contents.
func SumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Sum(data), nil
}
