package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest is the SHA-256 of a byte slice. Used as the content identity of
// normalized assets.
type Digest [sha256.Size]byte

// DigestOf computes the SHA-256 digest of data.
func DigestOf(data []byte) Digest {
	return sha256.Sum256(data)
}

// String returns the hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}
