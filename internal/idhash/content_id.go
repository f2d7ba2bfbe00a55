package idhash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mr-tron/base58"
)

// Multihash header for sha2-256 with a 32-byte digest.
const (
	multihashSHA256 = 0x12
	multihashLen    = 0x20
)

// ComputeContentID computes a content identifier for data.
// Formula: base58(0x12 0x20 || SHA256(data)), the CIDv0 shape ("Qm...").
// Identical content always yields the same identifier.
func ComputeContentID(data []byte) string {
	hash := sha256.Sum256(data)
	buf := make([]byte, 0, 2+len(hash))
	buf = append(buf, multihashSHA256, multihashLen)
	buf = append(buf, hash[:]...)
	return base58.Encode(buf)
}

// DocumentDigest returns the hex-encoded SHA256 of a serialized document.
// Used to compare replicas byte-for-byte.
func DocumentDigest(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
