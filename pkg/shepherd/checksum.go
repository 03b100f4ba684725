package shepherd

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/adler32"
	"strings"

	"github.com/zeebo/blake3"
)

// Supported checksum types.
const (
	ChecksumMD5     = "md5"
	ChecksumSHA1    = "sha1"
	ChecksumSHA256  = "sha256"
	ChecksumAdler32 = "adler32"
	ChecksumBLAKE3  = "blake3"
)

// NewHash returns a hash for the given checksum type.
func NewHash(checksumType string) (hash.Hash, error) {
	switch strings.ToLower(checksumType) {
	case ChecksumMD5:
		return md5.New(), nil
	case ChecksumSHA1:
		return sha1.New(), nil
	case ChecksumSHA256:
		return sha256.New(), nil
	case ChecksumAdler32:
		return adler32.New(), nil
	case ChecksumBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum type %q", checksumType)
	}
}

// Checksum returns the lowercase hex checksum of data.
func Checksum(checksumType string, data []byte) (string, error) {
	h, err := NewHash(checksumType)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum compares data against the expected hex checksum.
func VerifyChecksum(checksumType, expected string, data []byte) error {
	actual, err := Checksum(checksumType, data)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}
