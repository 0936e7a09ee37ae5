// Package util provides hashing and small string helpers shared across packages.
package util

import (
	"encoding/binary"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// DigestSize is the number of digest bytes kept for identifiers.
const DigestSize = 20

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// Blake3Hash computes a BLAKE3 hash of the input and returns it as bytes.
func Blake3Hash(data []byte) []byte {
	hash := blake3.Sum256(data)
	return hash[:]
}

// Digest returns the first DigestSize bytes of the BLAKE3 hash of data.
func Digest(data []byte) []byte {
	return Blake3Hash(data)[:DigestSize]
}

// HashHex hashes parts and returns a 40-character hex digest. Every part is
// length-prefixed, so moving bytes between parts changes the digest.
func HashHex(parts ...string) string {
	h := blake3.New(32, nil)
	var size [binary.MaxVarintLen64]byte
	for _, p := range parts {
		n := binary.PutUvarint(size[:], uint64(len(p)))
		h.Write(size[:n])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil)[:DigestSize])
}

// RandomHashHex derives a fresh identifier from random bytes.
func RandomHashHex() string {
	id := uuid.New()
	return hex.EncodeToString(Digest(id[:]))
}

var specialCharacters = regexp.MustCompile("[{}()\\[\\]:;,/?'\"<>|=`!]")

// RemoveSpecialCharacters strips punctuation and all whitespace.
func RemoveSpecialCharacters(s string) string {
	s = specialCharacters.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), "")
}

// TrimLineBreaks removes every leading and trailing newline.
func TrimLineBreaks(s string) string {
	return strings.TrimRight(strings.TrimLeft(s, "\n"), "\n")
}
