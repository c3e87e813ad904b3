package hashkit

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"toolbox/internal/toolerr"
)

// Algorithms in display order.
var Algorithms = []string{"sha256", "sha512", "sha3-256", "blake2b", "base64"}

var algoNames = map[string]string{
	"sha256":   "SHA-256",
	"sha512":   "SHA-512",
	"sha3-256": "SHA3-256",
	"blake2b":  "BLAKE2b-512",
	"base64":   "Base64",
}

// IsAlgorithm reports whether name is a supported algorithm.
func IsAlgorithm(name string) bool {
	_, ok := algoNames[strings.ToLower(name)]
	return ok
}

// Digest encodes text with algo. Hashes are lowercase hex; base64 is the
// standard padded encoding of the UTF-8 bytes.
func Digest(algo, text string) (string, error) {
	if text == "" {
		return "", toolerr.Validation("enter some text to hash")
	}
	b := []byte(text)
	switch strings.ToLower(algo) {
	case "sha256":
		sum := sha256.Sum256(b)
		return hex.EncodeToString(sum[:]), nil
	case "sha512":
		sum := sha512.Sum512(b)
		return hex.EncodeToString(sum[:]), nil
	case "sha3-256":
		sum := sha3.Sum256(b)
		return hex.EncodeToString(sum[:]), nil
	case "blake2b":
		sum := blake2b.Sum512(b)
		return hex.EncodeToString(sum[:]), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(b), nil
	default:
		return "", toolerr.Validation("unknown algorithm " + algo + " (use " + strings.Join(Algorithms, ", ") + ")")
	}
}
