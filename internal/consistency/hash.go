package consistency

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"regexp"
)

var hexDigestRe = regexp.MustCompile(`^[0-9a-fA-F]{16,128}$`)

// LooksLikeDigest reports whether s already is a hex digest of
// plausible length. Values that already carry a caller-supplied hash
// are kept as-is instead of being re-hashed, so re-normalizing a record
// is stable.
func LooksLikeDigest(s string) bool {
	return hexDigestRe.MatchString(s)
}

// HashString returns the hex md5 of s. The digest is a fingerprint
// identity, not a security boundary.
func HashString(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// CanonicalHash hashes a structured value by serializing it with
// sorted keys first, so equal values always produce equal digests.
func CanonicalHash(v any) (string, bool) {
	// encoding/json writes map keys in sorted order.
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return HashString(string(b)), true
}

// FingerprintHash resolves a stored canvas/WebGL style value into a
// digest: structured values are canonically hashed, digest-looking
// strings are kept, any other non-empty string is hashed.
func FingerprintHash(v any) (string, bool) {
	switch val := v.(type) {
	case map[string]any, []any:
		return CanonicalHash(val)
	case string:
		if val == "" {
			return "", false
		}
		if LooksLikeDigest(val) {
			return val, true
		}
		return HashString(val), true
	default:
		return "", false
	}
}
