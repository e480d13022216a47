package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashWithDomain computes SHA-256(domain || 0x00 || data). The null
// separator prevents a short domain string from being confusable with a
// prefix of the data itself, so two different domains can never collide
// on the same hash even if one domain is a prefix of another.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashValue canonically marshals v and hashes it under domain.
func HashValue(domain string, v Value) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashWithDomain(domain, data), nil
}
