package filter

import (
	"fmt"

	"github.com/roach88/bsky-store/internal/canon"
)

// DomainSignature is the hash domain used to separate filter signatures
// from every other content-addressed hash in bsky-store (sync source keys,
// checkpoint identity), so a coincidental byte collision between a filter's
// JSON and, say, a checkpoint cursor's JSON can never produce the same hash.
const DomainSignature = "bsky-store/filter/v1"

// Signature computes the canonical, content-addressed signature of expr:
// a SHA-256 hash, domain-separated, over the RFC 8785 canonical JSON
// encoding of its wire form. Two Exprs with structurally equal JSON
// encodings always produce the same signature; any difference - including
// key order in the underlying map construction - does not affect the
// result, since canonical JSON always sorts keys.
func Signature(expr Expr) (string, error) {
	wire, err := Encode(expr)
	if err != nil {
		return "", fmt.Errorf("filter signature: encode: %w", err)
	}
	value, err := canon.ParseJSON(wire)
	if err != nil {
		return "", fmt.Errorf("filter signature: parse: %w", err)
	}
	return canon.HashValue(DomainSignature, value)
}

// MustSignature is like Signature but panics on error. Reserved for tests
// and call sites where expr has already passed Compile.
func MustSignature(expr Expr) string {
	sig, err := Signature(expr)
	if err != nil {
		panic(err)
	}
	return sig
}
