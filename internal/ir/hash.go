package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCall    = "durable/call/v1"
	DomainPayload = "durable/payload/v1"
)

// callKeyLen is the number of hex characters kept from a call key digest.
const callKeyLen = 32

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + part1 + 0x00 + part2 ...)
// The null byte separators prevent boundary ambiguity between parts.
func hashWithDomain(domain string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CallKey computes the instance key under which the call made at step of
// caller instance key is invoked on the callee.
//
// The key depends only on the caller identity and step position, so issuing
// the same call twice lands on the same callee instance and the second push
// is absorbed by the queue's idempotent insert.
func CallKey(caller, key string, step int) string {
	sum := hashWithDomain(DomainCall, []byte(caller), []byte(key), []byte(strconv.Itoa(step)))
	return sum[:callKeyLen]
}

// PayloadDigest returns a stable digest of a payload after canonicalization.
// Diagnostics use it to compare payloads without printing them.
func PayloadDigest(payload []byte) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainPayload, canonical), nil
}
