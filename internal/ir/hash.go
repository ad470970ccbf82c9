package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainShape     = "hotpatch/shape/v1"
	DomainJumpTable = "hotpatch/jumptable/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ShapeSignature fingerprints a record layout description.
// Two layouts with the same field names, types, kinds and offsets always
// produce the same signature regardless of the build that produced them.
func ShapeSignature(layout Object) (string, error) {
	canonical, err := MarshalCanonical(layout)
	if err != nil {
		return "", fmt.Errorf("ShapeSignature: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainShape, canonical), nil
}

// JumpTableFingerprint fingerprints a jump table (library + symbol map).
// Used by the patch ledger to recognise a re-delivered patch.
func JumpTableFingerprint(lib string, mapping map[string]string) (string, error) {
	m := make(Object, len(mapping))
	for from, to := range mapping {
		m[from] = String(to)
	}
	canonical, err := MarshalCanonical(NewObject(O("lib", String(lib)), O("map", m)))
	if err != nil {
		return "", fmt.Errorf("JumpTableFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainJumpTable, canonical), nil
}
