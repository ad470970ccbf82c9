// Package ir provides the canonical value representation used to fingerprint
// record layouts and patch jump tables.
//
// This package imports nothing internal. Every fingerprint the runtime
// compares across patches (shape signatures, jump-table fingerprints) is
// computed here so that two builds of the same layout always agree.
//
// Key design constraints:
//   - NO float types (fingerprints must be bit-stable) - use int64
//   - Object keys are ordered by UTF-16 code units (RFC 8785)
//   - Strings are NFC normalised before hashing
package ir
