// Package integrity binds clinical records to ledger anchors: it derives a
// content fingerprint from a record's clinical fields, submits that
// fingerprint to a ledger and later verifies a claimed fingerprint against
// the record and its anchor.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// ClinicalFields is the part of a record covered by the fingerprint.
// Optional fields are nil when unset.
type ClinicalFields struct {
	Title        string
	Content      string
	Diagnosis    *string
	Treatment    *string
	Prescription *string
}

// Column names of the clinical fields, in fingerprint order.
const (
	FieldTitle        = "title"
	FieldContent      = "content"
	FieldDiagnosis    = "diagnosis"
	FieldTreatment    = "treatment"
	FieldPrescription = "prescription"
)

var clinicalFieldSet = map[string]struct{}{
	FieldTitle:        {},
	FieldContent:      {},
	FieldDiagnosis:    {},
	FieldTreatment:    {},
	FieldPrescription: {},
}

// IsClinicalField reports whether a change to the named field invalidates
// the fingerprint.
func IsClinicalField(name string) bool {
	_, ok := clinicalFieldSet[strings.ToLower(name)]
	return ok
}

// TouchesClinical reports whether any of the changed field names is clinical.
func TouchesClinical(changed []string) bool {
	for _, name := range changed {
		if IsClinicalField(name) {
			return true
		}
	}
	return false
}

func (f ClinicalFields) parts() [5]string {
	return [5]string{f.Title, f.Content, deref(f.Diagnosis), deref(f.Treatment), deref(f.Prescription)}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Fingerprint is the legacy scheme: SHA-256 over the plain concatenation of
// the clinical fields, hex encoded. Field boundaries are not encoded, so
// {"ab","c"} and {"a","bc"} collide. Anchors written before FingerprintV2
// existed can only be re-verified with this scheme.
func Fingerprint(f ClinicalFields) string {
	h := sha256.New()
	for _, p := range f.parts() {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintV2 length-prefixes every field with a big-endian uint32 so that
// distinct field tuples never share a preimage.
func FingerprintV2(f ClinicalFields) string {
	h := sha256.New()
	var n [4]byte
	for _, p := range f.parts() {
		binary.BigEndian.PutUint32(n[:], uint32(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Scheme selects the fingerprint function.
type Scheme string

const (
	SchemeLegacy Scheme = "legacy"
	SchemeV2     Scheme = "v2"
)

// ParseScheme maps a configuration value to a Scheme. Empty means legacy.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeLegacy:
		return SchemeLegacy, nil
	case SchemeV2:
		return SchemeV2, nil
	default:
		return "", fmt.Errorf("unknown fingerprint scheme %q", s)
	}
}

// Compute returns the fingerprint of f under the scheme.
func (s Scheme) Compute(f ClinicalFields) string {
	if s == SchemeV2 {
		return FingerprintV2(f)
	}
	return Fingerprint(f)
}
