package identity

import (
	"strings"

	"github.com/google/uuid"
)

// contactNamespace is the fixed namespace for deriving contact fingerprints
// from user emails. The same email always produces the same fingerprint and
// the fingerprint alone cannot be reversed to the email.
var contactNamespace = uuid.MustParse("e676f123-b5eb-4c44-a80b-8aa0e723cfe6")

// Fingerprint derives a deterministic UUID v5 (SHA-1 over namespace||name)
// from an email address. The email is lower-cased first so casing variants
// of the same address map to one contact. No validation is performed; a
// malformed email still yields a well-formed fingerprint.
func Fingerprint(email string) string {
	return uuid.NewSHA1(contactNamespace, []byte(strings.ToLower(email))).String()
}
