package identity

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fingerprintShape = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("alice@example.com")
	b := Fingerprint("alice@example.com")
	assert.Equal(t, a, b)
}

func TestFingerprint_CaseInsensitive(t *testing.T) {
	tests := []struct {
		name  string
		left  string
		right string
		same  bool
	}{
		{"upper vs lower", "Alice@Example.COM", "alice@example.com", true},
		{"mixed casing", "aLiCe@ExAmPlE.com", "ALICE@example.COM", true},
		{"different locals", "alice@example.com", "bob@example.com", false},
		{"different domains", "alice@example.com", "alice@example.org", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left := Fingerprint(tt.left)
			right := Fingerprint(tt.right)
			if tt.same {
				assert.Equal(t, left, right)
			} else {
				assert.NotEqual(t, left, right)
			}
		})
	}
}

func TestFingerprint_Format(t *testing.T) {
	for _, email := range []string{"alice@example.com", "", "not-an-email", "UPPER@CASE.NET"} {
		fp := Fingerprint(email)
		require.Regexp(t, fingerprintShape, fp, "email %q", email)

		// Version nibble is 5 (name-based SHA-1), variant is RFC 4122.
		assert.Equal(t, byte('5'), fp[14], "version nibble for %q", email)
		assert.Contains(t, "89ab", string(fp[19]), "variant for %q", email)
	}
}

func TestFingerprint_DoesNotContainEmail(t *testing.T) {
	fp := Fingerprint("alice@example.com")
	assert.NotContains(t, fp, "alice")
	assert.NotContains(t, fp, "example")
}
