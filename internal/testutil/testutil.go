package testutil

import (
	"flag"
	"testing"
)

var RunLong = flag.Bool("long", false, "run long/heavy tests (production key sizes)")

const (
	// ShortKeyBits keeps key generation fast in the default test run.
	ShortKeyBits = 512
	LongKeyBits  = 2048
)

func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping long test (use -long to enable)")
	}
}

func IsLongEnabled() bool {
	return *RunLong
}

// KeyBits is the Paillier modulus size tests should generate.
func KeyBits() int {
	if IsLongEnabled() {
		return LongKeyBits
	}
	return ShortKeyBits
}
