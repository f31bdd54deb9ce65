package address

import (
	"errors"
	"testing"
)

func TestNormalizeChecksums(t *testing.T) {
	got, err := Normalize("  0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Fatalf("unexpected checksum form %s", got)
	}

	upper, err := Normalize("0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
	if err != nil {
		t.Fatalf("normalize upper: %v", err)
	}
	if upper != got {
		t.Fatalf("expected %s, got %s", got, upper)
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "0x1234", "not-an-address"} {
		if _, err := Normalize(in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid for %q, got %v", in, err)
		}
	}
}

func TestShort(t *testing.T) {
	if got := Short("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"); got != "0x5aAeb605..." {
		t.Fatalf("unexpected short form %s", got)
	}
}
