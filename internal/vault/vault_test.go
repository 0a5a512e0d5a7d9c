package vault

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/types"
)

func testKey() string {
	return hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text     string
		features types.Features
		want     types.SecurityTier
	}{
		{"My garage PIN is 4412", types.Features{}, types.TierVault},
		{"the bank account number is on the fridge", types.Features{}, types.TierVault},
		{"went shopping for a new jacket", types.Features{}, types.TierGeneral},
		{"my wife loved the restaurant", types.Features{}, types.TierPersonal},
		{"Sarah is going through a divorce", types.Features{Sensitivities: []string{"relationship"}}, types.TierPersonal},
		{"had a great standup today", types.Features{}, types.TierGeneral},
	}
	for _, tc := range tests {
		if got := Classify(tc.text, tc.features); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestClassifyWordBoundaries(t *testing.T) {
	// "shopping" contains "pin" but is not a vault trigger
	if got := Classify("spent the morning shopping", types.Features{}); got != types.TierGeneral {
		t.Errorf("substring leak: got %s", got)
	}
}

func TestSealOpenRoundtrip(t *testing.T) {
	s, err := NewSealer(testKey())
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	if !s.Encrypted() {
		t.Fatal("keyed sealer should encrypt")
	}

	env, err := s.Seal("My garage PIN is 4412")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if env.Scheme != "chacha20poly1305" || env.Nonce == "" {
		t.Errorf("envelope = %+v", env)
	}
	if strings.Contains(env.Data, "4412") {
		t.Error("sealed data leaks plaintext")
	}

	got, err := s.Open(env)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got != "My garage PIN is 4412" {
		t.Errorf("roundtrip = %q", got)
	}
}

func TestPlainSchemeWithoutKey(t *testing.T) {
	s, err := NewSealer("")
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	if s.Encrypted() {
		t.Fatal("keyless sealer must not claim encryption")
	}

	env, err := s.Seal("secret text")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if env.Scheme != "plain" {
		t.Errorf("scheme = %s", env.Scheme)
	}
	got, err := s.Open(env)
	if err != nil || got != "secret text" {
		t.Errorf("roundtrip = %q, %v", got, err)
	}
}

func TestOpenSealedWithoutKey(t *testing.T) {
	keyed, _ := NewSealer(testKey())
	env, _ := keyed.Seal("secret")

	keyless, _ := NewSealer("")
	_, err := keyless.Open(env)
	if !errs.Is(err, errs.PreconditionFailed) {
		t.Errorf("got %v, want precondition failed", err)
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	a, _ := NewSealer(testKey())
	env, _ := a.Seal("secret")

	other := hex.EncodeToString([]byte("ffffffffffffffffffffffffffffffff"))
	b, _ := NewSealer(other)
	_, err := b.Open(env)
	if !errs.Is(err, errs.Unauthorized) {
		t.Errorf("got %v, want unauthorized", err)
	}
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	if _, err := NewSealer("not-hex"); !errs.Is(err, errs.InvalidInput) {
		t.Errorf("non-hex key: %v", err)
	}
	if _, err := NewSealer("abcd"); !errs.Is(err, errs.InvalidInput) {
		t.Errorf("short key: %v", err)
	}
}
