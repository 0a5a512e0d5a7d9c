// Package vault classifies memories into security tiers and seals vault
// content so the raw text never reaches the vector index or rests in the
// clear.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/types"
)

const (
	schemeChaCha = "chacha20poly1305"
	schemePlain  = "plain"
)

// vaultTerms force the vault tier; the memory is sealed and never embedded
var vaultTerms = []string{
	"pin", "password", "passcode", "ssn", "social security",
	"bank account", "credit card", "routing number", "passport number",
	"api key", "secret key", "license number", "safe combination",
}

// personalTerms mark the personal tier when no vault term fires
var personalTerms = []string{
	"my wife", "my husband", "my partner", "my kids", "my daughter", "my son",
	"my mom", "my dad", "birthday", "anniversary", "home address",
}

// Classify picks the security tier from the text and extracted features.
// Any sensitivity already implies personal.
func Classify(text string, features types.Features) types.SecurityTier {
	lower := strings.ToLower(text)
	words := make(map[string]bool)
	for _, w := range strings.Fields(lower) {
		words[strings.Trim(w, ".,!?;:'\"()")] = true
	}
	matches := func(term string) bool {
		if strings.Contains(term, " ") {
			return strings.Contains(lower, term)
		}
		return words[term]
	}

	for _, term := range vaultTerms {
		if matches(term) {
			return types.TierVault
		}
	}
	if len(features.Sensitivities) > 0 {
		return types.TierPersonal
	}
	for _, term := range personalTerms {
		if matches(term) {
			return types.TierPersonal
		}
	}
	return types.TierGeneral
}

// Sealer seals and opens vault envelopes. Without a key it falls back to a
// plain base64 scheme so the pipeline keeps working; the downgrade is
// logged once at startup.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a sealer from a 64-char hex key. An empty key yields the
// plain scheme.
func NewSealer(hexKey string) (*Sealer, error) {
	if hexKey == "" {
		logging.Info("vault", "no vault key configured, envelopes will not be encrypted")
		return &Sealer{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errs.E(errs.InvalidInput, "vault key is not valid hex")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, errs.E(errs.InvalidInput, "vault key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Encrypted reports whether sealed envelopes are actually encrypted
func (s *Sealer) Encrypted() bool {
	return s.aead != nil
}

// Seal wraps plaintext in an envelope
func (s *Sealer) Seal(plaintext string) (*types.Envelope, error) {
	if s.aead == nil {
		return &types.Envelope{
			Scheme: schemePlain,
			Data:   base64.StdEncoding.EncodeToString([]byte(plaintext)),
		}, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return &types.Envelope{
		Scheme: schemeChaCha,
		Nonce:  base64.StdEncoding.EncodeToString(nonce),
		Data:   base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// Open recovers the plaintext from an envelope
func (s *Sealer) Open(env *types.Envelope) (string, error) {
	if env == nil {
		return "", errs.E(errs.InvalidInput, "no envelope")
	}
	switch env.Scheme {
	case schemePlain:
		data, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return "", errs.E(errs.Internal, "envelope data is not valid base64")
		}
		return string(data), nil

	case schemeChaCha:
		if s.aead == nil {
			return "", errs.E(errs.PreconditionFailed, "vault key required to open this envelope")
		}
		nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
		if err != nil {
			return "", errs.E(errs.Internal, "envelope nonce is not valid base64")
		}
		data, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return "", errs.E(errs.Internal, "envelope data is not valid base64")
		}
		plain, err := s.aead.Open(nil, nonce, data, nil)
		if err != nil {
			return "", errs.E(errs.Unauthorized, "envelope did not open: wrong key or corrupted data")
		}
		return string(plain), nil

	default:
		return "", errs.E(errs.Internal, "unknown envelope scheme %q", env.Scheme)
	}
}
