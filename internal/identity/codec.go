// Package identity converts public keys between their textual encodings:
// 64-char hex, bech32 npub and the legacy 8-char hex prefix.
//
// Prefix forms are classified but never decoded; resolving a prefix needs an
// explicit lookup against a set of known full keys.
package identity

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"

	apperrors "github.com/user/nostrgit/internal/errors"
)

const (
	// HexLength is the length of a full hex public key.
	HexLength = 64
	// PrefixLength is the length of a legacy short key prefix.
	PrefixLength = 8

	npubHRP = "npub1"
)

// Form classifies an identity string.
type Form int

const (
	FormEmpty Form = iota
	FormHex
	FormNpub
	FormPrefix
	FormLegacy
)

func (f Form) String() string {
	switch f {
	case FormHex:
		return "hex"
	case FormNpub:
		return "npub"
	case FormPrefix:
		return "prefix"
	case FormLegacy:
		return "legacy"
	default:
		return "empty"
	}
}

// Classify returns the form of s without allocating a decoded key.
// An npub whose checksum fails is FormLegacy.
func Classify(s string) Form {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return FormEmpty
	case IsFullHex(s):
		return FormHex
	case IsNpub(s):
		return FormNpub
	case IsPrefixForm(s):
		return FormPrefix
	default:
		return FormLegacy
	}
}

// DecodeToHex returns the lowercase hex key for a hex or npub identifier.
func DecodeToHex(identifier string) (string, error) {
	s := strings.TrimSpace(identifier)
	if IsFullHex(s) {
		return strings.ToLower(s), nil
	}
	if !strings.HasPrefix(strings.ToLower(s), npubHRP) {
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidIdentifier, identifier)
	}

	prefix, value, err := nip19.Decode(strings.ToLower(s))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidIdentifier, err)
	}
	if prefix != "npub" {
		return "", fmt.Errorf("%w: unexpected bech32 prefix %q", apperrors.ErrInvalidIdentifier, prefix)
	}
	pk, ok := value.(string)
	if !ok || !IsFullHex(pk) {
		return "", fmt.Errorf("%w: npub payload is not a 32-byte key", apperrors.ErrInvalidIdentifier)
	}
	return strings.ToLower(pk), nil
}

// EncodeToBech32 returns the npub encoding of a full hex key.
func EncodeToBech32(hexKey string) (string, error) {
	s := strings.TrimSpace(hexKey)
	if !IsFullHex(s) {
		return "", fmt.Errorf("%w: %q is not a 64-char hex key", apperrors.ErrInvalidIdentifier, hexKey)
	}
	npub, err := nip19.EncodePublicKey(strings.ToLower(s))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidIdentifier, err)
	}
	return npub, nil
}

// IsFullHex reports whether s is exactly 64 hex characters, any case.
func IsFullHex(s string) bool {
	return len(s) == HexLength && isHex(s)
}

// IsPrefixForm reports whether s is an 8-char hex prefix candidate.
func IsPrefixForm(s string) bool {
	return len(s) == PrefixLength && isHex(s)
}

// IsNpub reports whether s is a checksum-valid npub.
func IsNpub(s string) bool {
	if !strings.HasPrefix(strings.ToLower(s), npubHRP) {
		return false
	}
	_, err := DecodeToHex(s)
	return err == nil
}

// IsRecognized reports whether s is a full identity encoding (hex or npub).
func IsRecognized(s string) bool {
	f := Classify(s)
	return f == FormHex || f == FormNpub
}

// Resolve decodes s to hex, returning "" rather than an error. Used by the
// reconciliation code, which tolerates legacy values.
func Resolve(s string) string {
	h, err := DecodeToHex(s)
	if err != nil {
		return ""
	}
	return h
}

// Npub encodes a hex key, returning "" on failure.
func Npub(hexKey string) string {
	n, err := EncodeToBech32(hexKey)
	if err != nil {
		return ""
	}
	return n
}

// HasPrefixFold reports whether key starts with prefix, ignoring case.
func HasPrefixFold(key, prefix string) bool {
	return len(key) >= len(prefix) && strings.EqualFold(key[:len(prefix)], prefix)
}

// Short returns a display fallback for any identity string: a truncated
// npub for decodable keys, otherwise the input itself.
func Short(s string) string {
	if h := Resolve(s); h != "" {
		n := Npub(h)
		return n[:12] + "…" + n[len(n)-4:]
	}
	return s
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
