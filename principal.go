package icauth

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
)

// Principal is the canonical caller identifier in the backend's access
// control model: an opaque blob of at most 29 bytes rendered in the
// checksummed base32 text format.
type Principal struct {
	raw []byte
}

const maxPrincipalLen = 29

var principalEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// SelfAuthenticating derives the principal owned by a public key.
func SelfAuthenticating(publicKey []byte) Principal {
	sum := sha256.Sum224(publicKey)
	raw := make([]byte, 0, len(sum)+1)
	raw = append(raw, sum[:]...)
	raw = append(raw, 0x02)
	return Principal{raw: raw}
}

// AnonymousPrincipal identifies unauthenticated callers.
func AnonymousPrincipal() Principal {
	return Principal{raw: []byte{0x04}}
}

// PrincipalFromRaw wraps raw principal bytes without copying.
func PrincipalFromRaw(raw []byte) (Principal, error) {
	if len(raw) == 0 || len(raw) > maxPrincipalLen {
		return Principal{}, fmt.Errorf("principal length %d out of range", len(raw))
	}
	return Principal{raw: raw}, nil
}

// PrincipalFromText parses and checksums the canonical text form.
// Structurally invalid addresses are how dead entries in the dependent
// canister list are detected, so this must reject rather than guess.
func PrincipalFromText(text string) (Principal, error) {
	cleaned := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(text), "-", ""))
	if cleaned == "" {
		return Principal{}, fmt.Errorf("empty principal text")
	}

	decoded, err := principalEncoding.DecodeString(cleaned)
	if err != nil {
		return Principal{}, fmt.Errorf("malformed principal %q: %w", text, err)
	}
	if len(decoded) < 4 {
		return Principal{}, fmt.Errorf("principal %q too short", text)
	}

	sum := binary.BigEndian.Uint32(decoded[:4])
	raw := decoded[4:]
	if crc32.ChecksumIEEE(raw) != sum {
		return Principal{}, fmt.Errorf("principal %q has invalid checksum", text)
	}
	if len(raw) > maxPrincipalLen {
		return Principal{}, fmt.Errorf("principal %q too long", text)
	}

	return Principal{raw: raw}, nil
}

func (p Principal) Raw() []byte { return p.raw }

func (p Principal) Empty() bool { return len(p.raw) == 0 }

func (p Principal) Equal(o Principal) bool { return bytes.Equal(p.raw, o.raw) }

func (p Principal) String() string {
	if p.Empty() {
		return ""
	}

	body := make([]byte, 4+len(p.raw))
	binary.BigEndian.PutUint32(body, crc32.ChecksumIEEE(p.raw))
	copy(body[4:], p.raw)

	encoded := principalEncoding.EncodeToString(body)
	var sb strings.Builder
	for i, r := range encoded {
		if i > 0 && i%5 == 0 {
			sb.WriteByte('-')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
