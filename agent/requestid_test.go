package agent

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeULEB128(t *testing.T) {
	tests := []struct {
		in   uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, encodeULEB128(tt.in))
	}
}

func TestRequestIDReferenceVector(t *testing.T) {
	// Reference vector for the representation-independent hash of a
	// call request.
	content := map[string]any{
		"request_type": "call",
		"sender":       []byte{0x04},
		"canister_id":  []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 0xd2},
		"method_name":  "hello",
		"arg":          []byte("DIDL\x00\xfd*"),
	}
	got := requestID(content)
	assert.Equal(t,
		"9e082a1866df0ea040752f0629d2be3b246a822d4bf38c60ff948006b0d18288",
		hex.EncodeToString(got))
}

func TestRequestIDIsOrderIndependent(t *testing.T) {
	a := map[string]any{
		"request_type": "query",
		"method_name":  "greet",
		"arg":          []byte{0x01, 0x02},
	}
	b := map[string]any{
		"arg":          []byte{0x01, 0x02},
		"request_type": "query",
		"method_name":  "greet",
	}
	assert.Equal(t, requestID(a), requestID(b))
}

func TestRequestIDDistinguishesContent(t *testing.T) {
	base := map[string]any{
		"request_type":   "query",
		"method_name":    "greet",
		"ingress_expiry": uint64(1700000000000000000),
	}
	changed := map[string]any{
		"request_type":   "query",
		"method_name":    "greet",
		"ingress_expiry": uint64(1700000000000000001),
	}
	assert.NotEqual(t, requestID(base), requestID(changed))
}
