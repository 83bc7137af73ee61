package agent

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// requestID computes the representation-independent hash of a request
// content map: each key/value pair is hashed independently, the pair
// hashes are sorted, and the concatenation is hashed again. The result
// is what an identity signs (with the request domain separator).
func requestID(content map[string]any) []byte {
	pairs := make([][]byte, 0, len(content))
	for key, value := range content {
		kh := sha256.Sum256([]byte(key))
		vh := sha256.Sum256(encodeValue(value))
		pair := make([]byte, 0, len(kh)+len(vh))
		pair = append(pair, kh[:]...)
		pair = append(pair, vh[:]...)
		pairs = append(pairs, pair)
	}

	sort.Slice(pairs, func(i, j int) bool {
		return string(pairs[i]) < string(pairs[j])
	})

	h := sha256.New()
	for _, pair := range pairs {
		h.Write(pair)
	}
	return h.Sum(nil)
}

func encodeValue(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	case uint64:
		return encodeULEB128(t)
	case int:
		return encodeULEB128(uint64(t))
	default:
		// Envelope contents are built locally; any other type here is
		// a programming error.
		panic(fmt.Sprintf("unhashable request field type %T", v))
	}
}

func encodeULEB128(v uint64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}
