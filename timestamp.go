package icauth

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalizeTimestamp converts the timestamp representations returned by
// providers (decimal string, JSON float, signed or unsigned integer)
// into the canonical unsigned nanosecond form. This is the single point
// where provider timestamps enter the system; everything downstream
// works with uint64 nanoseconds.
func NormalizeTimestamp(v any) (uint64, error) {
	switch t := v.(type) {
	case uint64:
		return t, nil
	case uint32:
		return uint64(t), nil
	case int64:
		if t < 0 {
			return 0, fmt.Errorf("negative timestamp %d", t)
		}
		return uint64(t), nil
	case int:
		if t < 0 {
			return 0, fmt.Errorf("negative timestamp %d", t)
		}
		return uint64(t), nil
	case float64:
		if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("timestamp %v not representable", t)
		}
		return uint64(t), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, fmt.Errorf("empty timestamp string")
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("timestamp %q: %w", t, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported timestamp type %T", v)
	}
}
