package featurestore

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

// AsFloat64 converts a value decoded by a database driver into a feature
// value. NULL becomes NaN; unsupported types and unparsable strings also
// become NaN and raise a DataConversionWarning.
func AsFloat64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case []byte:
		return parseFloat(string(x))
	case string:
		return parseFloat(x)
	case nil:
		return math.NaN()
	default:
		errors.Warn(errors.NewDataConversionWarning(fmt.Sprintf("%T", v), "float64", "unsupported feature type, using NaN"))
		return math.NaN()
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		errors.Warn(errors.NewDataConversionWarning("string", "float64", fmt.Sprintf("cannot parse %q, using NaN", s)))
		return math.NaN()
	}
	return f
}

// AsInt64 converts an entity key value.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int:
		return int64(x), true
	case float64:
		return int64(x), x == math.Trunc(x)
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// AsTime converts an event timestamp stored as unix seconds or as a native
// time value.
func AsTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case int64:
		return time.Unix(x, 0).UTC(), true
	case int32:
		return time.Unix(int64(x), 0).UTC(), true
	case float64:
		sec, frac := math.Modf(x)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}
