package registry

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MarshalJSON serializes v, falling back to JSON null on failure so
// callers on the hot sync path never have to branch on encode errors.
func MarshalJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// RecordField extracts a string identity from a decoded record's member.
// Records arrive as generic JSON values, so numbers are float64.
func RecordField(record any, key string) string {
	m, ok := record.(map[string]any)
	if !ok {
		return ""
	}
	return IDString(m[key])
}

// IDString renders a JSON scalar as a stable identity string. Property
// ordering never affects the result.
func IDString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		// JSON integers survive the float64 round trip up to 2^53;
		// provider ids fit comfortably.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
