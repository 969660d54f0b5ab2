package engine

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
	"reflect"
	"strconv"
)

// marshalRecord serializes a record through the same codec used for
// storage. A nil record becomes explicit JSON null, which is a valid
// stored value for singleton objects.
func marshalRecord(record any) ([]byte, error) {
	if record == nil {
		return []byte("null"), nil
	}
	return json.Marshal(record)
}

// jsonEqual reports structural equality of two serialized snapshots:
// order-independent for objects, order-sensitive for arrays. Snapshots
// that fail to decode fall back to byte comparison.
func jsonEqual(a, b []byte) bool {
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(av, bv)
}

// asSequence validates that a fetch result is a sequence of records.
// Typed slices from integration clients are accepted alongside generic
// JSON arrays by normalizing through the codec.
func asSequence(result any) ([]any, bool) {
	switch seq := result.(type) {
	case nil:
		return nil, false
	case []any:
		return seq, true
	case []map[string]any:
		out := make([]any, len(seq))
		for i, rec := range seq {
			out[i] = rec
		}
		return out, true
	}

	rv := reflect.ValueOf(result)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, false
	}
	var out []any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// contentFingerprint derives a stable identity for records whose
// integration declares no row identity function and which carry no "id"
// member. Identical records always hash identically because the hash is
// taken over the decoded, key-sorted form.
func contentFingerprint(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err == nil {
		if canonical, err := json.Marshal(v); err == nil {
			data = canonical
		}
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return "h" + strconv.FormatUint(h.Sum64(), 16)
}
