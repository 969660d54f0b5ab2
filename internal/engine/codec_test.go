package engine

import "testing"

func TestJSONEqual(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", `{"a":1}`, `{"a":1}`, true},
		{"member order ignored", `{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{"nested member order ignored", `{"x":{"a":1,"b":2}}`, `{"x":{"b":2,"a":1}}`, true},
		{"array order matters", `[1,2]`, `[2,1]`, false},
		{"value change", `{"a":1}`, `{"a":2}`, false},
		{"null vs empty object", `null`, `{}`, false},
		{"both null", `null`, `null`, true},
		{"number formatting", `{"a":1.0}`, `{"a":1}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := jsonEqual([]byte(tc.a), []byte(tc.b)); got != tc.want {
				t.Fatalf("jsonEqual(%s, %s) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestAsSequence(t *testing.T) {
	t.Parallel()

	if _, ok := asSequence(nil); ok {
		t.Fatal("nil is not a sequence")
	}
	if _, ok := asSequence(map[string]any{"a": 1}); ok {
		t.Fatal("object is not a sequence")
	}
	if _, ok := asSequence("records"); ok {
		t.Fatal("string is not a sequence")
	}

	seq, ok := asSequence([]any{1.0, 2.0})
	if !ok || len(seq) != 2 {
		t.Fatalf("generic slice: ok=%v len=%d", ok, len(seq))
	}

	type repo struct {
		Name string `json:"name"`
	}
	seq, ok = asSequence([]repo{{Name: "a"}, {Name: "b"}})
	if !ok || len(seq) != 2 {
		t.Fatalf("typed slice: ok=%v len=%d", ok, len(seq))
	}
	rec, ok := seq[0].(map[string]any)
	if !ok || rec["name"] != "a" {
		t.Fatalf("typed slice must normalize to generic records, got %#v", seq[0])
	}

	seq, ok = asSequence([]any{})
	if !ok || len(seq) != 0 {
		t.Fatalf("empty sequence: ok=%v len=%d", ok, len(seq))
	}
}

func TestContentFingerprintStable(t *testing.T) {
	t.Parallel()

	a := contentFingerprint([]byte(`{"a":1,"b":2}`))
	b := contentFingerprint([]byte(`{"b":2,"a":1}`))
	if a != b {
		t.Fatalf("fingerprint must ignore member order: %q vs %q", a, b)
	}
	c := contentFingerprint([]byte(`{"a":1,"b":3}`))
	if a == c {
		t.Fatal("different content must not collide on trivially different records")
	}
}

func TestMarshalRecordNil(t *testing.T) {
	t.Parallel()

	data, err := marshalRecord(nil)
	if err != nil || string(data) != "null" {
		t.Fatalf("marshalRecord(nil) = %s, %v", data, err)
	}
}
