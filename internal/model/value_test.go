package model

import (
	"encoding/json"
	"testing"
)

func TestValueRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"null", `null`},
		{"bool", `true`},
		{"number", `42.5`},
		{"string", `"hello"`},
		{"empty_object", `{}`},
		{"empty_array", `[]`},
		{"nested", `{"a":{"b":[1,2,{"c":null}],"d":"x"},"e":false}`},
		{"nested_null", `{"outer":{"inner":null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Value
			if err := json.Unmarshal([]byte(tt.json), &v); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			out, err := json.Marshal(v)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(out) != tt.json {
				t.Errorf("expected %s, got %s", tt.json, out)
			}
		})
	}
}

func TestNormalizeMapping(t *testing.T) {
	tests := []struct {
		name string
		in   Value
	}{
		{"null", Null()},
		{"bool", Bool(true)},
		{"number", Number(7)},
		{"string", String("not a map")},
		{"sequence", Sequence(Number(1), Number(2))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeMapping(tt.in)
			if got.Kind() != KindMapping {
				t.Fatalf("expected mapping, got kind %d", got.Kind())
			}
			if got.Len() != 0 {
				t.Errorf("expected empty mapping, got %d keys", got.Len())
			}
			out, err := json.Marshal(got)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(out) != "{}" {
				t.Errorf("expected {}, got %s", out)
			}
		})
	}
}

func TestNormalizeMappingKeepsMappings(t *testing.T) {
	m := Mapping(map[string]Value{"k": Null()})
	got := NormalizeMapping(m)
	if !got.Equal(m) {
		t.Error("mapping input should pass through unchanged")
	}
	inner, ok := got.Get("k")
	if !ok || inner.Kind() != KindNull {
		t.Error("nested null should be preserved inside a mapping")
	}
}

func TestValueEqual(t *testing.T) {
	a := Mapping(map[string]Value{"x": Sequence(Number(1), String("s"))})
	b := Mapping(map[string]Value{"x": Sequence(Number(1), String("s"))})
	if !a.Equal(b) {
		t.Error("structurally identical values should be equal")
	}
	c := Mapping(map[string]Value{"x": Sequence(Number(2), String("s"))})
	if a.Equal(c) {
		t.Error("different values should not be equal")
	}
	if Null().Equal(EmptyMapping()) {
		t.Error("null and empty mapping are distinct shapes")
	}
}
