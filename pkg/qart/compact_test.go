package qart

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCompact_Bounds(t *testing.T) {
	l := Limits{MaxString: 4, MaxItems: 2, MaxDepth: 2}

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"short string kept", `"abc"`, `"abc"`},
		{"long string cut", `"abcdefgh"`, `"abcd…(+4 chars)"`},
		{"multibyte counted in runes", `"가나다라마"`, `"가나다라…(+1 chars)"`},
		{"array cut", `[1,2,3,4]`, `[1,2,"… +2 items"]`},
		{"object cut", `{"c":1,"a":2,"b":3}`, `{"a":2,"b":3,"…":"+1 keys"}`},
		{"depth cut", `{"a":{"b":{"c":1}}}`, `{"a":{"b":"{… 1 keys}"}}`},
		{"nested array depth cut", `[[[1,2]]]`, `[["[… 2 items]"]]`},
		{"numbers untouched", `12345678901234567890`, `12345678901234567890`},
	}

	for _, tc := range cases {
		got, err := Compact(json.RawMessage(tc.in), l)
		if err != nil {
			t.Fatalf("%s: Compact failed: %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestCompact_Deterministic(t *testing.T) {
	raw := json.RawMessage(`{"z":"` + strings.Repeat("x", 300) + `","m":[1,2,3],"a":{"k":"v"}}`)

	first, err := Compact(raw, Limits{})
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := Compact(raw, Limits{})
		if string(again) != string(first) {
			t.Fatalf("compact output changed between calls:\n%s\n%s", first, again)
		}
	}
}

func TestCompact_InvalidJSON(t *testing.T) {
	if _, err := Compact(json.RawMessage(`{"a":`), DefaultLimits()); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}
