package qart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"
)

// Limits bounds compact projections. Artifacts may embed large base64
// images, so raw-JSON viewers get a truncated copy.
type Limits struct {
	MaxString int `mapstructure:"maxString"` // runes kept per string
	MaxItems  int `mapstructure:"maxItems"`  // elements kept per array or object
	MaxDepth  int `mapstructure:"maxDepth"`  // nesting levels kept
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxString: 96, MaxItems: 16, MaxDepth: 4}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxString <= 0 {
		l.MaxString = d.MaxString
	}
	if l.MaxItems <= 0 {
		l.MaxItems = d.MaxItems
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	return l
}

// Compact re-encodes raw with long strings, long arrays, wide objects and
// deep nesting cut off behind visible markers.
func Compact(raw json.RawMessage, l Limits) (json.RawMessage, error) {
	l = l.withDefaults()

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding artifact: %w", err)
	}

	out, err := json.Marshal(compactValue(v, l, 0))
	if err != nil {
		return nil, fmt.Errorf("encoding compact artifact: %w", err)
	}
	return out, nil
}

func compactValue(v any, l Limits, depth int) any {
	switch t := v.(type) {
	case string:
		return compactString(t, l.MaxString)
	case []any:
		if depth >= l.MaxDepth {
			return fmt.Sprintf("[… %d items]", len(t))
		}
		n := len(t)
		keep := n
		if keep > l.MaxItems {
			keep = l.MaxItems
		}
		out := make([]any, 0, keep+1)
		for _, item := range t[:keep] {
			out = append(out, compactValue(item, l, depth+1))
		}
		if n > keep {
			out = append(out, fmt.Sprintf("… +%d items", n-keep))
		}
		return out
	case map[string]any:
		if depth >= l.MaxDepth {
			return fmt.Sprintf("{… %d keys}", len(t))
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		keep := len(keys)
		if keep > l.MaxItems {
			keep = l.MaxItems
		}
		out := make(map[string]any, keep+1)
		for _, k := range keys[:keep] {
			out[k] = compactValue(t[k], l, depth+1)
		}
		if len(keys) > keep {
			out["…"] = fmt.Sprintf("+%d keys", len(keys)-keep)
		}
		return out
	default:
		return v
	}
}

func compactString(s string, max int) string {
	n := utf8.RuneCountInString(s)
	if n <= max {
		return s
	}
	runes := []rune(s)
	return fmt.Sprintf("%s…(+%d chars)", string(runes[:max]), n-max)
}
