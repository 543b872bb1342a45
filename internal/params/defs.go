package params

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// LayerDefs holds per-layer definition expressions. It is one of
// [LayerDefList], [LayerDefMap] or [LayerDefText].
type LayerDefs interface {
	entries() []string
}

// LayerDefList is positional: the expression at index i applies to layer i.
// Empty entries are skipped.
type LayerDefList []string

func (l LayerDefList) entries() []string {
	var out []string
	for i, expr := range l {
		if expr == "" {
			continue
		}
		out = append(out, strconv.Itoa(i)+":"+expr)
	}
	return out
}

// LayerDefMap maps explicit layer indexes to expressions.
type LayerDefMap map[string]string

func (m LayerDefMap) entries() []string {
	out := make([]string, 0, len(m))
	for _, k := range m.keys() {
		out = append(out, k+":"+m[k])
	}
	return out
}

// keys returns the indexes in numeric order; non-numeric keys sort last,
// lexically.
func (m LayerDefMap) keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		switch {
		case aerr == nil && berr == nil:
			return a < b
		case aerr == nil:
			return true
		case berr == nil:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}

// LayerDefText is an already-serialized layerDefs value. The export
// encoder does not accept it; identify passes it through verbatim.
type LayerDefText string

func (LayerDefText) entries() []string { return nil }

// EncodeLayerDefs renders definitions as "idx:expr;idx:expr".
// The second result is false when the field should be omitted.
func EncodeLayerDefs(d LayerDefs) (string, bool) {
	switch d.(type) {
	case LayerDefList, LayerDefMap:
	default:
		return "", false
	}

	entries := d.entries()
	if len(entries) == 0 {
		return "", false
	}
	return strings.Join(entries, ";"), true
}

// LayerDefsJSON renders definitions the way the identify endpoint takes
// them: a map becomes a JSON object, a list becomes the empty string and
// text is passed through.
func LayerDefsJSON(d LayerDefs) string {
	switch defs := d.(type) {
	case LayerDefMap:
		b, err := json.Marshal(map[string]string(defs))
		if err != nil {
			return ""
		}
		return string(b)
	case LayerDefText:
		return string(defs)
	}
	return ""
}

// ParseLayerDefs resolves a loosely typed layerDefs value into a
// [LayerDefs]. Unsupported shapes yield nil.
func ParseLayerDefs(v any) LayerDefs {
	switch d := v.(type) {
	case nil:
		return nil
	case LayerDefs:
		return d
	case []string:
		return LayerDefList(d)
	case []any:
		list := make(LayerDefList, len(d))
		for i, item := range d {
			if s, ok := scalar(item); ok && truthy(item) {
				list[i] = s
			}
		}
		return list
	case map[string]string:
		return LayerDefMap(d)
	case map[int]string:
		m := make(LayerDefMap, len(d))
		for k, expr := range d {
			m[strconv.Itoa(k)] = expr
		}
		return m
	case map[string]any:
		m := make(LayerDefMap, len(d))
		for k, item := range d {
			if s, ok := scalar(item); ok {
				m[k] = s
			}
		}
		return m
	case map[any]any:
		m := make(LayerDefMap, len(d))
		for k, item := range d {
			s, ok := scalar(item)
			if !ok {
				continue
			}
			m[fmt.Sprint(k)] = s
		}
		return m
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return v != nil
}
