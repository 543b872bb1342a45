package params

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Values is an insertion-ordered set of query parameters. Setting an
// existing key replaces its value in place.
type Values struct {
	keys []string
	vals map[string]string
}

// NewValues creates an empty parameter set.
func NewValues() *Values {
	return &Values{vals: make(map[string]string)}
}

// Set stores value under key, formatting numbers and booleans the way
// they print in a URL.
func (v *Values) Set(key string, value any) *Values {
	if v.vals == nil {
		v.vals = make(map[string]string)
	}
	if _, ok := v.vals[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.vals[key] = format(value)
	return v
}

// Get returns the value stored under key.
func (v *Values) Get(key string) (string, bool) {
	if v == nil {
		return "", false
	}
	s, ok := v.vals[key]
	return s, ok
}

// Del removes key.
func (v *Values) Del(key string) {
	if _, ok := v.vals[key]; !ok {
		return
	}
	delete(v.vals, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (v *Values) Keys() []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v.keys...)
}

// Len returns the number of parameters.
func (v *Values) Len() int {
	if v == nil {
		return 0
	}
	return len(v.keys)
}

// Clone returns an independent copy.
func (v *Values) Clone() *Values {
	out := NewValues()
	if v == nil {
		return out
	}
	for _, k := range v.keys {
		out.Set(k, v.vals[k])
	}
	return out
}

// Merge sets every parameter of other onto v, in other's order.
func (v *Values) Merge(other *Values) *Values {
	if other == nil {
		return v
	}
	for _, k := range other.keys {
		v.Set(k, other.vals[k])
	}
	return v
}

// Encode serializes the parameters as key=value pairs joined by "&",
// percent-encoding both sides. Spaces encode as %20.
func (v *Values) Encode() string {
	if v.Len() == 0 {
		return ""
	}
	var b strings.Builder
	for i, k := range v.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(Escape(k))
		b.WriteByte('=')
		b.WriteString(Escape(v.vals[k]))
	}
	return b.String()
}

// Escape percent-encodes a single query component.
func Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func format(value any) string {
	switch x := value.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	case nil:
		return ""
	}
	return fmt.Sprint(value)
}
