// Package params encodes layer filter options into the flat query
// parameters a map service export or identify endpoint expects.
//
// Filter input arrives in loosely typed shapes (config files, JSON bodies)
// and is resolved once at the boundary by [ParseLayers] and
// [ParseLayerDefs] into the tagged unions [Layers] and [LayerDefs]. The
// encoders never fail: a shape they do not understand encodes as absent.
package params

import (
	"math"
	"strconv"
	"strings"
)

// Verb controls how the remote service treats the listed layers.
type Verb string

const (
	Show    Verb = "show"
	Hide    Verb = "hide"
	Include Verb = "include"
	Exclude Verb = "exclude"
)

// Valid reports whether v is one of the four recognized verbs.
func (v Verb) Valid() bool {
	switch v {
	case Show, Hide, Include, Exclude:
		return true
	}
	return false
}

// Layers selects visible layers. It is either [LayerIDs] or [LayerExpr].
type Layers interface {
	joined() string
}

// LayerIDs is an explicit list of layer identifiers.
type LayerIDs []string

func (l LayerIDs) joined() string { return strings.Join(l, ",") }

// LayerExpr is a raw layer string, optionally carrying a leading verb
// ("show:1,2").
type LayerExpr string

func (l LayerExpr) joined() string { return string(l) }

// Filter is the layer filter configuration of one overlay.
type Filter struct {
	Layers Layers    // nil omits the layers field
	Verb   Verb      // explicit verb, empty when none was given
	Defs   LayerDefs // nil omits the layerDefs field
}

// EncodeLayers renders the layers field as "verb:list".
// The second result is false when no layer selector was given.
func EncodeLayers(f Filter) (string, bool) {
	if f.Layers == nil {
		return "", false
	}

	if f.Verb != "" {
		verb := Show
		if f.Verb.Valid() {
			verb = f.Verb
		}
		return string(verb) + ":" + f.Layers.joined(), true
	}

	if expr, ok := f.Layers.(LayerExpr); ok {
		verb, rest := splitVerb(string(expr))
		return string(verb) + ":" + rest, true
	}

	return string(Show) + ":" + f.Layers.joined(), true
}

// splitVerb recognizes a leading verb only when the token after the
// delimiter is numeric, so a layer literally named "show" stays a layer.
func splitVerb(s string) (Verb, string) {
	head, rest, found := strings.Cut(s, ":")
	if !found {
		return Show, s
	}

	first, _, _ := strings.Cut(rest, ",")
	if Verb(head).Valid() && isNumber(first) {
		return Verb(head), rest
	}
	return Show, s
}

func isNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ParseLayers resolves a loosely typed layers value (as decoded from JSON
// or YAML) into a [Layers]. Unsupported shapes yield nil.
func ParseLayers(v any) Layers {
	switch l := v.(type) {
	case nil:
		return nil
	case Layers:
		return l
	case string:
		return LayerExpr(l)
	case []string:
		return LayerIDs(l)
	case []int:
		ids := make(LayerIDs, len(l))
		for i, n := range l {
			ids[i] = strconv.Itoa(n)
		}
		return ids
	case []any:
		ids := make(LayerIDs, 0, len(l))
		for _, item := range l {
			if s, ok := scalar(item); ok {
				ids = append(ids, s)
			}
		}
		return ids
	default:
		if s, ok := scalar(v); ok {
			return LayerIDs{s}
		}
		return nil
	}
}

// scalar formats a decoded JSON/YAML scalar the way it would print in a
// query string.
func scalar(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case uint64:
		return strconv.FormatUint(s, 10), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}
