// Package mapservice models a remote map service: the export endpoint that
// renders an image for a bounding box and the identify endpoint that
// returns feature metadata at a point.
package mapservice

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-ags/internal/params"
)

// DefaultSpatialReference is the projection code used for bboxSR and
// imageSR until a view supplies its own.
const DefaultSpatialReference = "102100"

// Options configures the export parameters of a Service.
type Options struct {
	Format      string // default "png"
	Transparent *bool  // default true
	BBoxSR      string
	ImageSR     string
	Filter      params.Filter
	// Params are extra literal export parameters.
	Params map[string]string
	// Token is appended verbatim to every export request.
	Token string
}

// reserved parameters are owned by the service and cannot be set through
// Options.Params.
var reserved = map[string]bool{
	"token": true,
	"bbox":  true,
	"size":  true,
	"f":     true,
}

// Service builds request URLs for one map service.
type Service struct {
	mu     sync.RWMutex
	base   string
	params *params.Values
	filter params.Filter
	token  string
}

// New creates a Service for the service root URL (".../MapServer").
func New(rawURL string, opts Options) *Service {
	if !strings.HasSuffix(rawURL, "/") {
		rawURL += "/"
	}

	transparent := true
	if opts.Transparent != nil {
		transparent = *opts.Transparent
	}

	p := params.NewValues().
		Set("format", orDefault(opts.Format, "png")).
		Set("transparent", transparent).
		Set("f", "image").
		Set("bboxSR", orDefault(opts.BBoxSR, DefaultSpatialReference)).
		Set("imageSR", orDefault(opts.ImageSR, DefaultSpatialReference))

	s := &Service{base: rawURL, params: p, token: opts.Token}
	s.applyFilter(opts.Filter)

	keys := make([]string, 0, len(opts.Params))
	for k := range opts.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if reserved[k] {
			continue
		}
		s.params.Set(k, opts.Params[k])
	}
	return s
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// URL returns the normalized service root, always ending in "/".
func (s *Service) URL() string { return s.base }

// IdentifyURL returns the identify endpoint.
func (s *Service) IdentifyURL() string { return s.base + "identify" }

// Token returns the access token, if any.
func (s *Service) Token() string { return s.token }

// Params returns a copy of the base export parameters.
func (s *Service) Params() *params.Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.Clone()
}

// Filter returns the current layer filter.
func (s *Service) Filter() params.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// SetFilter replaces the layer filter and re-encodes the layer fields.
func (s *Service) SetFilter(f params.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyFilter(f)
}

func (s *Service) applyFilter(f params.Filter) {
	s.filter = f
	if layers, ok := params.EncodeLayers(f); ok {
		s.params.Set("layers", layers)
	} else {
		s.params.Del("layers")
	}
	if defs, ok := params.EncodeLayerDefs(f.Defs); ok {
		s.params.Set("layerDefs", defs)
	} else {
		s.params.Del("layerDefs")
	}
}

// SetSpatialReference overrides both bboxSR and imageSR.
func (s *Service) SetSpatialReference(sr string) {
	if sr == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Set("bboxSR", sr)
	s.params.Set("imageSR", sr)
}

// ExportURL returns the export request for a projected bounding box and an
// output size in pixels.
func (s *Service) ExportURL(bbox orb.Bound, width, height int) string {
	s.mu.RLock()
	p := s.params.Clone()
	s.mu.RUnlock()

	p.Set("bbox", FormatBBox(bbox))
	p.Set("size", strconv.Itoa(width)+","+strconv.Itoa(height))

	u := s.base + "export?" + p.Encode()
	if s.token != "" {
		u += "&token=" + params.Escape(s.token)
	}
	return u
}

// FormatBBox renders a bound as "xmin,ymin,xmax,ymax".
func FormatBBox(b orb.Bound) string {
	parts := []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	out := make([]string, len(parts))
	for i, f := range parts {
		out[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.Join(out, ",")
}
