package mapservice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-ags/internal/params"
	"github.com/joeblew999/plat-ags/internal/rpc"
)

// Identify defaults.
const (
	IdentifySR           = "4265"
	IdentifyTolerance    = 3
	IdentifyGeometryType = "AGSGeometryPoint"
	IdentifyImageDisplay = "800,600,96"
	identifyGeometryWKID = 4265
)

// Requester issues one correlated request. *rpc.Manager implements it.
type Requester interface {
	Request(ctx context.Context, baseURL string, p *params.Values, cb rpc.Callback) (string, error)
}

// IdentifyOptions overrides the identify defaults.
type IdentifyOptions struct {
	// Params are merged over the defaults in order.
	Params *params.Values
	// LayerDefs is sent as a JSON object for keyed definitions, raw for
	// text, and empty for a positional list.
	LayerDefs params.LayerDefs
}

// IdentifyResponse is the decoded identify payload.
type IdentifyResponse struct {
	Results []IdentifyResult `json:"results"`
}

// IdentifyResult is one feature hit.
type IdentifyResult struct {
	LayerID          int             `json:"layerId"`
	LayerName        string          `json:"layerName"`
	Value            string          `json:"value,omitempty"`
	DisplayFieldName string          `json:"displayFieldName,omitempty"`
	GeometryType     string          `json:"geometryType,omitempty"`
	Attributes       map[string]any  `json:"attributes,omitempty"`
	Geometry         json.RawMessage `json:"geometry,omitempty"`
}

// Point returns the result geometry when it is a point.
func (r IdentifyResult) Point() (orb.Point, bool) {
	if len(r.Geometry) == 0 {
		return orb.Point{}, false
	}
	var g struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(r.Geometry, &g); err != nil || g.X == nil || g.Y == nil {
		return orb.Point{}, false
	}
	return orb.Point{*g.X, *g.Y}, true
}

// ServiceError is the error envelope a map service returns in place of a
// result.
type ServiceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("map service error %d: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// DecodeIdentify parses an identify body, returning *ServiceError when the
// service reported one.
func DecodeIdentify(body []byte) (*IdentifyResponse, error) {
	var envelope struct {
		Error *ServiceError `json:"error"`
		IdentifyResponse
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode identify response: %w", err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	resp := envelope.IdentifyResponse
	return &resp, nil
}

type geometry struct {
	X                float64          `json:"x"`
	Y                float64          `json:"y"`
	SpatialReference SpatialReference `json:"spatialReference"`
}

// IdentifyParams builds the identify parameters for a point at within the
// visible bounds.
func (s *Service) IdentifyParams(bounds orb.Bound, at orb.Point, opts IdentifyOptions) *params.Values {
	extent, _ := json.Marshal(BoundsToExtent(bounds))
	geom, _ := json.Marshal(geometry{
		X:                at.Lon(),
		Y:                at.Lat(),
		SpatialReference: SpatialReference{WKID: identifyGeometryWKID},
	})

	p := params.NewValues().
		Set("sr", IdentifySR).
		Set("mapExtent", string(extent)).
		Set("tolerance", IdentifyTolerance).
		Set("geometryType", IdentifyGeometryType).
		Set("imageDisplay", IdentifyImageDisplay).
		Set("geometry", string(geom))

	p.Merge(opts.Params)
	if opts.LayerDefs != nil {
		p.Set("layerDefs", params.LayerDefsJSON(opts.LayerDefs))
	}
	if s.token != "" {
		p.Set("token", s.token)
	}
	return p
}

// Identify queries the features at a point. cb receives the decoded
// response or the transport, decode, or service error.
func (s *Service) Identify(ctx context.Context, r Requester, bounds orb.Bound, at orb.Point, opts IdentifyOptions, cb func(*IdentifyResponse, error)) (string, error) {
	p := s.IdentifyParams(bounds, at, opts)
	return r.Request(ctx, s.IdentifyURL(), p, func(body json.RawMessage, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(nil, err)
			return
		}
		cb(DecodeIdentify(body))
	})
}

// IdentifyWait is Identify blocking until the callback fires or ctx ends.
func (s *Service) IdentifyWait(ctx context.Context, r Requester, bounds orb.Bound, at orb.Point, opts IdentifyOptions) (*IdentifyResponse, error) {
	type result struct {
		resp *IdentifyResponse
		err  error
	}
	ch := make(chan result, 1)

	if _, err := s.Identify(ctx, r, bounds, at, opts, func(resp *IdentifyResponse, err error) {
		ch <- result{resp, err}
	}); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
