package api

import (
	"context"
	"errors"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-ags/internal/humastar"
	"github.com/joeblew999/plat-ags/internal/mapservice"
	"github.com/joeblew999/plat-ags/internal/overlay"
	"github.com/joeblew999/plat-ags/internal/params"
	"github.com/joeblew999/plat-ags/internal/rpc"
	"github.com/joeblew999/plat-ags/internal/service"
)

// ViewBody describes a session viewport.
type ViewBody struct {
	Center  [2]float64 `json:"center" doc:"Center as [lng, lat]"`
	Zoom    float64    `json:"zoom" doc:"Zoom level"`
	Width   float64    `json:"width" doc:"View width in pixels"`
	Height  float64    `json:"height" doc:"View height in pixels"`
	Bounds  [4]float64 `json:"bounds" doc:"Visible extent as [west, south, east, north]"`
	Panning bool       `json:"panning" doc:"Whether a pan transition is in progress"`
	CRS     string     `json:"crs" doc:"Coordinate reference system" example:"EPSG:3857"`
}

// StateBody is the observable state of a session.
type StateBody struct {
	ID         string          `json:"id" doc:"Overlay ID"`
	State      string          `json:"state" enum:"detached,attached,refreshing" doc:"Lifecycle state"`
	Current    *overlay.Image  `json:"current,omitempty" doc:"Displayed image"`
	Pending    *overlay.Image  `json:"pending,omitempty" doc:"Image being loaded"`
	Opacity    float64         `json:"opacity" doc:"Overlay opacity"`
	Generation uint64          `json:"generation" doc:"Latest issued refresh generation"`
	View       ViewBody        `json:"view" doc:"Session viewport"`
	Pane       []overlay.Image `json:"pane" doc:"Images in the render layer"`
}

type StateOutput struct {
	Body StateBody
}

type OpacityInput struct {
	IDInput
	Body struct {
		Opacity float64 `json:"opacity" minimum:"0" maximum:"1" doc:"New opacity"`
	}
}

type ExportURLOutput struct {
	Body struct {
		URL string `json:"url" doc:"Export request URL for the current view"`
	}
}

type IdentifyInput struct {
	IDInput
	Body struct {
		Lng       float64           `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude of the identify point"`
		Lat       float64           `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude of the identify point"`
		Tolerance int               `json:"tolerance,omitempty" minimum:"0" doc:"Search tolerance in pixels (default 3)"`
		Layers    string            `json:"layers,omitempty" doc:"Layers to identify" example:"all:0,1"`
		LayerDefs any               `json:"layerDefs,omitempty" doc:"Layer definitions: an index to expression map, a list, or a raw string"`
		Params    map[string]string `json:"params,omitempty" doc:"Extra identify parameters"`
	}
}

type IdentifyOutput struct {
	Body *mapservice.IdentifyResponse
}

type FeatureCollectionOutput struct {
	Body *geojson.FeatureCollection
}

type JournalInput struct {
	IDInput
	PageInput
}

type PageInput struct {
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Entries to skip"`
	Limit  int `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
}

type JournalOutput struct {
	Body humastar.PageBody[service.JournalEntry]
}

// RegisterSessions registers the live overlay routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	huma.Get(api, "/api/v1/overlays/{id}/state", h.GetState, huma.OperationTags("sessions"))
	huma.Put(api, "/api/v1/overlays/{id}/view", h.PutView, huma.OperationTags("sessions"))
	huma.Put(api, "/api/v1/overlays/{id}/opacity", h.PutOpacity, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/overlays/{id}/attach", h.Attach, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/overlays/{id}/detach", h.Detach, huma.OperationTags("sessions"))
	huma.Get(api, "/api/v1/overlays/{id}/export-url", h.GetExportURL, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/overlays/{id}/identify", h.Identify, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/overlays/{id}/identify/geojson", h.IdentifyGeoJSON, huma.OperationTags("sessions"))
	huma.Get(api, "/api/v1/overlays/{id}/journal", h.GetOverlayJournal, huma.OperationTags("sessions"))
}

func (h *APIHandler) GetState(ctx context.Context, input *IDInput) (*StateOutput, error) {
	if h.svc == nil || h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	sess, err := h.svc.Sessions.Open(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return &StateOutput{Body: NewStateBody(sess)}, nil
}

func (h *APIHandler) PutView(ctx context.Context, input *struct {
	IDInput
	Body service.ViewUpdate
}) (*StateOutput, error) {
	if h.svc == nil || h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	sess, err := h.svc.Sessions.SetView(input.ID, input.Body)
	if err != nil {
		return nil, sessionError(err)
	}
	return &StateOutput{Body: NewStateBody(sess)}, nil
}

func (h *APIHandler) PutOpacity(ctx context.Context, input *OpacityInput) (*StateOutput, error) {
	if h.svc == nil || h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	sess, err := h.svc.Sessions.Open(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	sess.Overlay.SetOpacity(input.Body.Opacity)
	return &StateOutput{Body: NewStateBody(sess)}, nil
}

func (h *APIHandler) Attach(ctx context.Context, input *IDInput) (*StateOutput, error) {
	if h.svc == nil || h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	sess, err := h.svc.Sessions.Attach(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return &StateOutput{Body: NewStateBody(sess)}, nil
}

func (h *APIHandler) Detach(ctx context.Context, input *IDInput) (*StateOutput, error) {
	if h.svc == nil || h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	sess, err := h.svc.Sessions.Detach(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return &StateOutput{Body: NewStateBody(sess)}, nil
}

func (h *APIHandler) GetExportURL(ctx context.Context, input *IDInput) (*ExportURLOutput, error) {
	if h.svc == nil || h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	sess, err := h.svc.Sessions.Open(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	u, err := sess.Overlay.ExportURL()
	if err != nil {
		return nil, sessionError(err)
	}
	out := &ExportURLOutput{}
	out.Body.URL = u
	return out, nil
}

func (h *APIHandler) Identify(ctx context.Context, input *IdentifyInput) (*IdentifyOutput, error) {
	if h.svc == nil || h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	resp, err := h.svc.Sessions.Identify(ctx, input.ID, orb.Point{input.Body.Lng, input.Body.Lat}, identifyOptions(input))
	if err != nil {
		return nil, identifyError(err)
	}
	return &IdentifyOutput{Body: resp}, nil
}

// IdentifyGeoJSON is Identify with the results as a GeoJSON feature collection.
func (h *APIHandler) IdentifyGeoJSON(ctx context.Context, input *IdentifyInput) (*FeatureCollectionOutput, error) {
	out, err := h.Identify(ctx, input)
	if err != nil {
		return nil, err
	}
	return &FeatureCollectionOutput{Body: out.Body.FeatureCollection()}, nil
}

func (h *APIHandler) GetOverlayJournal(ctx context.Context, input *JournalInput) (*JournalOutput, error) {
	if h.svc == nil || h.svc.Overlays == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	if _, ok := h.svc.Overlays.Get(input.ID); !ok {
		return nil, huma.Error404NotFound("overlay not found")
	}
	return journalPage(ctx, h.svc.Journal, input.ID, input.PageInput)
}

func journalPage(ctx context.Context, j *service.Journal, id string, page PageInput) (*JournalOutput, error) {
	entries, total, err := j.Page(ctx, id, page.Offset, page.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to read journal", err)
	}
	return &JournalOutput{Body: humastar.PageBody[service.JournalEntry]{
		Total:  total,
		Offset: page.Offset,
		Limit:  page.Limit,
		Data:   entries,
	}}, nil
}

// NewStateBody captures the state of sess.
func NewStateBody(sess *service.Session) StateBody {
	snap := sess.Overlay.Snapshot()
	b := sess.Map.Bounds()
	size := sess.Map.Size()
	return StateBody{
		ID:         sess.ID,
		State:      snap.State.String(),
		Current:    snap.Current,
		Pending:    snap.Pending,
		Opacity:    snap.Opacity,
		Generation: snap.Generation,
		View: ViewBody{
			Center:  [2]float64(sess.Map.Center()),
			Zoom:    sess.Map.Zoom(),
			Width:   size.X,
			Height:  size.Y,
			Bounds:  [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
			Panning: sess.Map.PanInProgress(),
			CRS:     sess.Map.CRS().Code(),
		},
		Pane: sess.Pane.Images(),
	}
}

func identifyOptions(input *IdentifyInput) mapservice.IdentifyOptions {
	p := params.NewValues()
	if input.Body.Tolerance > 0 {
		p.Set("tolerance", input.Body.Tolerance)
	}
	if input.Body.Layers != "" {
		p.Set("layers", input.Body.Layers)
	}
	keys := make([]string, 0, len(input.Body.Params))
	for k := range input.Body.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Set(k, input.Body.Params[k])
	}
	return mapservice.IdentifyOptions{
		Params:    p,
		LayerDefs: params.ParseLayerDefs(input.Body.LayerDefs),
	}
}

// sessionError maps session errors to HTTP errors.
func sessionError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, overlay.ErrAttached), errors.Is(err, overlay.ErrDetached):
		return huma.Error409Conflict(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

// identifyError maps identify failures to HTTP errors. Upstream failures
// are reported as gateway errors.
func identifyError(err error) error {
	var svcErr *mapservice.ServiceError
	var statusErr *rpc.StatusError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	case errors.As(err, &svcErr), errors.As(err, &statusErr), errors.Is(err, rpc.ErrMalformed):
		return huma.Error502BadGateway(err.Error())
	case errors.Is(err, rpc.ErrClosed), errors.Is(err, rpc.ErrAbandoned):
		return huma.Error503ServiceUnavailable(err.Error())
	}
	return huma.Error502BadGateway(err.Error())
}
