package viewer

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-ags/internal/humastar"
	"github.com/joeblew999/plat-ags/internal/service"
)

// ViewInput carries the viewer signals for one overlay.
type ViewInput struct {
	ID string `path:"id" doc:"Overlay ID"`
	humastar.SignalsInput
}

// View applies the view and opacity signals that are present, then streams
// the resulting state back.
func (h *Handler) View(ctx context.Context, input *ViewInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}

	sess, err := h.sessions.SetView(input.ID, viewUpdate(signals))
	if errors.Is(err, service.ErrNotFound) {
		return nil, huma.Error404NotFound(err.Error())
	}
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	if signals.Has("opacity") {
		sess.Overlay.SetOpacity(signals.Float("opacity"))
	}

	return h.Stream(func(sse humastar.SSE) {
		sse.Signals(map[string]any{"overlays": map[string]any{sess.ID: signalsFor(sess)}})
	}), nil
}

func viewUpdate(s humastar.Signals) service.ViewUpdate {
	var u service.ViewUpdate
	if s.Has("lng") {
		v := s.Float("lng")
		u.Lng = &v
	}
	if s.Has("lat") {
		v := s.Float("lat")
		u.Lat = &v
	}
	if s.Has("zoom") {
		v := s.Float("zoom")
		u.Zoom = &v
	}
	if w := s.Int("width"); w > 0 {
		u.Width = &w
	}
	if ht := s.Int("height"); ht > 0 {
		u.Height = &ht
	}
	if s.Has("panning") {
		p := s.Bool("panning")
		u.Panning = &p
	}
	return u
}
