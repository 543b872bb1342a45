// Package viewer contains Datastar SSE handlers for the overlay viewer UI.
package viewer

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-ags/internal/humastar"
	"github.com/joeblew999/plat-ags/internal/service"
)

// Handler streams overlay notifications to the viewer and applies view
// changes sent as Datastar signals.
type Handler struct {
	humastar.Handler
	sessions *service.SessionService
	bus      *service.EventBus
}

// NewHandler creates a viewer handler.
func NewHandler(sessions *service.SessionService, bus *service.EventBus) *Handler {
	return &Handler{sessions: sessions, bus: bus}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/viewer/events", h.Events,
		huma.OperationTags("viewer"),
	)
	huma.Post(api, "/api/v1/viewer/{id}/view", h.View,
		huma.OperationTags("viewer"),
	)
}

// EventsInput optionally narrows the stream to one overlay.
type EventsInput struct {
	Overlay string `query:"overlay" doc:"Only stream events of this overlay"`
}

func (h *Handler) Events(ctx context.Context, input *EventsInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		ch := h.bus.Subscribe()
		defer h.bus.Unsubscribe(ch)

		for _, id := range h.sessions.List() {
			if input.Overlay == "" || input.Overlay == id {
				h.patchSession(sse, id)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					sse.Error("event stream closed")
					return
				}
				if input.Overlay != "" && ev.ID != input.Overlay {
					continue
				}
				switch ev.Resource {
				case "sessions":
					h.patchSession(sse, ev.ID)
					if ev.Error != "" {
						sse.Error(fmt.Sprintf("overlay %s: %s", ev.ID, ev.Error))
					}
					sse.DispatchCustomEvent("overlay-changed", map[string]any{
						"id":         ev.ID,
						"action":     ev.Action,
						"generation": ev.Generation,
						"url":        ev.URL,
						"error":      ev.Error,
					})
				default:
					sse.DispatchCustomEvent("resource-changed", map[string]any{
						"resource": ev.Resource,
						"action":   ev.Action,
						"id":       ev.ID,
					})
				}
			}
		}
	}), nil
}

// patchSession sends the state of an open session, or marks it closed.
func (h *Handler) patchSession(sse humastar.SSE, id string) {
	sess, ok := h.sessions.Get(id)
	if !ok {
		sse.Signals(map[string]any{"overlays": map[string]any{id: map[string]any{"state": "closed"}}})
		return
	}
	sse.Signals(map[string]any{"overlays": map[string]any{id: signalsFor(sess)}})
}

// signalsFor flattens a session into viewer signals.
func signalsFor(sess *service.Session) map[string]any {
	snap := sess.Overlay.Snapshot()
	center := sess.Map.Center()
	size := sess.Map.Size()
	s := map[string]any{
		"state":      snap.State.String(),
		"generation": snap.Generation,
		"opacity":    snap.Opacity,
		"lng":        center[0],
		"lat":        center[1],
		"zoom":       sess.Map.Zoom(),
		"width":      size.X,
		"height":     size.Y,
		"url":        "",
		"transform":  "",
	}
	if snap.Current != nil {
		s["url"] = snap.Current.URL
		if snap.Current.Transform != nil {
			s["transform"] = snap.Current.Transform.CSS()
		}
	}
	return s
}
