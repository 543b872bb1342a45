// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-ags/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Overlays *service.OverlayService
	Sessions *service.SessionService
	Journal  *service.Journal
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Overlay ID" example:"census"`
}

type OverlayOutput struct {
	Body service.OverlayConfig
}

type OverlaysOutput struct {
	Body []service.OverlayConfig
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type CreatedOverlayBody struct {
	ID      string                `json:"id" doc:"Generated overlay ID"`
	Overlay service.OverlayConfig `json:"overlay" doc:"Created overlay definition"`
	Message string                `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every APIHandler route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterOverlays registers overlay definition CRUD routes.
func (h *APIHandler) RegisterOverlays(api huma.API) {
	huma.Get(api, "/api/v1/overlays", h.GetOverlays, huma.OperationTags("overlays"))
	huma.Post(api, "/api/v1/overlays", h.CreateOverlay, huma.OperationTags("overlays"))
	huma.Get(api, "/api/v1/overlays/{id}", h.GetOverlay, huma.OperationTags("overlays"))
	huma.Put(api, "/api/v1/overlays/{id}", h.PutOverlay, huma.OperationTags("overlays"))
	huma.Delete(api, "/api/v1/overlays/{id}", h.DeleteOverlay, huma.OperationTags("overlays"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetOverlays(ctx context.Context, input *struct{}) (*OverlaysOutput, error) {
	if h.svc == nil || h.svc.Overlays == nil {
		return &OverlaysOutput{Body: []service.OverlayConfig{}}, nil
	}
	return &OverlaysOutput{Body: h.svc.Overlays.List()}, nil
}

func (h *APIHandler) CreateOverlay(ctx context.Context, input *struct{ Body service.OverlayConfig }) (*struct{ Body CreatedOverlayBody }, error) {
	if h.svc == nil || h.svc.Overlays == nil {
		return nil, huma.Error400BadRequest("service not available")
	}
	created, err := h.svc.Overlays.Create(input.Body)
	if err != nil {
		return nil, overlayError(err)
	}
	return &struct{ Body CreatedOverlayBody }{Body: CreatedOverlayBody{
		ID: created.ID, Overlay: created, Message: "Overlay created",
	}}, nil
}

func (h *APIHandler) GetOverlay(ctx context.Context, input *IDInput) (*OverlayOutput, error) {
	if h.svc == nil || h.svc.Overlays == nil {
		return nil, huma.Error404NotFound("service not available")
	}
	o, ok := h.svc.Overlays.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("overlay not found")
	}
	return &OverlayOutput{Body: o}, nil
}

func (h *APIHandler) PutOverlay(ctx context.Context, input *struct {
	IDInput
	Body service.OverlayConfig
}) (*OverlayOutput, error) {
	if h.svc == nil || h.svc.Overlays == nil {
		return nil, huma.Error400BadRequest("service not available")
	}
	updated, err := h.svc.Overlays.Update(input.ID, input.Body)
	if err != nil {
		return nil, overlayError(err)
	}
	// The live session was built from the old definition.
	h.closeSession(input.ID)
	return &OverlayOutput{Body: updated}, nil
}

func (h *APIHandler) DeleteOverlay(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if h.svc == nil || h.svc.Overlays == nil {
		return nil, huma.Error400BadRequest("service not available")
	}
	if err := h.svc.Overlays.Delete(input.ID); err != nil {
		return nil, overlayError(err)
	}
	h.closeSession(input.ID)
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Overlay deleted"}}, nil
}

func (h *APIHandler) closeSession(id string) {
	if h.svc.Sessions != nil {
		h.svc.Sessions.Close(id)
	}
}

// overlayError maps service errors to HTTP errors.
func overlayError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrExists):
		return huma.Error409Conflict(err.Error())
	}
	return huma.Error400BadRequest(err.Error())
}
