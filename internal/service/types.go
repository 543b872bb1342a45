// Package service contains the application services of the overlay
// server: overlay definitions, live sessions, the request journal, and the
// notification bus.
package service

import (
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-ags/internal/mapservice"
	"github.com/joeblew999/plat-ags/internal/overlay"
	"github.com/joeblew999/plat-ags/internal/params"
	"github.com/joeblew999/plat-ags/internal/viewport"
)

// OverlayConfig defines one dynamic map service overlay.
// Huma reads the tags for OpenAPI and validation, viper for config files.
type OverlayConfig struct {
	ID            string            `json:"id,omitempty" mapstructure:"id" doc:"Unique overlay identifier" example:"census"`
	Name          string            `json:"name" mapstructure:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Census"`
	URL           string            `json:"url" mapstructure:"url" required:"true" minLength:"1" doc:"Map service root URL" example:"https://sampleserver6.arcgisonline.com/arcgis/rest/services/Census/MapServer"`
	Format        string            `json:"format,omitempty" mapstructure:"format" doc:"Export image format" example:"png32"`
	Transparent   *bool             `json:"transparent,omitempty" mapstructure:"transparent" doc:"Request a transparent background (default true)"`
	BBoxSR        string            `json:"bboxSR,omitempty" mapstructure:"bbox_sr" doc:"Spatial reference of the bbox (overridden by the view CRS)" example:"102100"`
	ImageSR       string            `json:"imageSR,omitempty" mapstructure:"image_sr" doc:"Spatial reference of the image (overridden by the view CRS)" example:"102100"`
	Layers        any               `json:"layers,omitempty" mapstructure:"layers" doc:"Visible layers: a list of ids or a string such as \"show:1,2\""`
	LayerOption   string            `json:"layerOption,omitempty" mapstructure:"layer_option" doc:"Layer verb: show, hide, include or exclude" example:"show"`
	LayerDefs     any               `json:"layerDefs,omitempty" mapstructure:"layer_defs" doc:"Layer definitions: a positional list or an index to expression map"`
	Opacity       *float64          `json:"opacity,omitempty" mapstructure:"opacity" minimum:"0" maximum:"1" doc:"Overlay opacity (0-1, default 1)" example:"0.8"`
	MinZoom       float64           `json:"minZoom,omitempty" mapstructure:"min_zoom" minimum:"0" doc:"Lowest zoom at which the overlay refreshes"`
	MaxZoom       *float64          `json:"maxZoom,omitempty" mapstructure:"max_zoom" minimum:"0" doc:"Highest zoom at which the overlay refreshes (unset = no limit)"`
	ZoomAnimation *bool             `json:"zoomAnimation,omitempty" mapstructure:"zoom_animation" doc:"Animate the image during zoom gestures (default true)"`
	Token         string            `json:"token,omitempty" mapstructure:"token" doc:"Access token appended to export requests"`
	Params        map[string]string `json:"params,omitempty" mapstructure:"params" doc:"Extra export parameters"`
}

// Filter resolves the loosely typed layer options into a params.Filter.
func (c OverlayConfig) Filter() params.Filter {
	return params.Filter{
		Layers: params.ParseLayers(c.Layers),
		Verb:   params.Verb(c.LayerOption),
		Defs:   params.ParseLayerDefs(c.LayerDefs),
	}
}

// ServiceOptions returns the export options of the overlay.
func (c OverlayConfig) ServiceOptions() mapservice.Options {
	return mapservice.Options{
		Format:      c.Format,
		Transparent: c.Transparent,
		BBoxSR:      c.BBoxSR,
		ImageSR:     c.ImageSR,
		Filter:      c.Filter(),
		Params:      c.Params,
		Token:       c.Token,
	}
}

// OverlayOptions returns the synchronization options of the overlay.
func (c OverlayConfig) OverlayOptions(logger *zap.Logger) overlay.Options {
	opts := overlay.DefaultOptions()
	if c.Opacity != nil {
		opts.Opacity = *c.Opacity
	}
	if c.ZoomAnimation != nil {
		opts.ZoomAnimation = *c.ZoomAnimation
	}
	opts.MinZoom = c.MinZoom
	opts.MaxZoom = c.MaxZoom
	opts.Logger = logger
	return opts
}

// ViewportConfig is the initial view of a session.
type ViewportConfig struct {
	Lng           float64 `json:"lng" mapstructure:"lng" minimum:"-180" maximum:"180" doc:"Center longitude"`
	Lat           float64 `json:"lat" mapstructure:"lat" minimum:"-90" maximum:"90" doc:"Center latitude"`
	Zoom          float64 `json:"zoom" mapstructure:"zoom" minimum:"0" doc:"Zoom level"`
	Width         int     `json:"width" mapstructure:"width" minimum:"1" doc:"View width in pixels"`
	Height        int     `json:"height" mapstructure:"height" minimum:"1" doc:"View height in pixels"`
	CRS           string  `json:"crs,omitempty" mapstructure:"crs" doc:"Coordinate reference system code" example:"EPSG:3857"`
	ZoomAnimation bool    `json:"zoomAnimation" mapstructure:"zoom_animation" doc:"Whether the view animates zoom gestures"`
}

// DefaultViewport is a whole-world 800x600 web mercator view.
func DefaultViewport() ViewportConfig {
	return ViewportConfig{Zoom: 2, Width: 800, Height: 600, CRS: "EPSG:3857", ZoomAnimation: true}
}

// NewMap creates the headless viewport described by c.
func (c ViewportConfig) NewMap() *viewport.Map {
	d := DefaultViewport()
	if c.Width <= 0 {
		c.Width = d.Width
	}
	if c.Height <= 0 {
		c.Height = d.Height
	}
	return viewport.NewMap(
		orb.Point{c.Lng, c.Lat},
		c.Zoom,
		viewport.Point{X: float64(c.Width), Y: float64(c.Height)},
		viewport.Options{CRS: viewport.LookupCRS(c.CRS), ZoomAnimation: c.ZoomAnimation},
	)
}
