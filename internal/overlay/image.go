package overlay

import (
	"context"
	"fmt"
	"image"

	"github.com/joeblew999/plat-ags/internal/viewport"
)

// Image classes mirror how the render layer treats the element during a
// zoom gesture.
const (
	ClassZoomAnimated = "zoom-animated"
	ClassZoomHide     = "zoom-hide"
)

// Decoded is a fully fetched and decoded export image.
type Decoded struct {
	Image  image.Image `json:"-"`
	Format string      `json:"format"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
}

// Transform is a translate-then-scale applied during a zoom animation.
type Transform struct {
	Translate viewport.Point `json:"translate"`
	Scale     float64        `json:"scale"`
}

// CSS renders t as a CSS transform value.
func (t Transform) CSS() string {
	return fmt.Sprintf("translate3d(%gpx, %gpx, 0) scale(%g)", t.Translate.X, t.Translate.Y, t.Scale)
}

// Image is one export request and, once loaded, its placement in the
// render layer.
type Image struct {
	Generation uint64         `json:"generation"`
	URL        string         `json:"url"`
	Class      string         `json:"class"`
	Opacity    float64        `json:"opacity"`
	Position   viewport.Point `json:"position"`
	Width      float64        `json:"width"`
	Height     float64        `json:"height"`
	Transform  *Transform     `json:"transform,omitempty"`
	Loaded     bool           `json:"loaded"`
	Decoded    *Decoded       `json:"decoded,omitempty"`

	cancel context.CancelFunc
}

// clone returns a copy safe to hand outside the overlay lock.
func (img *Image) clone() *Image {
	if img == nil {
		return nil
	}
	c := *img
	c.cancel = nil
	if img.Transform != nil {
		t := *img.Transform
		c.Transform = &t
	}
	return &c
}

func (img *Image) abort() {
	if img != nil && img.cancel != nil {
		img.cancel()
	}
}
