// Package viewport defines the pannable, zoomable map view an overlay is
// synchronized with, and provides a headless implementation of it.
//
// Geographic coordinates are orb.Point values in (lng, lat) order.
// Pixel coordinates are [Point] values in the view's layer space.
package viewport

import (
	"github.com/paulmach/orb"
)

// Point is a pixel position or extent.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Mul returns p scaled by k.
func (p Point) Mul(k float64) Point { return Point{p.X * k, p.Y * k} }

// EventKind names a viewport lifecycle event.
type EventKind string

const (
	ViewReset EventKind = "viewreset"
	MoveEnd   EventKind = "moveend"
	ZoomEnd   EventKind = "zoomend"
	ZoomAnim  EventKind = "zoomanim"
)

// Event is delivered to subscribers. Zoom and Center describe the target
// view of a ZoomAnim event and are zero otherwise.
type Event struct {
	Kind   EventKind
	Zoom   float64
	Center orb.Point
}

// Handler receives viewport events.
type Handler func(Event)

// Subscription identifies a registered handler.
type Subscription uint64

// Viewport is the map widget an overlay attaches to.
type Viewport interface {
	// Bounds returns the visible geographic extent.
	Bounds() orb.Bound
	// Size returns the view size in pixels.
	Size() Point
	Zoom() float64
	// PanInProgress reports whether a pan transition is under way.
	PanInProgress() bool
	CRS() CRS
	// ZoomAnimation reports whether smooth zoom animation is enabled.
	ZoomAnimation() bool
	// ZoomScale returns the scale factor between zoom and the current zoom.
	ZoomScale(zoom float64) float64
	LatLngToLayerPoint(ll orb.Point) Point
	// LatLngToNewLayerPoint projects ll into the layer space the view will
	// have once it reaches zoom and center.
	LatLngToNewLayerPoint(ll orb.Point, zoom float64, center orb.Point) Point

	On(kind EventKind, h Handler) Subscription
	Off(sub Subscription)
}

// NorthWest returns the top-left corner of b.
func NorthWest(b orb.Bound) orb.Point { return orb.Point{b.Min[0], b.Max[1]} }

// SouthEast returns the bottom-right corner of b.
func SouthEast(b orb.Bound) orb.Point { return orb.Point{b.Max[0], b.Min[1]} }
