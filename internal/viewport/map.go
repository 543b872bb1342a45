package viewport

import (
	"math"
	"sync"

	"github.com/paulmach/orb"
)

const (
	// TileSize is the pixel size of the world at zoom 0.
	TileSize = 256

	maxLatitude = 85.0511287798
)

// Options configures a Map.
type Options struct {
	CRS           CRS
	ZoomAnimation bool
}

// Map is a headless Viewport. Pixel math is spherical mercator regardless
// of CRS; the CRS only drives projection of request extents.
type Map struct {
	Events

	mu          sync.RWMutex
	center      orb.Point
	zoom        float64
	size        Point
	pixelOrigin Point
	panning     bool
	crs         CRS
	animate     bool
}

// NewMap creates a map showing center at zoom in a view of the given size.
func NewMap(center orb.Point, zoom float64, size Point, opts Options) *Map {
	crs := opts.CRS
	if crs == nil {
		crs = EPSG3857
	}
	m := &Map{
		center:  center,
		zoom:    zoom,
		size:    size,
		crs:     crs,
		animate: opts.ZoomAnimation,
	}
	m.pixelOrigin = m.originFor(center, zoom)
	return m
}

// Center returns the geographic center of the view.
func (m *Map) Center() orb.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.center
}

// Bounds implements Viewport.
func (m *Map) Bounds() orb.Bound {
	m.mu.RLock()
	defer m.mu.RUnlock()

	half := m.size.Mul(0.5)
	c := project(m.center, m.zoom)
	sw := unproject(Point{c.X - half.X, c.Y + half.Y}, m.zoom)
	ne := unproject(Point{c.X + half.X, c.Y - half.Y}, m.zoom)
	return orb.Bound{Min: sw, Max: ne}
}

// Size implements Viewport.
func (m *Map) Size() Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Zoom implements Viewport.
func (m *Map) Zoom() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zoom
}

// PanInProgress implements Viewport.
func (m *Map) PanInProgress() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.panning
}

// CRS implements Viewport.
func (m *Map) CRS() CRS { return m.crs }

// ZoomAnimation implements Viewport.
func (m *Map) ZoomAnimation() bool { return m.animate }

// ZoomScale implements Viewport.
func (m *Map) ZoomScale(zoom float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return math.Pow(2, zoom-m.zoom)
}

// LatLngToLayerPoint implements Viewport.
func (m *Map) LatLngToLayerPoint(ll orb.Point) Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return project(ll, m.zoom).Sub(m.pixelOrigin)
}

// LatLngToNewLayerPoint implements Viewport.
func (m *Map) LatLngToNewLayerPoint(ll orb.Point, zoom float64, center orb.Point) Point {
	m.mu.RLock()
	defer m.mu.RUnlock()

	half := m.size.Mul(0.5)
	topLeft := project(center, zoom).Sub(half).Add(m.panePos())
	return project(ll, zoom).Sub(topLeft)
}

// panePos is the offset of the layer space against the container, which
// pans move away from zero until the next view reset.
func (m *Map) panePos() Point {
	half := m.size.Mul(0.5)
	return m.pixelOrigin.Sub(project(m.center, m.zoom).Sub(half))
}

func (m *Map) originFor(center orb.Point, zoom float64) Point {
	return project(center, zoom).Sub(m.size.Mul(0.5))
}

// SetView moves the map to center and zoom and resets the layer space.
// A zoom change fires ZoomAnim first (when animation is enabled), then
// ViewReset, ZoomEnd and MoveEnd.
func (m *Map) SetView(center orb.Point, zoom float64) {
	m.mu.Lock()
	zoomChanged := zoom != m.zoom
	animate := zoomChanged && m.animate
	m.mu.Unlock()

	if animate {
		m.Fire(Event{Kind: ZoomAnim, Zoom: zoom, Center: center})
	}

	m.mu.Lock()
	m.center = clampLatLng(center)
	m.zoom = zoom
	m.pixelOrigin = m.originFor(m.center, zoom)
	m.mu.Unlock()

	m.Fire(Event{Kind: ViewReset})
	if zoomChanged {
		m.Fire(Event{Kind: ZoomEnd})
	}
	m.Fire(Event{Kind: MoveEnd})
}

// PanBy shifts the view by a pixel offset without resetting the layer
// space, then fires MoveEnd.
func (m *Map) PanBy(offset Point) {
	m.mu.Lock()
	c := project(m.center, m.zoom).Add(offset)
	m.center = clampLatLng(unproject(c, m.zoom))
	m.mu.Unlock()

	m.Fire(Event{Kind: MoveEnd})
}

// SetPanning marks a pan transition as started or finished. Finishing a
// transition fires MoveEnd.
func (m *Map) SetPanning(panning bool) {
	m.mu.Lock()
	was := m.panning
	m.panning = panning
	m.mu.Unlock()

	if was && !panning {
		m.Fire(Event{Kind: MoveEnd})
	}
}

// Resize changes the view size, keeping the center, then fires MoveEnd.
func (m *Map) Resize(size Point) {
	m.mu.Lock()
	if size == m.size {
		m.mu.Unlock()
		return
	}
	pane := m.panePos()
	m.size = size
	m.pixelOrigin = m.originFor(m.center, m.zoom).Add(pane)
	m.mu.Unlock()

	m.Fire(Event{Kind: MoveEnd})
}

// project converts (lng, lat) into world pixels at zoom.
func project(ll orb.Point, zoom float64) Point {
	scale := TileSize * math.Pow(2, zoom)
	lat := math.Max(-maxLatitude, math.Min(maxLatitude, ll[1]))
	latRad := lat * math.Pi / 180
	return Point{
		X: scale * (ll[0] + 180) / 360,
		Y: scale * (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2,
	}
}

// unproject converts world pixels at zoom back into (lng, lat).
func unproject(p Point, zoom float64) orb.Point {
	scale := TileSize * math.Pow(2, zoom)
	lng := p.X/scale*360 - 180
	latRad := math.Pi * (1 - 2*p.Y/scale)
	lat := 180 / math.Pi * math.Atan(math.Sinh(latRad))
	return orb.Point{lng, lat}
}

func clampLatLng(ll orb.Point) orb.Point {
	return orb.Point{ll[0], math.Max(-maxLatitude, math.Min(maxLatitude, ll[1]))}
}
