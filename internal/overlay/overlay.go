// Package overlay keeps a dynamic map service image in sync with a
// viewport.
//
// Each refresh requests a new export image as the pending image. The
// displayed image is replaced only when the pending image has fully loaded,
// and only if no later refresh superseded it. Loads are stamped with a
// generation number; a completion whose generation is not the pending one is
// ignored.
package overlay

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-ags/internal/metrics"
	"github.com/joeblew999/plat-ags/internal/viewport"
)

var (
	// ErrDetached is returned by operations that need a viewport.
	ErrDetached = errors.New("overlay: not attached")
	// ErrAttached is returned by Attach on an attached overlay.
	ErrAttached = errors.New("overlay: already attached")
)

// State is the lifecycle state of an overlay.
type State int

const (
	Detached State = iota
	Attached
	Refreshing
)

func (s State) String() string {
	switch s {
	case Attached:
		return "attached"
	case Refreshing:
		return "refreshing"
	}
	return "detached"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Exporter builds export URLs. *mapservice.Service implements it.
type Exporter interface {
	ExportURL(bbox orb.Bound, width, height int) string
	SetSpatialReference(sr string)
}

// Options configures an Overlay.
type Options struct {
	// Opacity of the overlay images, clamped to [0,1].
	Opacity float64
	// MinZoom and MaxZoom bound the zoom levels at which refreshes are
	// issued. A nil MaxZoom means no upper bound.
	MinZoom float64
	MaxZoom *float64
	// ZoomAnimation enables the zoomanim hook when the viewport supports it.
	ZoomAnimation bool
	Logger        *zap.Logger
}

// DefaultOptions returns fully opaque, unbounded, animated options.
func DefaultOptions() Options {
	return Options{Opacity: 1, ZoomAnimation: true}
}

// Overlay synchronizes export images with a viewport.
type Overlay struct {
	exporter Exporter
	loader   Loader
	pane     Pane
	opts     Options
	logger   *zap.Logger

	mu         sync.Mutex
	vp         viewport.Viewport
	subs       []viewport.Subscription
	animated   bool
	current    *Image
	pending    *Image
	generation uint64
	opacity    float64
	shown      bool

	lmu       sync.RWMutex
	listeners []func(Notification)
}

// New creates a detached overlay.
func New(exporter Exporter, loader Loader, pane Pane, opts Options) *Overlay {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Overlay{
		exporter: exporter,
		loader:   loader,
		pane:     pane,
		opts:     opts,
		logger:   logger,
		opacity:  clamp(opts.Opacity),
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Min(1, math.Max(0, v))
}

// OnNotify registers fn for every notification. fn runs without the overlay
// lock held and may call back into the overlay.
func (o *Overlay) OnNotify(fn func(Notification)) {
	o.lmu.Lock()
	defer o.lmu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Overlay) emit(ns []Notification) {
	if len(ns) == 0 {
		return
	}
	o.lmu.RLock()
	listeners := slices.Clone(o.listeners)
	o.lmu.RUnlock()
	for _, n := range ns {
		for _, fn := range listeners {
			fn(n)
		}
	}
}

// Attach subscribes to vp, adopts its spatial reference, and performs an
// initial synchronization. A previously displayed image is put back into the
// pane first.
func (o *Overlay) Attach(vp viewport.Viewport) error {
	o.mu.Lock()
	if o.vp != nil {
		o.mu.Unlock()
		return ErrAttached
	}
	o.vp = vp

	if sr := viewport.SpatialReference(vp.CRS()); sr != "" {
		o.exporter.SetSpatialReference(sr)
	}

	o.animated = vp.ZoomAnimation() && o.opts.ZoomAnimation
	o.subs = append(o.subs,
		vp.On(viewport.ViewReset, o.onViewReset),
		vp.On(viewport.MoveEnd, o.onRefresh),
		vp.On(viewport.ZoomEnd, o.onRefresh),
	)
	if o.animated {
		o.subs = append(o.subs, vp.On(viewport.ZoomAnim, o.onZoomAnim))
	}

	if o.current != nil {
		o.current.Class = o.class()
		o.pane.Append(*o.current.clone())
	}
	o.mu.Unlock()

	o.logger.Debug("overlay attached", zap.String("crs", vp.CRS().Code()))
	return o.Refresh()
}

// Detach removes the displayed image from the pane, drops subscriptions,
// and cancels the pending load.
func (o *Overlay) Detach() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.vp == nil {
		return ErrDetached
	}
	for _, sub := range o.subs {
		o.vp.Off(sub)
	}
	o.subs = nil

	if o.current != nil {
		o.pane.Remove(o.current.Generation)
		o.current.Transform = nil
	}
	if o.pending != nil {
		o.pending.abort()
		o.pending = nil
	}
	o.vp = nil

	o.logger.Debug("overlay detached")
	return nil
}

func (o *Overlay) onViewReset(viewport.Event) {}

func (o *Overlay) onRefresh(viewport.Event) {
	if err := o.Refresh(); err != nil && !errors.Is(err, ErrDetached) {
		o.logger.Warn("refresh failed", zap.Error(err))
	}
}

func (o *Overlay) onZoomAnim(ev viewport.Event) {
	o.AnimateZoom(ev)
}

func (o *Overlay) class() string {
	if o.animated {
		return ClassZoomAnimated
	}
	return ClassZoomHide
}

func (o *Overlay) inZoomRange(zoom float64) bool {
	if zoom < o.opts.MinZoom {
		return false
	}
	if o.opts.MaxZoom != nil && zoom > *o.opts.MaxZoom {
		return false
	}
	return true
}

// ExportURL returns the export request for the viewport's current view.
func (o *Overlay) ExportURL() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.vp == nil {
		return "", ErrDetached
	}
	return o.exportURL(o.vp), nil
}

func (o *Overlay) exportURL(vp viewport.Viewport) string {
	b := vp.Bounds()
	crs := vp.CRS()
	projected := orb.Bound{Min: crs.Project(b.Min), Max: crs.Project(b.Max)}
	size := vp.Size()
	return o.exporter.ExportURL(projected, int(math.Round(size.X)), int(math.Round(size.Y)))
}

// Refresh requests a new image for the current view. It does nothing while
// a pan is in progress, when the zoom is out of range, or when the pending
// image already targets the same URL. A pending image for another URL is
// superseded and its load cancelled.
func (o *Overlay) Refresh() error {
	o.mu.Lock()
	if o.vp == nil {
		o.mu.Unlock()
		return ErrDetached
	}

	vp := o.vp
	if vp.PanInProgress() {
		o.mu.Unlock()
		o.logger.Debug("refresh skipped", zap.String("reason", "pan in progress"))
		metrics.OverlayRefreshes.WithLabelValues("skipped").Inc()
		return nil
	}
	if zoom := vp.Zoom(); !o.inZoomRange(zoom) {
		o.mu.Unlock()
		o.logger.Debug("refresh skipped", zap.String("reason", "zoom out of range"), zap.Float64("zoom", zoom))
		metrics.OverlayRefreshes.WithLabelValues("skipped").Inc()
		return nil
	}

	url := o.exportURL(vp)
	if o.pending != nil && o.pending.URL == url {
		o.mu.Unlock()
		metrics.OverlayRefreshes.WithLabelValues("deduped").Inc()
		return nil
	}

	var ns []Notification
	if o.pending != nil {
		o.pending.abort()
		ns = append(ns, Notification{Kind: NotifySuperseded, Generation: o.pending.Generation, URL: o.pending.URL})
	}

	o.generation++
	ctx, cancel := context.WithCancel(context.Background())
	img := &Image{
		Generation: o.generation,
		URL:        url,
		Class:      o.class(),
		Opacity:    o.opacity,
		cancel:     cancel,
	}
	o.pending = img
	ns = append(ns, Notification{Kind: NotifyRequest, Generation: img.Generation, URL: url})
	o.mu.Unlock()

	metrics.OverlayRefreshes.WithLabelValues("issued").Inc()
	o.logger.Debug("refresh issued", zap.Uint64("generation", img.Generation), zap.String("url", url))
	o.emit(ns)

	gen := img.Generation
	start := time.Now()
	o.loader.Load(ctx, url, func(d *Decoded, err error) {
		metrics.LoadDuration.Observe(time.Since(start).Seconds())
		o.complete(gen, d, err)
	})
	return nil
}

// complete handles a finished load. Only the load that is still pending
// performs the swap.
func (o *Overlay) complete(gen uint64, d *Decoded, err error) {
	o.mu.Lock()

	p := o.pending
	if p == nil || p.Generation != gen || o.vp == nil {
		o.mu.Unlock()
		o.logger.Debug("stale load ignored", zap.Uint64("generation", gen))
		metrics.OverlayLoads.WithLabelValues("stale").Inc()
		o.emit([]Notification{{Kind: NotifyStale, Generation: gen}})
		return
	}
	p.abort()

	if err != nil {
		o.pending = nil
		o.mu.Unlock()
		o.logger.Warn("overlay image failed to load", zap.Uint64("generation", gen), zap.String("url", p.URL), zap.Error(err))
		metrics.OverlayLoads.WithLabelValues("failed").Inc()
		o.emit([]Notification{{Kind: NotifyFailed, Generation: gen, URL: p.URL, Err: err}})
		return
	}

	// The view may have moved since the request was issued.
	vp := o.vp
	b := vp.Bounds()
	topLeft := vp.LatLngToLayerPoint(viewport.NorthWest(b))
	size := vp.LatLngToLayerPoint(viewport.SouthEast(b)).Sub(topLeft)

	p.Position = topLeft
	p.Width = size.X
	p.Height = size.Y
	p.Opacity = o.opacity
	p.Decoded = d
	p.Loaded = true

	o.pane.Append(*p.clone())
	if o.current != nil {
		o.pane.Remove(o.current.Generation)
	}
	o.current = p
	o.pending = nil

	ns := []Notification{{Kind: NotifySwap, Generation: gen, URL: p.URL}}
	if !o.shown {
		o.shown = true
		ns = append(ns, Notification{Kind: NotifyLoad, Generation: gen, URL: p.URL})
	}
	o.mu.Unlock()

	metrics.OverlayLoads.WithLabelValues("swap").Inc()
	o.emit(ns)
}

// AnimateZoom scales and translates the displayed image toward the target
// view of a zoom gesture. No request is issued.
func (o *Overlay) AnimateZoom(ev viewport.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.vp == nil || o.current == nil {
		return
	}
	vp := o.vp
	scale := vp.ZoomScale(ev.Zoom)
	b := vp.Bounds()
	topLeft := vp.LatLngToNewLayerPoint(viewport.NorthWest(b), ev.Zoom, ev.Center)
	size := vp.LatLngToNewLayerPoint(viewport.SouthEast(b), ev.Zoom, ev.Center).Sub(topLeft)
	origin := topLeft.Add(size.Mul(0.5 * (1 - 1/scale)))

	o.current.Transform = &Transform{Translate: origin, Scale: scale}
	o.pane.Update(*o.current.clone())
}

// SetOpacity clamps v to [0,1] and applies it to the displayed and pending
// images.
func (o *Overlay) SetOpacity(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opacity = clamp(v)
	if o.pending != nil {
		o.pending.Opacity = o.opacity
	}
	if o.current != nil {
		o.current.Opacity = o.opacity
		if o.vp != nil {
			o.pane.Update(*o.current.clone())
		}
	}
}

// Opacity returns the current opacity.
func (o *Overlay) Opacity() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opacity
}

// Snapshot is a point-in-time copy of the overlay state.
type Snapshot struct {
	State      State   `json:"state"`
	Current    *Image  `json:"current,omitempty"`
	Pending    *Image  `json:"pending,omitempty"`
	Opacity    float64 `json:"opacity"`
	Generation uint64  `json:"generation"`
}

// Snapshot returns the current state.
func (o *Overlay) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	return Snapshot{
		State:      o.state(),
		Current:    o.current.clone(),
		Pending:    o.pending.clone(),
		Opacity:    o.opacity,
		Generation: o.generation,
	}
}

// State returns the lifecycle state.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state()
}

func (o *Overlay) state() State {
	switch {
	case o.vp == nil:
		return Detached
	case o.pending != nil:
		return Refreshing
	}
	return Attached
}
