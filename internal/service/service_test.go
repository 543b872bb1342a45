package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-ags/internal/db"
	"github.com/joeblew999/plat-ags/internal/mapservice"
	"github.com/joeblew999/plat-ags/internal/overlay"
	"github.com/joeblew999/plat-ags/internal/params"
	"github.com/joeblew999/plat-ags/internal/rpc"
	"github.com/joeblew999/plat-ags/internal/viewport"
)

func census() OverlayConfig {
	opacity := 0.5
	return OverlayConfig{
		Name:        "US Census",
		URL:         "http://host/arcgis/rest/services/Census/MapServer",
		Layers:      []any{"0", "2"},
		LayerOption: "hide",
		LayerDefs:   map[string]any{"0": "POP>100"},
		Opacity:     &opacity,
	}
}

func TestOverlayService_CRUD(t *testing.T) {
	dir := t.TempDir()
	bus := NewEventBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	s := NewOverlayService(dir, bus, nil)

	created, err := s.Create(census())
	require.NoError(t, err)
	assert.Equal(t, "us_census", created.ID)
	assert.Equal(t, Event{Resource: "overlays", Action: "created", ID: "us_census"}, withoutTime(<-events))

	_, err = s.Create(census())
	assert.ErrorIs(t, err, ErrExists)

	got, ok := s.Get("us_census")
	require.True(t, ok)
	assert.Equal(t, created.URL, got.URL)

	changed := census()
	changed.Name = "Census 2020"
	updated, err := s.Update("us_census", changed)
	require.NoError(t, err)
	assert.Equal(t, "us_census", updated.ID)

	_, err = s.Update("missing", changed)
	assert.ErrorIs(t, err, ErrNotFound)

	reloaded := NewOverlayService(dir, nil, nil)
	got, ok = reloaded.Get("us_census")
	require.True(t, ok)
	assert.Equal(t, "Census 2020", got.Name)
	assert.Equal(t, "hide:0,2", mustLayers(t, got))

	require.NoError(t, s.Delete("us_census"))
	assert.ErrorIs(t, s.Delete("us_census"), ErrNotFound)
	assert.Empty(t, s.List())

	data, err := os.ReadFile(filepath.Join(dir, "overlays.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestOverlayService_Seed(t *testing.T) {
	s := NewOverlayService("", nil, nil)
	_, err := s.Create(OverlayConfig{ID: "a", Name: "A", URL: "http://a"})
	require.NoError(t, err)

	require.NoError(t, s.Seed([]OverlayConfig{
		{ID: "a", Name: "ignored", URL: "http://other"},
		{Name: "B Layer", URL: "http://b"},
	}))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "http://a", list[0].URL)
	assert.Equal(t, "b_layer", list[1].ID)
}

func TestGenerateID(t *testing.T) {
	assert.Equal(t, "us_census_2020", generateID(" US Census 2020! "))
	assert.Equal(t, "roads-major", generateID("Roads-Major"))
}

func TestOverlayConfig_Conversions(t *testing.T) {
	c := census()
	opts := c.ServiceOptions()
	layers, ok := params.EncodeLayers(opts.Filter)
	require.True(t, ok)
	assert.Equal(t, "hide:0,2", layers)
	defs, ok := params.EncodeLayerDefs(opts.Filter.Defs)
	require.True(t, ok)
	assert.Equal(t, "0:POP>100", defs)

	o := c.OverlayOptions(nil)
	assert.Equal(t, 0.5, o.Opacity)
	assert.True(t, o.ZoomAnimation)

	assert.Nil(t, o.MaxZoom)

	off := false
	maxZoom := 0.0
	c.ZoomAnimation = &off
	c.MaxZoom = &maxZoom
	o = c.OverlayOptions(nil)
	assert.False(t, o.ZoomAnimation)
	require.NotNil(t, o.MaxZoom)
	assert.Equal(t, 0.0, *o.MaxZoom)
}

func TestViewportConfig_NewMap(t *testing.T) {
	m := ViewportConfig{Lng: 10, Lat: 20, Zoom: 4, CRS: "EPSG:4326"}.NewMap()
	assert.Equal(t, viewport.Point{X: 800, Y: 600}, m.Size())
	assert.Equal(t, 4.0, m.Zoom())
	assert.Equal(t, "EPSG:4326", m.CRS().Code())
	assert.False(t, m.ZoomAnimation())
}

func TestViewUpdate_Apply(t *testing.T) {
	m := DefaultViewport().NewMap()
	var kinds []viewport.EventKind
	for _, k := range []viewport.EventKind{viewport.MoveEnd, viewport.ZoomEnd} {
		m.On(k, func(ev viewport.Event) { kinds = append(kinds, ev.Kind) })
	}

	lng, zoom, width := 5.0, 3.0, 1024
	ViewUpdate{Lng: &lng, Zoom: &zoom, Width: &width}.Apply(m)

	assert.Equal(t, 5.0, m.Center()[0])
	assert.Equal(t, 3.0, m.Zoom())
	assert.Equal(t, 1024.0, m.Size().X)
	assert.Equal(t, []viewport.EventKind{viewport.MoveEnd, viewport.ZoomEnd, viewport.MoveEnd}, kinds)

	panning := true
	ViewUpdate{Panning: &panning, PanX: 10}.Apply(m)
	assert.True(t, m.PanInProgress())
	panning = false
	ViewUpdate{Panning: &panning}.Apply(m)
	assert.False(t, m.PanInProgress())
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(Event{Resource: "sessions", Action: "swap", ID: "x", Generation: 3})
	ea, eb := <-a, <-b
	assert.Equal(t, uint64(3), ea.Generation)
	assert.False(t, ea.At.IsZero())
	assert.Equal(t, ea, eb)

	bus.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)

	var nilBus *EventBus
	nilBus.Publish(Event{})
	bus.Unsubscribe(b)
}

func TestJournal(t *testing.T) {
	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	j, err := NewJournal(ctx, conn)
	require.NoError(t, err)
	_, err = NewJournal(ctx, conn)
	require.NoError(t, err, "journal creation must be repeatable")

	require.NoError(t, j.Record(ctx, JournalEntry{Overlay: "a", Kind: "request", Generation: 1, URL: "http://a/export"}))
	require.NoError(t, j.Record(ctx, JournalEntry{Overlay: "b", Kind: "identify", Error: "boom"}))
	require.NoError(t, j.Record(ctx, JournalEntry{Overlay: "a", Kind: "swap", Generation: 1}))

	all, err := j.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "swap", all[0].Kind)

	onlyA, err := j.Recent(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "http://a/export", onlyA[1].URL)
	assert.Equal(t, uint64(1), onlyA[1].Generation)

	page, total, err := j.Page(ctx, "", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "identify", page[0].Kind)

	stats, err := j.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, "a", stats[0].Overlay)
	assert.Equal(t, "request", stats[0].Kind)
	assert.Equal(t, 1, stats[0].Count)
	assert.Zero(t, stats[0].Errors)
	assert.Equal(t, "b", stats[2].Overlay)
	assert.Equal(t, 1, stats[2].Errors)

	var nilJournal *Journal
	assert.NoError(t, nilJournal.Record(ctx, JournalEntry{}))
	entries, err := nilJournal.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// stubLoader completes every load on demand.
type stubLoader struct {
	mu    sync.Mutex
	dones []func(*overlay.Decoded, error)
}

func (l *stubLoader) Load(_ context.Context, _ string, done func(*overlay.Decoded, error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dones = append(l.dones, done)
}

func (l *stubLoader) finish(i int) {
	l.mu.Lock()
	done := l.dones[i]
	l.mu.Unlock()
	done(&overlay.Decoded{Format: "png"}, nil)
}

func (l *stubLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.dones)
}

func TestSessionService(t *testing.T) {
	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	defer conn.Close()
	journal, err := NewJournal(context.Background(), conn)
	require.NoError(t, err)

	bus := NewEventBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	overlays := NewOverlayService("", nil, nil)
	_, err = overlays.Create(census())
	require.NoError(t, err)

	loader := &stubLoader{}
	requester := rpc.NewManager(rpc.TransportFunc(func(ctx context.Context, u string) ([]byte, error) {
		return []byte(`{"results":[{"layerId":0,"layerName":"Tracts","value":"42"}]}`), nil
	}))
	defer requester.Close()

	sessions := NewSessionService(SessionConfig{
		Overlays:  overlays,
		Loader:    loader,
		Requester: requester,
		Bus:       bus,
		Journal:   journal,
		Viewport:  DefaultViewport(),
	})

	_, err = sessions.Open("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	sess, err := sessions.Open("us_census")
	require.NoError(t, err)
	again, err := sessions.Open("us_census")
	require.NoError(t, err)
	assert.Same(t, sess, again)
	assert.Equal(t, 1, loader.count())
	assert.Equal(t, overlay.Refreshing, sess.Overlay.State())

	loader.finish(0)
	assert.Equal(t, overlay.Attached, sess.Overlay.State())
	assert.Equal(t, 0.5, sess.Pane.Images()[0].Opacity)

	assert.Equal(t, []string{"opened", "request", "swap", "load"}, drainActions(events, 4))

	zoom := 5.0
	_, err = sessions.SetView("us_census", ViewUpdate{Zoom: &zoom})
	require.NoError(t, err)
	assert.Equal(t, 2, loader.count())

	resp, err := sessions.Identify(context.Background(), "us_census", orb.Point{1, 2}, mapservice.IdentifyOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Tracts", resp.Results[0].LayerName)

	entries, err := journal.Recent(context.Background(), "us_census", 0)
	require.NoError(t, err)
	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []string{"identify", "request", "load", "swap", "request"}, kinds)

	_, err = sessions.Attach("us_census")
	assert.ErrorIs(t, err, overlay.ErrAttached)
	_, err = sessions.Detach("us_census")
	require.NoError(t, err)
	assert.Equal(t, overlay.Detached, sess.Overlay.State())
	assert.Empty(t, sess.Pane.Images())
	_, err = sessions.Detach("us_census")
	assert.ErrorIs(t, err, overlay.ErrDetached)
	_, err = sessions.Detach("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	reattached, err := sessions.Attach("us_census")
	require.NoError(t, err)
	assert.Same(t, sess, reattached)
	assert.Len(t, sess.Pane.Images(), 1, "the last loaded image is shown again")

	sessions.Close("us_census")
	_, ok := sessions.Get("us_census")
	assert.False(t, ok)
	assert.Equal(t, overlay.Detached, sess.Overlay.State())
	assert.Equal(t, 0, sess.Map.Len())
	sessions.Close("us_census")
}

func drainActions(ch chan Event, n int) []string {
	var out []string
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev.Action)
		case <-timeout:
			return out
		}
	}
	return out
}

func withoutTime(e Event) Event {
	e.At = time.Time{}
	return e
}

func mustLayers(t *testing.T, c OverlayConfig) string {
	t.Helper()
	s, ok := params.EncodeLayers(c.Filter())
	require.True(t, ok)
	return s
}

func TestOverlayConfig_JSONRoundTripKeepsLayerShapes(t *testing.T) {
	raw := `{"name":"x","url":"http://x","layers":"show:1,2","layerDefs":["","A=1"]}`
	var c OverlayConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	layers, ok := params.EncodeLayers(c.Filter())
	require.True(t, ok)
	assert.Equal(t, "show:1,2", layers)
	defs, ok := params.EncodeLayerDefs(c.Filter().Defs)
	require.True(t, ok)
	assert.Equal(t, "1:A=1", defs)
}

// gateLoader holds the first load until released.
type gateLoader struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (l *gateLoader) Load(_ context.Context, _ string, done func(*overlay.Decoded, error)) {
	l.once.Do(func() {
		close(l.entered)
		<-l.release
	})
	done(&overlay.Decoded{Format: "png"}, nil)
}

func TestSessionService_ConcurrentOpenWaitsForAttach(t *testing.T) {
	overlays := NewOverlayService("", nil, nil)
	_, err := overlays.Create(census())
	require.NoError(t, err)

	loader := &gateLoader{entered: make(chan struct{}), release: make(chan struct{})}
	sessions := NewSessionService(SessionConfig{
		Overlays: overlays,
		Loader:   loader,
		Bus:      NewEventBus(),
		Viewport: DefaultViewport(),
	})
	defer sessions.CloseAll()

	opened := make(chan *Session, 1)
	go func() {
		sess, err := sessions.Open("us_census")
		assert.NoError(t, err)
		opened <- sess
	}()
	<-loader.entered

	detached := make(chan error, 1)
	reopened := make(chan *Session, 1)
	go func() {
		_, err := sessions.Detach("us_census")
		detached <- err
	}()
	go func() {
		sess, err := sessions.Open("us_census")
		assert.NoError(t, err)
		reopened <- sess
	}()

	select {
	case err := <-detached:
		t.Fatalf("detach returned during attach: %v", err)
	case <-reopened:
		t.Fatal("open returned during attach")
	case <-time.After(50 * time.Millisecond):
	}

	close(loader.release)
	sess := <-opened
	require.NotNil(t, sess)
	assert.Same(t, sess, <-reopened)
	require.NoError(t, <-detached)
	assert.Equal(t, overlay.Detached, sess.Overlay.State())
}
