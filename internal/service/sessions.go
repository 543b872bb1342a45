package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-ags/internal/mapservice"
	"github.com/joeblew999/plat-ags/internal/overlay"
	"github.com/joeblew999/plat-ags/internal/viewport"
)

// Session is one live overlay: a headless viewport, the map service and the
// overlay kept in sync with them.
type Session struct {
	ID      string
	Config  OverlayConfig
	Map     *viewport.Map
	Service *mapservice.Service
	Overlay *overlay.Overlay
	Pane    *overlay.MemoryPane

	// ready is closed once the first attach returned; err holds its failure.
	ready chan struct{}
	err   error
}

// ViewUpdate changes a session viewport. Nil fields are left unchanged.
type ViewUpdate struct {
	Lng     *float64 `json:"lng,omitempty" minimum:"-180" maximum:"180" doc:"New center longitude"`
	Lat     *float64 `json:"lat,omitempty" minimum:"-90" maximum:"90" doc:"New center latitude"`
	Zoom    *float64 `json:"zoom,omitempty" minimum:"0" doc:"New zoom level"`
	Width   *int     `json:"width,omitempty" minimum:"1" doc:"New view width in pixels"`
	Height  *int     `json:"height,omitempty" minimum:"1" doc:"New view height in pixels"`
	PanX    float64  `json:"panX,omitempty" doc:"Pan offset in pixels"`
	PanY    float64  `json:"panY,omitempty" doc:"Pan offset in pixels"`
	Panning *bool    `json:"panning,omitempty" doc:"Start or finish a pan transition"`
}

// Apply drives m through u in the order a user would: resize, start a pan,
// jump to a view, pan, finish the pan.
func (u ViewUpdate) Apply(m *viewport.Map) {
	size := m.Size()
	if u.Width != nil {
		size.X = float64(*u.Width)
	}
	if u.Height != nil {
		size.Y = float64(*u.Height)
	}
	m.Resize(size)

	if u.Panning != nil && *u.Panning {
		m.SetPanning(true)
	}

	if u.Lng != nil || u.Lat != nil || u.Zoom != nil {
		center := m.Center()
		zoom := m.Zoom()
		if u.Lng != nil {
			center[0] = *u.Lng
		}
		if u.Lat != nil {
			center[1] = *u.Lat
		}
		if u.Zoom != nil {
			zoom = *u.Zoom
		}
		m.SetView(center, zoom)
	}

	if u.PanX != 0 || u.PanY != 0 {
		m.PanBy(viewport.Point{X: u.PanX, Y: u.PanY})
	}

	if u.Panning != nil && !*u.Panning {
		m.SetPanning(false)
	}
}

// SessionConfig wires a SessionService.
type SessionConfig struct {
	Overlays  *OverlayService
	Loader    overlay.Loader
	Requester mapservice.Requester
	Bus       *EventBus
	Journal   *Journal
	Viewport  ViewportConfig
	Logger    *zap.Logger
}

// SessionService owns the live session of every opened overlay.
type SessionService struct {
	cfg    SessionConfig
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionService creates a session service.
func NewSessionService(cfg SessionConfig) *SessionService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Get returns the open session for id. A session that is still attaching
// is returned once its attach finished.
func (s *SessionService) Get(id string) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	<-sess.ready
	return sess, sess.err == nil
}

// List returns the ids of the open sessions.
func (s *SessionService) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Open returns the session for the overlay definition id, creating and
// attaching it on first use. Concurrent callers wait for that attach.
func (s *SessionService) Open(id string) (*Session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		<-sess.ready
		if sess.err != nil {
			return nil, sess.err
		}
		return sess, nil
	}

	def, ok := s.cfg.Overlays.Get(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("overlay %q: %w", id, ErrNotFound)
	}

	logger := s.logger.With(zap.String("overlay", id))
	sess := &Session{
		ID:      id,
		Config:  def,
		Map:     s.cfg.Viewport.NewMap(),
		Service: mapservice.New(def.URL, def.ServiceOptions()),
		Pane:    overlay.NewMemoryPane(),
		ready:   make(chan struct{}),
	}
	sess.Overlay = overlay.New(sess.Service, s.cfg.Loader, sess.Pane, def.OverlayOptions(logger))
	sess.Overlay.OnNotify(func(n overlay.Notification) { s.notify(id, n) })
	s.sessions[id] = sess
	s.mu.Unlock()

	s.cfg.Bus.Publish(Event{Resource: "sessions", Action: "opened", ID: id})
	if err := sess.Overlay.Attach(sess.Map); err != nil {
		sess.err = fmt.Errorf("failed to attach overlay %q: %w", id, err)
		close(sess.ready)
		s.mu.Lock()
		if s.sessions[id] == sess {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		s.cfg.Bus.Publish(Event{Resource: "sessions", Action: "closed", ID: id})
		return nil, sess.err
	}
	close(sess.ready)

	logger.Info("session opened")
	return sess, nil
}

func (s *SessionService) notify(id string, n overlay.Notification) {
	ev := Event{Resource: "sessions", Action: string(n.Kind), ID: id, Generation: n.Generation, URL: n.URL}
	if n.Err != nil {
		ev.Error = n.Err.Error()
	}
	s.cfg.Bus.Publish(ev)

	if n.Kind == overlay.NotifySuperseded {
		return
	}
	entry := JournalEntry{Overlay: id, Kind: string(n.Kind), Generation: n.Generation, URL: n.URL, Error: ev.Error}
	if err := s.cfg.Journal.Record(context.Background(), entry); err != nil {
		s.logger.Warn("journal write failed", zap.String("overlay", id), zap.Error(err))
	}
}

// SetView applies u to the session viewport.
func (s *SessionService) SetView(id string, u ViewUpdate) (*Session, error) {
	sess, err := s.Open(id)
	if err != nil {
		return nil, err
	}
	u.Apply(sess.Map)
	return sess, nil
}

// Identify queries the features at a point of the session's current view.
func (s *SessionService) Identify(ctx context.Context, id string, at orb.Point, opts mapservice.IdentifyOptions) (*mapservice.IdentifyResponse, error) {
	if s.cfg.Requester == nil {
		return nil, errors.New("identify is not configured")
	}
	sess, err := s.Open(id)
	if err != nil {
		return nil, err
	}

	resp, err := sess.Service.IdentifyWait(ctx, s.cfg.Requester, sess.Map.Bounds(), at, opts)

	entry := JournalEntry{Overlay: id, Kind: "identify", URL: sess.Service.IdentifyURL()}
	if err != nil {
		entry.Error = err.Error()
	}
	if jerr := s.cfg.Journal.Record(ctx, entry); jerr != nil {
		s.logger.Warn("journal write failed", zap.String("overlay", id), zap.Error(jerr))
	}
	return resp, err
}

// Attach attaches the session for id, opening it if needed. Attaching an
// attached session returns overlay.ErrAttached.
func (s *SessionService) Attach(id string) (*Session, error) {
	sess, ok := s.Get(id)
	if !ok {
		return s.Open(id)
	}
	if err := sess.Overlay.Attach(sess.Map); err != nil {
		return nil, fmt.Errorf("overlay %q: %w", id, err)
	}
	s.cfg.Bus.Publish(Event{Resource: "sessions", Action: "attached", ID: id})
	return sess, nil
}

// Detach detaches the session for id but keeps it, so a later Attach
// reuses its last image.
func (s *SessionService) Detach(id string) (*Session, error) {
	if _, ok := s.cfg.Overlays.Get(id); !ok {
		return nil, fmt.Errorf("overlay %q: %w", id, ErrNotFound)
	}
	sess, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("overlay %q: %w", id, overlay.ErrDetached)
	}
	if err := sess.Overlay.Detach(); err != nil {
		return nil, fmt.Errorf("overlay %q: %w", id, err)
	}
	s.cfg.Bus.Publish(Event{Resource: "sessions", Action: "detached", ID: id})
	return sess, nil
}

// Close detaches and forgets the session for id. Closing an unknown
// session is a no-op.
func (s *SessionService) Close(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	<-sess.ready
	if sess.err != nil {
		return
	}
	if err := sess.Overlay.Detach(); err != nil && !errors.Is(err, overlay.ErrDetached) {
		s.logger.Warn("detach failed", zap.String("overlay", id), zap.Error(err))
	}
	s.cfg.Bus.Publish(Event{Resource: "sessions", Action: "closed", ID: id})
}

// CloseAll closes every session.
func (s *SessionService) CloseAll() {
	for _, id := range s.List() {
		s.Close(id)
	}
}
