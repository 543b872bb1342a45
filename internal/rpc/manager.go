// Package rpc correlates asynchronous GET requests with their responses.
//
// Every request gets a unique token. The Manager keeps a registry of
// outstanding requests keyed by that token and guarantees each caller
// callback runs exactly once, after which the transport is released and the
// registry entry removed. Responses, including JSONP-wrapped ones, are parsed
// as data and never executed.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/joeblew999/plat-ags/internal/metrics"
	"github.com/joeblew999/plat-ags/internal/params"
)

// DefaultNamespace is the registry path prefix used in callback references.
const DefaultNamespace = "ags._callbacks"

var (
	// ErrClosed is returned by Request after Close.
	ErrClosed = errors.New("rpc: manager closed")
	// ErrAbandoned is delivered to callbacks of requests still outstanding
	// when the manager closes.
	ErrAbandoned = errors.New("rpc: request abandoned")
)

// Callback receives the parsed response body or the reason there is none.
type Callback func(body json.RawMessage, err error)

type pending struct {
	token  string
	url    string
	cb     Callback
	cancel context.CancelFunc
	once   sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithNamespace sets the registry path used to build callback references.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithTimeout bounds each round trip. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithLimiter throttles transport round trips.
func WithLimiter(l *rate.Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// Manager owns the token registry for one transport.
type Manager struct {
	transport Transport
	logger    *zap.Logger
	namespace string
	timeout   time.Duration
	limiter   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
}

// NewManager creates a Manager issuing requests through t.
func NewManager(t Transport, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		transport: t,
		logger:    zap.NewNop(),
		namespace: DefaultNamespace,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewToken returns a fresh request token.
func NewToken() string {
	return "callback_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CallbackRef names the registry slot for token.
func (m *Manager) CallbackRef(token string) string {
	return fmt.Sprintf("%s['%s']", m.namespace, token)
}

// Pending returns the number of outstanding requests.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Tokens returns the tokens of outstanding requests.
func (m *Manager) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for t := range m.pending {
		out = append(out, t)
	}
	return out
}

// URL builds the request URL for token: the response format is forced to
// json and the callback reference is appended.
func (m *Manager) URL(baseURL string, p *params.Values, token string) string {
	var q *params.Values
	if p != nil {
		q = p.Clone()
	} else {
		q = params.NewValues()
	}
	q.Set("f", "json")
	q.Set("callback", m.CallbackRef(token))

	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + q.Encode()
}

// Request issues one GET for baseURL with p and returns its token. cb runs
// exactly once: with the response body, with the transport or decode error,
// with ctx's error when ctx ends first, or with ErrAbandoned on Close.
func (m *Manager) Request(ctx context.Context, baseURL string, p *params.Values, cb Callback) (string, error) {
	token := NewToken()
	u := m.URL(baseURL, p, token)

	reqCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	if m.timeout > 0 {
		var cancelTimeout context.CancelFunc
		reqCtx, cancelTimeout = context.WithTimeout(reqCtx, m.timeout)
		inner := cancel
		cancel = func() {
			cancelTimeout()
			inner()
		}
	}
	release := func() {
		stop()
		cancel()
	}

	pr := &pending{token: token, url: u, cb: cb, cancel: release}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		release()
		return "", ErrClosed
	}
	m.pending[token] = pr
	m.mu.Unlock()
	metrics.RequestsPending.Inc()

	m.logger.Debug("request issued", zap.String("token", token), zap.String("url", u))

	go m.roundTrip(reqCtx, pr)
	return token, nil
}

func (m *Manager) roundTrip(ctx context.Context, pr *pending) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			m.dispatch(pr, nil, m.cause(ctx, err))
			return
		}
	}

	raw, err := m.transport.Do(ctx, pr.url)
	if err != nil {
		m.logger.Warn("request failed", zap.String("token", pr.token), zap.Error(err))
		m.dispatch(pr, nil, m.cause(ctx, err))
		return
	}

	body, err := Unwrap(raw, m.CallbackRef(pr.token))
	if err != nil {
		m.logger.Warn("malformed response", zap.String("token", pr.token), zap.Error(err))
	}
	m.dispatch(pr, body, err)
}

// cause reports ErrAbandoned for failures caused by Close.
func (m *Manager) cause(ctx context.Context, err error) error {
	if ctx.Err() != nil && m.ctx.Err() != nil {
		return ErrAbandoned
	}
	return err
}

// dispatch runs the callback, then releases the transport and removes the
// registry entry. Only the first call per request has any effect.
func (m *Manager) dispatch(pr *pending, body json.RawMessage, err error) {
	pr.once.Do(func() {
		defer func() {
			pr.cancel()
			m.mu.Lock()
			delete(m.pending, pr.token)
			m.mu.Unlock()
			metrics.RequestsPending.Dec()

			if r := recover(); r != nil {
				m.logger.Error("callback panicked", zap.String("token", pr.token), zap.Any("panic", r))
			}
		}()

		result := "ok"
		switch {
		case errors.Is(err, ErrAbandoned):
			result = "abandoned"
		case err != nil:
			result = "error"
		}
		metrics.Requests.WithLabelValues(result).Inc()
		m.logger.Debug("request dispatched", zap.String("token", pr.token), zap.String("result", result))

		if pr.cb != nil {
			pr.cb(body, err)
		}
	})
}

// Close abandons every outstanding request and rejects new ones.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	outstanding := make([]*pending, 0, len(m.pending))
	for _, pr := range m.pending {
		outstanding = append(outstanding, pr)
	}
	m.mu.Unlock()

	m.cancel()
	for _, pr := range outstanding {
		m.dispatch(pr, nil, ErrAbandoned)
	}
	return nil
}
