// Package server assembles the overlay HTTP server.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/joeblew999/plat-ags/internal/api"
	"github.com/joeblew999/plat-ags/internal/api/viewer"
	"github.com/joeblew999/plat-ags/internal/config"
	"github.com/joeblew999/plat-ags/internal/db"
	"github.com/joeblew999/plat-ags/internal/metrics"
	"github.com/joeblew999/plat-ags/internal/overlay"
	"github.com/joeblew999/plat-ags/internal/rpc"
	"github.com/joeblew999/plat-ags/internal/service"
)

// Server is the overlay HTTP server.
type Server struct {
	config   *config.Config
	logger   *zap.Logger
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	bus      *service.EventBus
	requests *rpc.Manager
	services *api.Services
}

// New creates a server from cfg. A nil logger discards logs.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-ags API", "1.0.0")
	humaConfig.Info.Description = "Dynamic map service overlays: export image synchronization, identify requests and the request journal."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s", cfg.Server.Addr()), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s := &Server{
		config:  cfg,
		logger:  logger,
		mux:     mux,
		humaAPI: humago.New(mux, humaConfig),
		bus:     service.NewEventBus(),
	}

	overlays := service.NewOverlayService(cfg.DataDir, s.bus, logger.Named("overlays"))
	if err := overlays.Seed(cfg.Overlays); err != nil {
		return nil, fmt.Errorf("failed to seed overlays: %w", err)
	}

	var journal *service.Journal
	if cfg.Journal.Enabled {
		conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: cfg.Journal.DBName})
		if err != nil {
			logger.Warn("journal disabled", zap.Error(err))
		} else {
			s.db = conn
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			journal, err = service.NewJournal(ctx, conn)
			cancel()
			if err != nil {
				return nil, err
			}
		}
	}

	client := &http.Client{}
	opts := []rpc.Option{
		rpc.WithLogger(logger.Named("rpc")),
		rpc.WithNamespace(cfg.Identify.Namespace),
		rpc.WithTimeout(cfg.Identify.Timeout),
	}
	if cfg.Identify.Rate > 0 {
		opts = append(opts, rpc.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Identify.Rate), max(cfg.Identify.Burst, 1))))
	}
	s.requests = rpc.NewManager(rpc.NewHTTPTransport(client), opts...)

	s.services = &api.Services{
		Overlays: overlays,
		Journal:  journal,
		Sessions: service.NewSessionService(service.SessionConfig{
			Overlays:  overlays,
			Loader:    overlay.NewHTTPLoader(client, logger.Named("loader")),
			Requester: s.requests,
			Bus:       s.bus,
			Journal:   journal,
			Viewport:  cfg.Viewport,
			Logger:    logger.Named("sessions"),
		}),
	}

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// API returns the Huma API, e.g. for OpenAPI export.
func (s *Server) API() huma.API {
	return s.humaAPI
}

// Close detaches every session, abandons outstanding requests and closes
// the database.
func (s *Server) Close() error {
	s.services.Sessions.CloseAll()
	s.requests.Close()
	if s.db != nil {
		return db.Close()
	}
	return nil
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.config.DataDir, s.db != nil).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(s.db, s.services.Journal).RegisterRoutes(s.humaAPI)

	// Datastar SSE routes
	viewer.NewHandler(s.services.Sessions, s.bus).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-ags",
		"status":  "running",
	})
}
