// Package httpapi implements the registry's HTTP surface (spec.md §6):
// a gorilla/mux route table in front of pkg/registry, pkg/auth, and the
// optional pkg/mirror read-through cache. Grounded on the teacher
// corpus's pkg/api health-server shape (a thin struct holding its
// collaborators plus a router, Start/Shutdown lifecycle methods) and
// pkg/metrics's promhttp wiring.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgecrate/registry/pkg/auth"
	"github.com/forgecrate/registry/pkg/log"
	"github.com/forgecrate/registry/pkg/mirror"
	"github.com/forgecrate/registry/pkg/registry"
)

// Config parameterizes a Server.
type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
}

// Server is the registry's HTTP surface.
type Server struct {
	cfg      Config
	registry *registry.Service
	auth     *auth.Service
	mirror   *mirror.Coordinator // nil when mirroring is disabled
	router   *mux.Router
}

// New builds a Server and wires its route table. mirrorCoord may be nil
// (SPEC_FULL.md §4.6a: mirroring is optional).
func New(cfg Config, registrySvc *registry.Service, authSvc *auth.Service, mirrorCoord *mirror.Coordinator) *Server {
	cfg.applyDefaults()
	s := &Server{cfg: cfg, registry: registrySvc, auth: authSvc, mirror: mirrorCoord, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(requestLogging)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/crates/new", s.requireToken(s.handlePublish)).Methods(http.MethodPut)
	api.HandleFunc("/crates/{name}/{vers}/yank", s.requireToken(s.handleYank)).Methods(http.MethodDelete)
	api.HandleFunc("/crates/{name}/{vers}/unyank", s.requireToken(s.handleUnyank)).Methods(http.MethodPut)
	api.HandleFunc("/crates/{name}/owners", s.requireToken(s.handleOwnersList)).Methods(http.MethodGet)
	api.HandleFunc("/crates/{name}/owners", s.requireToken(s.handleOwnersAdd)).Methods(http.MethodPut)
	api.HandleFunc("/crates/{name}/owners", s.requireToken(s.handleOwnersRemove)).Methods(http.MethodDelete)
	api.HandleFunc("/crates", s.requireToken(s.handleSearch)).Methods(http.MethodGet)
	api.HandleFunc("/crates/{name}/{vers}/download", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/crates/{name}/{vers}", s.handleEntry).Methods(http.MethodGet)

	ktra := s.router.PathPrefix("/ktra/api/v1").Subrouter()
	ktra.HandleFunc("/new_user/{login}", s.handleNewUser).Methods(http.MethodPost)
	ktra.HandleFunc("/login/{login}", s.handleLogin).Methods(http.MethodPost)
	ktra.HandleFunc("/change_password/{login}", s.handleChangePassword).Methods(http.MethodPost)
}

// Handler returns the root http.Handler, for embedding in an
// *http.Server or a test server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server on addr and blocks until ctx is
// cancelled, then performs a graceful shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
