// Package control implements the HTTP control plane: the chi router
// exposing session CRUD, input/resize, text and binary snapshots, SSE
// streaming, activity, cleanup, and health, plus a WebSocket attach
// channel and the session-history endpoint.
package control

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vibetunnel/core/internal/eventbus"
	"github.com/vibetunnel/core/internal/historydb"
	"github.com/vibetunnel/core/internal/session"
	"github.com/vibetunnel/core/internal/stream"
)

// Config carries everything a Server needs to serve requests.
type Config struct {
	Registry *session.Registry
	Hub      *stream.Hub
	History  *historydb.DB
	Events   *eventbus.Bus
	Log      *logrus.Logger

	// Username/Password enable HTTP basic auth when both are non-empty
	// (VIBETUNNEL_USERNAME/VIBETUNNEL_PASSWORD). This is the minimal
	// local gate, not a general auth subsystem.
	Username, Password string

	RequestTimeout time.Duration
}

// Server owns the chi router and the http.Server wrapping it.
type Server struct {
	cfg    Config
	router *chi.Mux
	http   *http.Server
	log    *logrus.Logger

	startedAt time.Time
}

// New builds a Server with routes installed but not yet listening.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{cfg: cfg, router: chi.NewRouter(), log: cfg.Log, startedAt: time.Now()}
	s.setupRoutes()
	cfg.Registry.OnExit(s.onSessionExit)
	return s
}

// onSessionExit feeds the durable history index and the event bus
// whenever the registry observes a session transition to Exited.
func (s *Server) onSessionExit(sess session.Session) {
	if s.cfg.Events != nil {
		s.cfg.Events.Publish(eventSessionExited(sess.ID, derefExitCode(sess.ExitCode)))
	}
	if s.cfg.History != nil {
		s.cfg.History.Record(historydb.Entry{
			ID:            sess.ID,
			Name:          sess.Name,
			Command:       sess.Command,
			WorkingDir:    sess.WorkingDir,
			Cols:          sess.Cols,
			Rows:          sess.Rows,
			StartedAt:     sess.StartedAt,
			ExitedAt:      derefExitedAt(sess.ExitedAt, sess.StartedAt),
			ExitCode:      derefExitCode(sess.ExitCode),
			RecordingPath: sess.RecordingPath,
		})
	}
}

func derefExitCode(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefExitedAt(p *time.Time, fallback time.Time) time.Time {
	if p == nil {
		return fallback
	}
	return *p
}

// snapshotTimeout is the tighter deadline for the buffer/text snapshot
// fetches.
const snapshotTimeout = 10 * time.Second

// timeoutMiddleware applies a request deadline to everything except the
// streaming/attach endpoints, with the shorter deadline on snapshot
// fetches.
func timeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			switch {
			case strings.HasSuffix(path, "/stream") || strings.HasSuffix(path, "/ws"):
				next.ServeHTTP(w, r)
			case strings.HasSuffix(path, "/buffer") || strings.HasSuffix(path, "/text"):
				middleware.Timeout(snapshotTimeout)(next).ServeHTTP(w, r)
			default:
				middleware.Timeout(timeout)(next).ServeHTTP(w, r)
			}
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(timeoutMiddleware(s.cfg.RequestTimeout))
	if s.cfg.Username != "" && s.cfg.Password != "" {
		s.router.Use(s.basicAuth)
	}

	s.router.Get("/api/health", s.handleHealth)

	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)
		r.Get("/activity", s.handleAllActivity)
		r.Get("/history", s.handleHistory)

		r.Get("/{id}", s.handleGetSession)
		r.Delete("/{id}", s.handleDeleteSession)
		r.Post("/{id}/input", s.handleInput)
		r.Post("/{id}/resize", s.handleResize)
		r.Get("/{id}/text", s.handleText)
		r.Get("/{id}/buffer", s.handleBuffer)
		r.Get("/{id}/stream", s.handleStream)
		r.Get("/{id}/activity", s.handleActivity)
		r.Get("/{id}/ws", s.handleWebSocket)
	})

	s.router.Post("/api/cleanup-exited", s.handleCleanupExited)
}

// Handler exposes the router for use with a custom http.Server (e.g.
// behind the supervisor's listener).
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe binds addr and serves until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router}
	s.log.WithField("addr", addr).Info("control API listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.Username || pass != s.cfg.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="vibetunnel"`)
			apiError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{
		"ok":       true,
		"uptime":   time.Since(s.startedAt).Seconds(),
		"sessions": len(s.cfg.Registry.List()),
	}, http.StatusOK)
}

func (s *Server) handleCleanupExited(w http.ResponseWriter, r *http.Request) {
	n := s.cfg.Registry.CleanupExited()
	jsonResponse(w, map[string]interface{}{"localCleaned": n}, http.StatusOK)
}

func apiErrorf(w http.ResponseWriter, status int, format string, args ...interface{}) {
	apiError(w, fmt.Sprintf(format, args...), status)
}
