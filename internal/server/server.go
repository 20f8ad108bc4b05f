// Package server exposes the store of record over HTTP.
//
// Routes are served by echo. Auth endpoints issue a session token as an
// HttpOnly cookie and in the X-Auth-Token header; every /api route except
// auth requires it. Mutations are announced to the user's other clients
// through the notify hub.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/khaledrefaat/TaskSimple/internal/auth"
	"github.com/khaledrefaat/TaskSimple/internal/notify"
	"github.com/khaledrefaat/TaskSimple/internal/remote"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address (default: ":8080").
	Addr string

	// SecureCookies marks the session cookie Secure. Enable behind TLS.
	SecureCookies bool

	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool

	// SignInRate is the sustained sign-in attempts per second allowed per
	// client IP (default: 0.2).
	SignInRate float64

	// SignInBurst is the number of attempts allowed at once (default: 5).
	SignInBurst int

	// OriginPatterns lists browser origins allowed on /api/events.
	OriginPatterns []string

	// Logger for server activity (default: stderr with "[server] " prefix).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:        ":8080",
		SignInRate:  0.2,
		SignInBurst: 5,
	}
}

// Server serves the HTTP API.
type Server struct {
	echo   *echo.Echo
	store  *remote.Store
	auth   *auth.Service
	hub    *notify.Hub
	signIn *ipLimiter

	addr     string
	secure   bool
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup

	logger *log.Logger
}

// New creates a server over store and svc.
func New(store *remote.Store, svc *auth.Service, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.SignInRate <= 0 {
		config.SignInRate = 0.2
	}
	if config.SignInBurst <= 0 {
		config.SignInBurst = 5
	}

	s := &Server{
		store:  store,
		auth:   svc,
		signIn: newIPLimiter(rate.Limit(config.SignInRate), config.SignInBurst),
		hub: notify.NewHub(&notify.Config{
			OriginPatterns: config.OriginPatterns,
			Logger:         config.Logger,
		}),
		addr:   config.Addr,
		secure: config.SecureCookies,
		logger: config.Logger,
	}
	s.echo = s.routes(config.TrustProxy)
	return s
}

func (s *Server) routes(trustProxy bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if trustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(s.logRequests)

	e.GET("/health", s.handleHealth)

	api := e.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.POST("/signup", s.handleSignUp)
	authRoutes.POST("/signin", s.handleSignIn, s.limitSignIn)
	authRoutes.POST("/signout", s.handleSignOut)

	private := api.Group("", s.requireAuth)
	private.GET("/me", s.handleMe)
	private.GET("/sync", s.handleSync)
	private.GET("/events", s.handleEvents)

	private.POST("/projects", s.handleCreateProject)
	private.PATCH("/projects/:id", s.handleUpdateProject)
	private.DELETE("/projects/:id", s.handleDeleteProject)

	private.POST("/todos", s.handleCreateTodo)
	private.PATCH("/todos/:id", s.handleUpdateTodo)
	private.DELETE("/todos/:id", s.handleDeleteTodo)

	return e
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins listening and serving. It returns once the listener is
// bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.hub.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down, waiting up to ctx for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Println("Stopping server")

	// Close notice streams first; they would hold Shutdown open.
	s.hub.Stop()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}
	s.wg.Wait()

	s.logger.Println("Server stopped")
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected notice streams.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}
