package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/auth"
	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/realtime"
	"github.com/mpkschool/backend/core/user"
	metricsvc "github.com/mpkschool/backend/services/metrics"
)

type (
	// Pinger reports whether the storage is reachable.
	Pinger interface {
		Ping(ctx context.Context) error
	}

	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		UserSvc    user.ServiceInterface
		ChatSvc    chat.ServiceInterface
		Resolver   *auth.Resolver
		Hub        *realtime.Hub
		Metrics    *metricsvc.Collector
		Storage    Pinger
		Validate   *validator.Validate
		Translator ut.Translator
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.Server.ReadTimeout = conf.Server.ReadTimeout
	s.app.Server.WriteTimeout = conf.Server.WriteTimeout
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.IPExtractor = echo.ExtractIPDirect()
	if conf.Server.TrustProxy {
		s.app.IPExtractor = echo.ExtractIPFromXFFHeader() // trusts loopback and private ranges only
	}

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: conf.Server.AllowedOrigins}))

	s.app.GET("/", home)
	s.app.GET("/health", s.health)
	if s.deps.Metrics != nil {
		s.app.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	g := s.app.Group("/api", rateLimitMiddleware(conf.Server.RateLimit, conf.Server.RateBurst))
	jwt := jwtMiddleware(s.deps.Resolver)

	registerUserAPI(g, jwt, s.deps.UserSvc, s.deps.Resolver, s.deps.Validate)
	registerChatAPI(g, jwt, s.deps.ChatSvc, s.deps.Hub, s.deps.Validate)
	registerWebsocketAPI(g, s.deps.Hub, s.deps.Resolver, conf, s.deps.Logger)
	registerSessionAPI(g, jwt, s.deps.Hub)
}

// Start blocks serving HTTP; failures are sent to Errors().
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// Shutdown disconnects the live chat sessions then stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Hub.Shutdown()
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.deps.Hub.Shutdown()
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to MPK School chat API!")
}

func (s *Server) health(ctx echo.Context) error {
	status := http.StatusOK
	data := echo.Map{"status": "ok", "build": s.deps.Conf.Build, "sessions": len(s.deps.Hub.Sessions())}
	if s.deps.Storage != nil {
		if err := s.deps.Storage.Ping(ctx.Request().Context()); err != nil {
			s.deps.Logger.Error("health check failed", err)
			status = http.StatusServiceUnavailable
			data["status"] = "storage unavailable"
		}
	}
	return ctx.JSON(status, data)
}
