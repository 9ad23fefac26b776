package adminapi

import (
	"context"
	"fmt"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/connexa/waconnect/internal/app"
	"github.com/connexa/waconnect/internal/whatsapp"
)

// Server is the admin HTTP API: operator auth plus session management.
type Server struct {
	app      app.AppContext
	sessions *whatsapp.Service
	echo     *echo.Echo
}

func NewServer(appCtx app.AppContext, sessions *whatsapp.Service) *Server {
	return &Server{app: appCtx, sessions: sessions}
}

func (s *Server) Init() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("adminapi request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	e.POST("/auth/login", s.login)

	api := e.Group("/api")
	api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(s.app.Config().Web.JwtSecret),
	}))

	api.GET("/sessions", s.listSessions)
	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.getSession)
	api.DELETE("/sessions/:id", s.removeSession)
	api.POST("/sessions/:id/connect", s.connectSession)
	api.POST("/sessions/:id/disconnect", s.disconnectSession)
	api.GET("/sessions/:id/health", s.getSessionHealth)
	api.GET("/sessions/:id/pairing", s.getSessionPairing)
	api.POST("/sessions/:id/send", s.sendMessage)
	api.POST("/sessions/sweep", s.runSweep)

	s.echo = e
}

func (s *Server) Start() error {
	cfg := s.app.Config().Web
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	zap.L().Info("adminapi listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.echo == nil {
		return nil
	}
	return s.echo.Shutdown(ctx)
}
