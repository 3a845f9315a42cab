package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/99minutos/tracking-relay/docs"
	"github.com/99minutos/tracking-relay/internal/api/handler"
	"github.com/99minutos/tracking-relay/internal/api/middleware"
	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/ports"
	"github.com/99minutos/tracking-relay/internal/infrastructure/http/handlers"
	"github.com/99minutos/tracking-relay/internal/relay"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	JWTSecret string
	Log       zerolog.Logger

	Auth     ports.AuthService
	Tracking ports.TrackingService
	Ingest   ports.IngestService
	Queue    handler.Submitter
	Relay    *relay.Router

	// Checks are run by the readiness probe, keyed by dependency name.
	Checks map[string]handlers.Check
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.Logger())
	e.Use(echoprometheus.NewMiddleware("tracking_http"))

	// --- Operational endpoints (no auth required) ---
	healthHandler := handlers.NewHealthHandler()
	healthDepsHandler := handlers.NewHealthDependenciesHandler(d.Checks, d.Relay)

	e.GET("/health", healthHandler.Liveness)            // liveness  – is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness – are dependencies up?
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// --- Auth routes ---
	authHandler := handler.NewAuthHandler(d.Auth)
	e.POST("/auth/register", authHandler.Register)
	e.POST("/auth/login", authHandler.Login)

	// --- Authenticated API ---
	trackingHandler := handler.NewTrackingHandler(d.Tracking)
	locationHandler := handler.NewLocationHandler(d.Queue, d.Ingest)
	wsHandler := handler.NewWSHandler(d.Relay, d.Tracking, d.Ingest, d.Queue, d.Log)

	v1 := e.Group("/v1", middleware.Auth(d.JWTSecret))
	anyone := middleware.RequireRole(domain.RoleAdmin, domain.RoleDriver, domain.RoleSender)
	operators := middleware.RequireRole(domain.RoleAdmin, domain.RoleDriver)

	v1.GET("/ws", wsHandler.Serve, anyone)

	parcels := v1.Group("/parcels")
	parcels.GET("/:parcel_id/tracking", trackingHandler.Get, anyone)
	parcels.GET("/:parcel_id/history", trackingHandler.History, anyone)
	parcels.GET("/:parcel_id/route.geojson", trackingHandler.RouteGeoJSON, anyone)
	parcels.POST("/:parcel_id/accept", trackingHandler.Accept, operators)
	parcels.POST("/:parcel_id/milestones", trackingHandler.Transition, operators)

	v1.POST("/locations", locationHandler.Ingest, middleware.RequireRole(domain.RoleDriver))
	v1.GET("/drivers/:driver_id/location", locationHandler.Current, anyone)

	return e
}
