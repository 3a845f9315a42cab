package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/ports"
)

// MIMEGeoJSON is the registered media type for GeoJSON documents.
const MIMEGeoJSON = "application/geo+json"

// TrackingHandler serves parcel tracking records and lifecycle transitions.
type TrackingHandler struct {
	service ports.TrackingService
}

func NewTrackingHandler(service ports.TrackingService) *TrackingHandler {
	return &TrackingHandler{service: service}
}

// --- Request / Response types ---

type pointRequest struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

type acceptRequest struct {
	// DriverID is only honoured for admins; drivers always accept for themselves.
	DriverID    string        `json:"driverId,omitempty"`
	Destination *pointRequest `json:"destination,omitempty"`
}

type transitionRequest struct {
	Status   string        `json:"status" validate:"required,oneof=picked-up in-transit delivered"`
	Location *pointRequest `json:"location,omitempty"`
}

type historyResponse struct {
	ParcelID string                `json:"parcelId"`
	Changes  []domain.StatusChange `json:"changes"`
}

func (p *pointRequest) toLocation(c echo.Context) *domain.Location {
	if p == nil {
		return nil
	}
	return &domain.Location{Latitude: p.Latitude, Longitude: p.Longitude, Timestamp: requestTime(c)}
}

// Accept handles POST /v1/parcels/:parcel_id/accept.
//
// @Summary      Accept a parcel and start tracking it
// @Tags         parcels
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        parcel_id  path      string         true   "Parcel id"
// @Param        body       body      acceptRequest  false  "Assignment details"
// @Success      201        {object}  domain.ParcelTracking
// @Failure      400        {object}  map[string]string
// @Failure      403        {object}  map[string]string
// @Failure      409        {object}  map[string]string
// @Router       /v1/parcels/{parcel_id}/accept [post]
func (h *TrackingHandler) Accept(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	var req acceptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Destination != nil {
		if err := c.Validate(req.Destination); err != nil {
			return err
		}
	}

	driverID := id.ID
	if id.Role == domain.RoleAdmin {
		if req.DriverID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "driverId is required")
		}
		driverID = req.DriverID
	}

	tracking, err := h.service.Accept(c.Request().Context(), ports.AcceptInput{
		ParcelID:    c.Param("parcel_id"),
		DriverID:    driverID,
		Destination: req.Destination.toLocation(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tracking)
}

// Transition handles POST /v1/parcels/:parcel_id/milestones.
//
// @Summary      Advance a parcel to its next status
// @Tags         parcels
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        parcel_id  path      string             true  "Parcel id"
// @Param        body       body      transitionRequest  true  "Target status"
// @Success      200        {object}  domain.ParcelTracking
// @Failure      400        {object}  map[string]string
// @Failure      403        {object}  map[string]string
// @Failure      404        {object}  map[string]string
// @Failure      422        {object}  map[string]string
// @Router       /v1/parcels/{parcel_id}/milestones [post]
func (h *TrackingHandler) Transition(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Location != nil {
		if err := c.Validate(req.Location); err != nil {
			return err
		}
	}

	tracking, err := h.service.Transition(c.Request().Context(), ports.TransitionInput{
		ParcelID:  c.Param("parcel_id"),
		Status:    domain.ParcelStatus(req.Status),
		ActorID:   id.ID,
		ActorRole: id.Role,
		Location:  req.Location.toLocation(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tracking)
}

// Get handles GET /v1/parcels/:parcel_id/tracking.
//
// @Summary      Get the tracking snapshot of a parcel
// @Tags         parcels
// @Produce      json
// @Security     BearerAuth
// @Param        parcel_id  path      string  true  "Parcel id"
// @Success      200        {object}  domain.ParcelTracking
// @Failure      404        {object}  map[string]string
// @Router       /v1/parcels/{parcel_id}/tracking [get]
func (h *TrackingHandler) Get(c echo.Context) error {
	tracking, err := h.service.GetTracking(c.Request().Context(), c.Param("parcel_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tracking)
}

// History handles GET /v1/parcels/:parcel_id/history.
//
// @Summary      List the status changes of a parcel
// @Tags         parcels
// @Produce      json
// @Security     BearerAuth
// @Param        parcel_id  path      string  true  "Parcel id"
// @Success      200        {object}  historyResponse
// @Failure      404        {object}  map[string]string
// @Router       /v1/parcels/{parcel_id}/history [get]
func (h *TrackingHandler) History(c echo.Context) error {
	parcelID := c.Param("parcel_id")
	changes, err := h.service.History(c.Request().Context(), parcelID)
	if err != nil {
		return err
	}
	if changes == nil {
		changes = []domain.StatusChange{}
	}
	return c.JSON(http.StatusOK, historyResponse{ParcelID: parcelID, Changes: changes})
}

// RouteGeoJSON handles GET /v1/parcels/:parcel_id/route.geojson.
//
// @Summary      Export the route of a parcel as a GeoJSON feature
// @Tags         parcels
// @Produce      application/geo+json
// @Security     BearerAuth
// @Param        parcel_id  path      string  true  "Parcel id"
// @Success      200        {object}  map[string]interface{}
// @Failure      404        {object}  map[string]string
// @Router       /v1/parcels/{parcel_id}/route.geojson [get]
func (h *TrackingHandler) RouteGeoJSON(c echo.Context) error {
	tracking, err := h.service.GetTracking(c.Request().Context(), c.Param("parcel_id"))
	if err != nil {
		return err
	}

	data, err := routeFeature(tracking)
	if err != nil {
		return fmt.Errorf("route geojson: %w", err)
	}
	return c.Blob(http.StatusOK, MIMEGeoJSON, data)
}

// routeFeature renders the route as a LineString feature. Routes with fewer
// than two points cannot form a line and are rendered as a MultiPoint.
func routeFeature(t *domain.ParcelTracking) ([]byte, error) {
	coords := make([]geom.Coord, 0, len(t.Route))
	for _, p := range t.Route {
		// GeoJSON positions are longitude first.
		coords = append(coords, geom.Coord{p.Longitude, p.Latitude})
	}

	var g geom.T
	if len(coords) >= 2 {
		g = geom.NewLineString(geom.XY).MustSetCoords(coords)
	} else {
		g = geom.NewMultiPoint(geom.XY).MustSetCoords(coords)
	}

	props := map[string]interface{}{
		"parcelId": t.ParcelID,
		"driverId": t.DriverID,
		"status":   string(t.Status),
		"points":   len(coords),
		"version":  t.Version,
	}
	if len(t.Route) > 0 {
		props["startedAt"] = t.Route[0].Timestamp
		props["lastSeenAt"] = t.Route[len(t.Route)-1].Timestamp
	}

	return json.Marshal(&geojson.Feature{
		ID:         t.ParcelID,
		Geometry:   g,
		Properties: props,
	})
}
