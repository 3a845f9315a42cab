package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/ports"
)

// Submitter queues a sample on the ingest pipeline and waits for its result.
type Submitter interface {
	Submit(ctx context.Context, sample domain.DriverLocation) (*ports.IngestResult, error)
}

// LocationHandler accepts driver position reports over HTTP.
type LocationHandler struct {
	queue  Submitter
	ingest ports.IngestService
}

func NewLocationHandler(queue Submitter, ingest ports.IngestService) *LocationHandler {
	return &LocationHandler{queue: queue, ingest: ingest}
}

type locationRequest struct {
	Latitude  float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64    `json:"longitude" validate:"gte=-180,lte=180"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Accuracy  *float64   `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	ParcelID  string     `json:"parcelId,omitempty"`
	Heading   *float64   `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	Speed     *float64   `json:"speed,omitempty" validate:"omitempty,gte=0"`
}

// Ingest handles POST /v1/locations.
//
// @Summary      Report the caller's current position
// @Tags         locations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      locationRequest  true  "Position sample"
// @Success      202   {object}  ports.IngestResult
// @Failure      400   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Router       /v1/locations [post]
func (h *LocationHandler) Ingest(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	var req locationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ts := requestTime(c)
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = *req.Timestamp
	}

	res, err := h.queue.Submit(c.Request().Context(), domain.DriverLocation{
		Location: domain.Location{
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Timestamp: ts,
			Accuracy:  req.Accuracy,
		},
		DriverID: id.ID,
		ParcelID: req.ParcelID,
		Heading:  req.Heading,
		Speed:    req.Speed,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, res)
}

// Current handles GET /v1/drivers/:driver_id/location.
//
// @Summary      Get a driver's last accepted position
// @Tags         locations
// @Produce      json
// @Security     BearerAuth
// @Param        driver_id  path      string  true  "Driver id"
// @Success      200        {object}  domain.DriverLocation
// @Failure      404        {object}  map[string]string
// @Router       /v1/drivers/{driver_id}/location [get]
func (h *LocationHandler) Current(c echo.Context) error {
	loc, err := h.ingest.Current(c.Param("driver_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loc)
}
