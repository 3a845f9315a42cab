package store

import (
	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/geo"
)

const (
	DefaultRouteMaxPoints = 500
	minRoutePoints        = 3
)

// RoutePolicy bounds route history. Points closer than MinDistanceMeters to the
// last retained point are dropped; once the route exceeds MaxPoints the interior
// is decimated, always keeping the first and last points.
type RoutePolicy struct {
	MaxPoints         int
	MinDistanceMeters float64
}

func (p RoutePolicy) normalized() RoutePolicy {
	if p.MaxPoints <= 0 {
		p.MaxPoints = DefaultRouteMaxPoints
	}
	if p.MaxPoints < minRoutePoints {
		p.MaxPoints = minRoutePoints
	}
	if p.MinDistanceMeters < 0 {
		p.MinDistanceMeters = 0
	}
	return p
}

// Append returns route with loc added according to the policy. The input slice
// is not modified in place.
func (p RoutePolicy) Append(route []domain.Location, loc domain.Location) []domain.Location {
	if n := len(route); n > 0 {
		last := route[n-1]
		if geo.Distance(last.Latitude, last.Longitude, loc.Latitude, loc.Longitude) < p.MinDistanceMeters {
			return route
		}
	}

	out := make([]domain.Location, len(route), len(route)+1)
	copy(out, route)
	out = append(out, loc)

	for len(out) > p.MaxPoints {
		out = decimate(out)
	}
	return out
}

// decimate keeps the endpoints and every other interior point.
func decimate(route []domain.Location) []domain.Location {
	n := len(route)
	if n <= 2 {
		return route
	}
	out := make([]domain.Location, 0, n/2+2)
	out = append(out, route[0])
	for i := 1; i < n-1; i += 2 {
		out = append(out, route[i])
	}
	out = append(out, route[n-1])
	return out
}
