package domain

import "time"

// ParcelStatus represents the lifecycle state of a tracked parcel.
type ParcelStatus string

const (
	StatusAccepted  ParcelStatus = "accepted"
	StatusPickedUp  ParcelStatus = "picked-up"
	StatusInTransit ParcelStatus = "in-transit"
	StatusDelivered ParcelStatus = "delivered"
)

// lifecycle is the canonical status order. Each status may only advance to
// the one immediately after it.
var lifecycle = []ParcelStatus{StatusAccepted, StatusPickedUp, StatusInTransit, StatusDelivered}

// validTransitions defines the allowed state machine transitions.
var validTransitions = map[ParcelStatus]ParcelStatus{
	StatusAccepted:  StatusPickedUp,
	StatusPickedUp:  StatusInTransit,
	StatusInTransit: StatusDelivered,
}

// CanTransitionTo reports whether a transition from current status to next is valid.
func (s ParcelStatus) CanTransitionTo(next ParcelStatus) bool {
	allowed, ok := validTransitions[s]
	return ok && allowed == next
}

// IsTerminal reports whether no further transition is possible.
func (s ParcelStatus) IsTerminal() bool {
	return s == StatusDelivered
}

// Valid reports whether s is a known lifecycle status.
func (s ParcelStatus) Valid() bool {
	for _, st := range lifecycle {
		if st == s {
			return true
		}
	}
	return false
}

// Rank returns the position of s in the lifecycle, or -1 when unknown.
func (s ParcelStatus) Rank() int {
	for i, st := range lifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

// ParcelTracking is the authoritative tracking record of an active parcel.
type ParcelTracking struct {
	ParcelID         string              `json:"parcelId" bson:"_id"`
	DriverID         string              `json:"driverId" bson:"driver_id"`
	CurrentLocation  *Location           `json:"currentLocation,omitempty" bson:"current_location,omitempty"`
	Destination      *Location           `json:"destination,omitempty" bson:"destination,omitempty"`
	Route            []Location          `json:"route" bson:"route"`
	Status           ParcelStatus        `json:"status" bson:"status"`
	EstimatedArrival *time.Time          `json:"estimatedArrival,omitempty" bson:"estimated_arrival,omitempty"`
	Milestones       []TrackingMilestone `json:"milestones" bson:"milestones"`
	Version          uint64              `json:"version" bson:"version"`
	UpdatedAt        time.Time           `json:"updatedAt" bson:"updated_at"`

	// AvgSpeed is the smoothed recent speed in m/s used for ETA.
	AvgSpeed float64 `json:"-" bson:"avg_speed"`
}

// Clone returns a deep copy so the caller may mutate it freely.
func (p *ParcelTracking) Clone() *ParcelTracking {
	if p == nil {
		return nil
	}
	c := *p
	c.CurrentLocation = cloneLocation(p.CurrentLocation)
	c.Destination = cloneLocation(p.Destination)
	if p.EstimatedArrival != nil {
		eta := *p.EstimatedArrival
		c.EstimatedArrival = &eta
	}
	c.Route = make([]Location, len(p.Route))
	copy(c.Route, p.Route)
	c.Milestones = make([]TrackingMilestone, len(p.Milestones))
	for i, m := range p.Milestones {
		c.Milestones[i] = m.clone()
	}
	return &c
}

func cloneLocation(l *Location) *Location {
	if l == nil {
		return nil
	}
	c := *l
	if l.Accuracy != nil {
		acc := *l.Accuracy
		c.Accuracy = &acc
	}
	return &c
}
