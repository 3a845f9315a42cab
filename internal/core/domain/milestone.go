package domain

import "time"

// TrackingMilestone is a one-time lifecycle event of a parcel.
type TrackingMilestone struct {
	ID          string       `json:"id" bson:"id"`
	Status      ParcelStatus `json:"status" bson:"status"`
	Title       string       `json:"title" bson:"title"`
	Description string       `json:"description" bson:"description"`
	Timestamp   *time.Time   `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
	Location    *Location    `json:"location,omitempty" bson:"location,omitempty"`
	Completed   bool         `json:"completed" bson:"completed"`
}

type milestoneText struct {
	title       string
	description string
}

var milestoneCatalog = map[ParcelStatus]milestoneText{
	StatusAccepted:  {"Order Accepted", "Driver has accepted your delivery request"},
	StatusPickedUp:  {"Picked Up", "Package has been picked up from sender"},
	StatusInTransit: {"In Transit", "Package is on the way to destination"},
	StatusDelivered: {"Delivered", "Package has been delivered to recipient"},
}

// MilestoneID is deterministic so replays of the same transition collapse.
func MilestoneID(parcelID string, status ParcelStatus) string {
	return parcelID + ":" + string(status)
}

// NewMilestonePlan returns the canonical milestone list for a parcel, all pending.
func NewMilestonePlan(parcelID string) []TrackingMilestone {
	plan := make([]TrackingMilestone, 0, len(lifecycle))
	for _, st := range lifecycle {
		text := milestoneCatalog[st]
		plan = append(plan, TrackingMilestone{
			ID:          MilestoneID(parcelID, st),
			Status:      st,
			Title:       text.title,
			Description: text.description,
		})
	}
	return plan
}

// CompletedMilestone builds the completed milestone for a transition into status.
func CompletedMilestone(parcelID string, status ParcelStatus, at time.Time, loc *Location) TrackingMilestone {
	text := milestoneCatalog[status]
	ts := at
	return TrackingMilestone{
		ID:          MilestoneID(parcelID, status),
		Status:      status,
		Title:       text.title,
		Description: text.description,
		Timestamp:   &ts,
		Location:    cloneLocation(loc),
		Completed:   true,
	}
}

func (m TrackingMilestone) clone() TrackingMilestone {
	c := m
	if m.Timestamp != nil {
		ts := *m.Timestamp
		c.Timestamp = &ts
	}
	c.Location = cloneLocation(m.Location)
	return c
}
