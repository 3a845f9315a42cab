package domain

import (
	"fmt"
	"math"
	"time"
)

// Location is a single geographic fix.
type Location struct {
	Latitude  float64   `json:"latitude" bson:"latitude"`
	Longitude float64   `json:"longitude" bson:"longitude"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty" bson:"accuracy,omitempty"`
	// Suspect is set when the derived speed exceeded the plausibility limit
	// and was clamped.
	Suspect bool `json:"suspect,omitempty" bson:"suspect,omitempty"`
}

// Validate checks coordinate ranges.
func (l Location) Validate() error {
	if !finite(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidSample, l.Latitude)
	}
	if !finite(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidSample, l.Longitude)
	}
	if l.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}
	return nil
}

// DriverLocation is a position report emitted by a driver's device.
type DriverLocation struct {
	Location
	DriverID string `json:"driverId" bson:"driver_id"`
	ParcelID string `json:"parcelId,omitempty" bson:"parcel_id,omitempty"`
	// Heading in degrees, [0, 360).
	Heading *float64 `json:"heading,omitempty" bson:"heading,omitempty"`
	// Speed in meters per second.
	Speed *float64 `json:"speed,omitempty" bson:"speed,omitempty"`
}

// Validate checks coordinates plus heading and speed ranges.
func (d DriverLocation) Validate() error {
	if d.DriverID == "" {
		return fmt.Errorf("%w: missing driverId", ErrInvalidSample)
	}
	if err := d.Location.Validate(); err != nil {
		return err
	}
	if d.Heading != nil && (!finite(*d.Heading) || *d.Heading < 0 || *d.Heading >= 360) {
		return fmt.Errorf("%w: heading %f out of range", ErrInvalidSample, *d.Heading)
	}
	if d.Speed != nil && (!finite(*d.Speed) || *d.Speed < 0) {
		return fmt.Errorf("%w: speed %f out of range", ErrInvalidSample, *d.Speed)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }
