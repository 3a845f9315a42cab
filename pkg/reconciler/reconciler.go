// Package reconciler merges tracking events into a viewer's local state and
// derives the notifications that viewer should see.
//
// Merging is idempotent and last-write-wins per entity: parcel snapshots are
// ordered by update time then version, driver locations by sample timestamp
// and ETAs by the time they were computed. Stale or repeated events leave state untouched and
// produce no notifications, so gaps and duplicates from reconnects are safe.
package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/geo"
)

// Kind classifies a notification.
type Kind string

const (
	KindLocation  Kind = "location"
	KindETA       Kind = "eta"
	KindMilestone Kind = "milestone"
	KindDelay     Kind = "delay"
)

// Preferences selects which notifications a viewer receives.
// PushNotifications is the master switch.
type Preferences struct {
	PushNotifications bool `json:"pushNotifications"`
	LocationUpdates   bool `json:"locationUpdates"`
	ETAChanges        bool `json:"etaChanges"`
	MilestoneAlerts   bool `json:"milestoneAlerts"`
	DelayWarnings     bool `json:"delayWarnings"`
}

// DefaultPreferences enables everything.
func DefaultPreferences() Preferences {
	return Preferences{
		PushNotifications: true,
		LocationUpdates:   true,
		ETAChanges:        true,
		MilestoneAlerts:   true,
		DelayWarnings:     true,
	}
}

func (p Preferences) allows(k Kind) bool {
	if !p.PushNotifications {
		return false
	}
	switch k {
	case KindLocation:
		return p.LocationUpdates
	case KindETA:
		return p.ETAChanges
	case KindMilestone:
		return p.MilestoneAlerts
	case KindDelay:
		return p.DelayWarnings
	}
	return false
}

// Notification is a user-facing message derived from an accepted event.
type Notification struct {
	Kind     Kind      `json:"type"`
	ParcelID string    `json:"parcelId,omitempty"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	At       time.Time `json:"timestamp"`
}

// Reconciler holds one viewer's view of the parcels it follows.
type Reconciler struct {
	mu      sync.RWMutex
	prefs   Preferences
	parcels map[string]*domain.ParcelTracking
	drivers map[string]domain.DriverLocation
	etas    map[string]domain.ETAUpdate
	lastErr string
	now     func() time.Time
}

// New returns an empty Reconciler.
func New(prefs Preferences) *Reconciler {
	return &Reconciler{
		prefs:   prefs,
		parcels: make(map[string]*domain.ParcelTracking),
		drivers: make(map[string]domain.DriverLocation),
		etas:    make(map[string]domain.ETAUpdate),
		now:     time.Now,
	}
}

// SetPreferences replaces the notification preferences.
func (r *Reconciler) SetPreferences(p Preferences) {
	r.mu.Lock()
	r.prefs = p
	r.mu.Unlock()
}

func (r *Reconciler) Preferences() Preferences {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prefs
}

// Apply merges ev and returns the notifications it produced. Events that are
// older than, or identical to, what is already known are ignored.
func (r *Reconciler) Apply(ev domain.Event) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case domain.EventParcelTracking:
		if ev.Tracking != nil {
			return r.applyParcel(ev.Tracking)
		}
	case domain.EventDriverLocation:
		if ev.DriverLocation != nil {
			return r.applyDriver(*ev.DriverLocation)
		}
	case domain.EventETAUpdate:
		if ev.ETA != nil {
			return r.applyETA(*ev.ETA)
		}
	case domain.EventError:
		r.lastErr = ev.Error
	}
	return nil
}

func (r *Reconciler) applyParcel(t *domain.ParcelTracking) []Notification {
	prev, known := r.parcels[t.ParcelID]
	if known && !newerSnapshot(t, prev) {
		return nil
	}
	held := t.Clone()
	if eta, ok := r.etas[t.ParcelID]; ok && eta.ComputedAt.After(t.UpdatedAt) {
		at := eta.ETA
		held.EstimatedArrival = &at
	}
	r.parcels[t.ParcelID] = held

	if !r.prefs.allows(KindMilestone) {
		return nil
	}

	done := make(map[string]bool)
	if known {
		for _, m := range prev.Milestones {
			done[m.ID] = m.Completed
		}
	}

	var out []Notification
	var latest *domain.TrackingMilestone
	for i := range t.Milestones {
		m := &t.Milestones[i]
		if !m.Completed || done[m.ID] {
			continue
		}
		if !known {
			// First snapshot: only announce where the parcel is now.
			latest = m
			continue
		}
		out = append(out, r.milestoneNotification(t.ParcelID, m))
	}
	if latest != nil {
		out = append(out, r.milestoneNotification(t.ParcelID, latest))
	}
	return out
}

// newerSnapshot orders by UpdatedAt first. A relay restart resets versions, so
// a lower version with a later update time is a fresh record.
func newerSnapshot(t, prev *domain.ParcelTracking) bool {
	if !t.UpdatedAt.Equal(prev.UpdatedAt) {
		return t.UpdatedAt.After(prev.UpdatedAt)
	}
	return t.Version > prev.Version
}

func (r *Reconciler) milestoneNotification(parcelID string, m *domain.TrackingMilestone) Notification {
	at := r.now()
	if m.Timestamp != nil {
		at = *m.Timestamp
	}
	return Notification{
		Kind:     KindMilestone,
		ParcelID: parcelID,
		Title:    m.Title,
		Message:  fmt.Sprintf("%s: %s", m.Title, m.Description),
		At:       at,
	}
}

func (r *Reconciler) applyDriver(loc domain.DriverLocation) []Notification {
	if prev, ok := r.drivers[loc.DriverID]; ok && !loc.Timestamp.After(prev.Timestamp) {
		return nil
	}
	r.drivers[loc.DriverID] = loc

	if !r.prefs.allows(KindLocation) {
		return nil
	}
	n := Notification{
		Kind:     KindLocation,
		ParcelID: loc.ParcelID,
		Title:    "Driver Location Update",
		Message:  "Driver location updated",
		At:       loc.Timestamp,
	}
	if p, ok := r.parcels[loc.ParcelID]; ok && p.Destination != nil {
		km := geo.Distance(loc.Latitude, loc.Longitude, p.Destination.Latitude, p.Destination.Longitude) / 1000
		n.Message = fmt.Sprintf("Driver is %.1f km away from delivery location", km)
	}
	return []Notification{n}
}

func (r *Reconciler) applyETA(eta domain.ETAUpdate) []Notification {
	if prev, ok := r.etas[eta.ParcelID]; ok && !eta.ComputedAt.After(prev.ComputedAt) {
		return nil
	}
	r.etas[eta.ParcelID] = eta
	if p, ok := r.parcels[eta.ParcelID]; ok {
		at := eta.ETA
		p.EstimatedArrival = &at
	}

	if eta.Delay != nil && *eta.Delay > 0 {
		if !r.prefs.allows(KindDelay) {
			return nil
		}
		return []Notification{{
			Kind:     KindDelay,
			ParcelID: eta.ParcelID,
			Title:    "Delivery Delayed",
			Message:  fmt.Sprintf("Delivery delayed by %d minutes", *eta.Delay),
			At:       eta.ComputedAt,
		}}
	}
	if !r.prefs.allows(KindETA) {
		return nil
	}
	return []Notification{{
		Kind:     KindETA,
		ParcelID: eta.ParcelID,
		Title:    "ETA Updated",
		Message:  "ETA updated: " + eta.ETA.Local().Format("15:04"),
		At:       eta.ComputedAt,
	}}
}

// Parcel returns a copy of the latest known snapshot.
func (r *Reconciler) Parcel(parcelID string) (*domain.ParcelTracking, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parcels[parcelID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Driver returns the latest known location of a driver.
func (r *Reconciler) Driver(driverID string) (domain.DriverLocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[driverID]
	return d, ok
}

// ETA returns the latest arrival estimate of a parcel.
func (r *Reconciler) ETA(parcelID string) (domain.ETAUpdate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.etas[parcelID]
	return e, ok
}

// LastError returns the message of the most recent error frame.
func (r *Reconciler) LastError() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Forget drops everything known about a parcel, typically after unsubscribing.
func (r *Reconciler) Forget(parcelID string) {
	r.mu.Lock()
	delete(r.parcels, parcelID)
	delete(r.etas, parcelID)
	r.mu.Unlock()
}
