package reconciler

import (
	"strings"
	"testing"
	"time"

	"github.com/99minutos/tracking-relay/internal/core/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func snapshot(version uint64, status domain.ParcelStatus) *domain.ParcelTracking {
	plan := domain.NewMilestonePlan("p-1")
	for i := range plan {
		if plan[i].Status.Rank() <= status.Rank() {
			ts := t0.Add(time.Duration(i) * time.Minute)
			plan[i].Completed = true
			plan[i].Timestamp = &ts
		}
	}
	return &domain.ParcelTracking{
		ParcelID:    "p-1",
		DriverID:    "d-1",
		Status:      status,
		Version:     version,
		Milestones:  plan,
		Destination: &domain.Location{Latitude: 19.0820, Longitude: 72.8850},
	}
}

func parcelEvent(p *domain.ParcelTracking) domain.Event {
	return domain.Event{Type: domain.EventParcelTracking, ParcelID: p.ParcelID, Tracking: p}
}

func locationEvent(ts time.Time, lat float64) domain.Event {
	return domain.Event{
		Type:     domain.EventDriverLocation,
		ParcelID: "p-1",
		DriverLocation: &domain.DriverLocation{
			DriverID: "d-1",
			ParcelID: "p-1",
			Location: domain.Location{Latitude: lat, Longitude: 72.8777, Timestamp: ts},
		},
	}
}

func etaEvent(computed time.Time, delay *int) domain.Event {
	return domain.Event{
		Type:     domain.EventETAUpdate,
		ParcelID: "p-1",
		ETA:      &domain.ETAUpdate{ParcelID: "p-1", ETA: computed.Add(20 * time.Minute), Delay: delay, ComputedAt: computed},
	}
}

// ----------------------------------------------------------------------------
// Parcel snapshots
// ----------------------------------------------------------------------------

func TestApply_ParcelVersionWins(t *testing.T) {
	r := New(DefaultPreferences())

	r.Apply(parcelEvent(snapshot(3, domain.StatusPickedUp)))
	if n := r.Apply(parcelEvent(snapshot(2, domain.StatusAccepted))); n != nil {
		t.Fatalf("stale snapshot must not notify: %+v", n)
	}

	got, ok := r.Parcel("p-1")
	if !ok || got.Version != 3 || got.Status != domain.StatusPickedUp {
		t.Fatalf("stale snapshot overwrote state: %+v", got)
	}
}

func TestApply_SnapshotAfterRelayRestartWins(t *testing.T) {
	r := New(DefaultPreferences())

	old := snapshot(9, domain.StatusInTransit)
	old.UpdatedAt = t0
	r.Apply(parcelEvent(old))

	// Re-accepted after a restart: version starts over, update time is later.
	fresh := snapshot(1, domain.StatusAccepted)
	fresh.UpdatedAt = t0.Add(time.Hour)
	r.Apply(parcelEvent(fresh))

	got, _ := r.Parcel("p-1")
	if got.Version != 1 || !got.UpdatedAt.Equal(fresh.UpdatedAt) {
		t.Fatalf("newer snapshot ignored: version=%d updatedAt=%s", got.Version, got.UpdatedAt)
	}

	// An older snapshot from before the restart stays ignored.
	if n := r.Apply(parcelEvent(old)); n != nil {
		t.Fatalf("stale snapshot must not notify: %+v", n)
	}
	if got, _ := r.Parcel("p-1"); got.Version != 1 {
		t.Fatalf("stale snapshot overwrote state: %+v", got)
	}
}

func TestApply_ParcelIdempotent(t *testing.T) {
	r := New(DefaultPreferences())
	ev := parcelEvent(snapshot(1, domain.StatusAccepted))

	first := r.Apply(ev)
	second := r.Apply(ev)

	if len(first) != 1 {
		t.Fatalf("expected one milestone notification, got %d", len(first))
	}
	if second != nil {
		t.Fatalf("replayed event must be a no-op, got %+v", second)
	}
}

func TestApply_MilestoneNotifications(t *testing.T) {
	r := New(DefaultPreferences())

	first := r.Apply(parcelEvent(snapshot(1, domain.StatusPickedUp)))
	if len(first) != 1 || first[0].Kind != KindMilestone || first[0].Title != "Picked Up" {
		t.Fatalf("first snapshot should announce the latest milestone only: %+v", first)
	}

	// A gap: in-transit was missed, delivered arrives directly.
	next := r.Apply(parcelEvent(snapshot(5, domain.StatusDelivered)))
	if len(next) != 2 {
		t.Fatalf("expected notifications for both newly completed milestones, got %+v", next)
	}
	if next[0].Title != "In Transit" || next[1].Title != "Delivered" {
		t.Fatalf("unexpected order %+v", next)
	}
}

func TestApply_SnapshotIsolated(t *testing.T) {
	r := New(DefaultPreferences())
	p := snapshot(1, domain.StatusAccepted)
	r.Apply(parcelEvent(p))

	p.Status = domain.StatusDelivered
	got, _ := r.Parcel("p-1")
	if got.Status != domain.StatusAccepted {
		t.Fatalf("caller mutation leaked into reconciler state")
	}
}

// ----------------------------------------------------------------------------
// Driver locations
// ----------------------------------------------------------------------------

func TestApply_DriverLocationTimestampWins(t *testing.T) {
	r := New(DefaultPreferences())

	r.Apply(locationEvent(t0.Add(10*time.Second), 19.08))
	if n := r.Apply(locationEvent(t0, 19.07)); n != nil {
		t.Fatalf("older sample must be ignored")
	}
	if n := r.Apply(locationEvent(t0.Add(10*time.Second), 19.09)); n != nil {
		t.Fatalf("same-timestamp sample must be ignored")
	}

	got, _ := r.Driver("d-1")
	if got.Latitude != 19.08 {
		t.Fatalf("unexpected latitude %f", got.Latitude)
	}
}

func TestApply_DriverLocationDistanceMessage(t *testing.T) {
	r := New(DefaultPreferences())
	r.Apply(parcelEvent(snapshot(1, domain.StatusInTransit)))

	n := r.Apply(locationEvent(t0, 19.0760))
	if len(n) != 1 || n[0].Kind != KindLocation {
		t.Fatalf("expected location notification, got %+v", n)
	}
	if !strings.HasPrefix(n[0].Message, "Driver is 1.0 km away") {
		t.Fatalf("unexpected message %q", n[0].Message)
	}
}

// ----------------------------------------------------------------------------
// ETA
// ----------------------------------------------------------------------------

func TestApply_ETAMessages(t *testing.T) {
	r := New(DefaultPreferences())
	r.Apply(parcelEvent(snapshot(1, domain.StatusInTransit)))

	n := r.Apply(etaEvent(t0, nil))
	if len(n) != 1 || n[0].Kind != KindETA || !strings.HasPrefix(n[0].Message, "ETA updated") {
		t.Fatalf("unexpected notification %+v", n)
	}

	delay := 7
	n = r.Apply(etaEvent(t0.Add(time.Minute), &delay))
	if len(n) != 1 || n[0].Kind != KindDelay || n[0].Message != "Delivery delayed by 7 minutes" {
		t.Fatalf("unexpected notification %+v", n)
	}

	if n := r.Apply(etaEvent(t0, nil)); n != nil {
		t.Fatalf("older ETA must be ignored")
	}
	got, _ := r.Parcel("p-1")
	if got.EstimatedArrival == nil || !got.EstimatedArrival.Equal(t0.Add(21*time.Minute)) {
		t.Fatalf("ETA not merged into parcel: %v", got.EstimatedArrival)
	}
}

func TestApply_LateSnapshotKeepsNewerETA(t *testing.T) {
	r := New(DefaultPreferences())
	first := snapshot(1, domain.StatusInTransit)
	first.UpdatedAt = t0
	r.Apply(parcelEvent(first))

	r.Apply(etaEvent(t0.Add(2*time.Minute), nil))

	// Built before the ETA above, delivered after it.
	stale := t0.Add(5 * time.Minute)
	late := snapshot(2, domain.StatusInTransit)
	late.UpdatedAt = t0.Add(time.Minute)
	late.EstimatedArrival = &stale
	r.Apply(parcelEvent(late))

	got, _ := r.Parcel("p-1")
	if got.Version != 2 {
		t.Fatalf("snapshot not merged: %+v", got)
	}
	if got.EstimatedArrival == nil || !got.EstimatedArrival.Equal(t0.Add(22*time.Minute)) {
		t.Fatalf("newer ETA lost to stale snapshot: %v", got.EstimatedArrival)
	}
}

// ----------------------------------------------------------------------------
// Preferences
// ----------------------------------------------------------------------------

func TestApply_PreferencesFilter(t *testing.T) {
	prefs := DefaultPreferences()
	prefs.DelayWarnings = false
	prefs.LocationUpdates = false
	r := New(prefs)

	delay := 3
	if n := r.Apply(etaEvent(t0, &delay)); n != nil {
		t.Fatalf("delay warnings disabled, got %+v", n)
	}
	if n := r.Apply(locationEvent(t0, 19.0)); n != nil {
		t.Fatalf("location updates disabled, got %+v", n)
	}
	if _, ok := r.Driver("d-1"); !ok {
		t.Fatalf("state must merge even when notifications are filtered")
	}

	prefs.PushNotifications = false
	prefs.MilestoneAlerts = true
	r.SetPreferences(prefs)
	if n := r.Apply(parcelEvent(snapshot(1, domain.StatusAccepted))); n != nil {
		t.Fatalf("master switch off, got %+v", n)
	}
}

func TestApply_ErrorFrame(t *testing.T) {
	r := New(DefaultPreferences())
	if n := r.Apply(domain.Event{Type: domain.EventError, Error: "parcel not found"}); n != nil {
		t.Fatalf("error frames do not notify")
	}
	if r.LastError() != "parcel not found" {
		t.Fatalf("last error not recorded")
	}
}

func TestForget(t *testing.T) {
	r := New(DefaultPreferences())
	r.Apply(parcelEvent(snapshot(1, domain.StatusAccepted)))
	r.Forget("p-1")
	if _, ok := r.Parcel("p-1"); ok {
		t.Fatalf("parcel not forgotten")
	}
}
