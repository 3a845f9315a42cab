package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/ports"
	"github.com/99minutos/tracking-relay/internal/core/store"
)

// ---------------------------------------------------------------------------
// Helper: a tracking service over a real store with a fixed clock.
// ---------------------------------------------------------------------------

var serverNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type trackingFixture struct {
	svc       ports.TrackingService
	store     *store.Store
	bc        *stubBroadcaster
	archive   *stubArchive
	audit     *stubAudit
	publisher *stubPublisher
	mirror    *stubMirror
}

func newTrackingFixture() *trackingFixture {
	f := &trackingFixture{
		store:     store.New(store.RoutePolicy{MaxPoints: 100, MinDistanceMeters: 0}),
		bc:        newStubBroadcaster(),
		archive:   newStubArchive(),
		audit:     &stubAudit{},
		publisher: &stubPublisher{},
		mirror:    &stubMirror{},
	}
	f.svc = NewTrackingService(f.store, f.bc, f.archive, f.audit, zerolog.Nop(),
		WithStatusPublisher(f.publisher),
		WithLocationMirror(f.mirror),
		WithClock(func() time.Time { return serverNow }),
	)
	return f
}

func (f *trackingFixture) accept(t *testing.T, parcelID, driverID string, dest *domain.Location) {
	t.Helper()
	if _, err := f.svc.Accept(context.Background(), ports.AcceptInput{ParcelID: parcelID, DriverID: driverID, Destination: dest}); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func (f *trackingFixture) transition(parcelID string, st domain.ParcelStatus) (*domain.ParcelTracking, error) {
	return f.svc.Transition(context.Background(), ports.TransitionInput{
		ParcelID: parcelID, Status: st, ActorID: "d1", ActorRole: domain.RoleDriver,
	})
}

// ---------------------------------------------------------------------------
// Accept
// ---------------------------------------------------------------------------

func TestTrackingService_Accept(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)

	snap, err := f.svc.GetTracking(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Status != domain.StatusAccepted || snap.DriverID != "d1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Milestones) != 4 || !snap.Milestones[0].Completed || snap.Milestones[1].Completed {
		t.Fatalf("expected only the accepted milestone completed: %+v", snap.Milestones)
	}
	if !snap.Milestones[0].Timestamp.Equal(serverNow) {
		t.Fatalf("accepted milestone should carry server time")
	}
	if len(f.bc.ofType(domain.EventParcelTracking)) != 1 {
		t.Fatalf("expected a parcel-tracking-update")
	}
	if len(f.audit.changes) != 1 || len(f.publisher.published) != 1 {
		t.Fatalf("expected audit and publish for accept")
	}
	if got := f.svc.ActiveParcels("d1"); len(got) != 1 || got[0] != "p1" {
		t.Fatalf("unexpected active parcels %v", got)
	}
}

func TestTrackingService_Accept_Duplicate(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)

	_, err := f.svc.Accept(context.Background(), ports.AcceptInput{ParcelID: "p1", DriverID: "d2"})
	if !errors.Is(err, domain.ErrParcelExists) {
		t.Fatalf("expected ErrParcelExists, got %v", err)
	}
}

func TestTrackingService_Accept_AlreadyArchived(t *testing.T) {
	f := newTrackingFixture()
	f.archive.saved["p1"] = &domain.ParcelTracking{ParcelID: "p1", Status: domain.StatusDelivered}

	_, err := f.svc.Accept(context.Background(), ports.AcceptInput{ParcelID: "p1", DriverID: "d1"})
	if !errors.Is(err, domain.ErrParcelExists) {
		t.Fatalf("expected ErrParcelExists, got %v", err)
	}
}

func TestTrackingService_Accept_BadDestination(t *testing.T) {
	f := newTrackingFixture()
	_, err := f.svc.Accept(context.Background(), ports.AcceptInput{
		ParcelID: "p1", DriverID: "d1",
		Destination: &domain.Location{Latitude: 100, Longitude: 0, Timestamp: serverNow},
	})
	if !errors.Is(err, domain.ErrInvalidSample) {
		t.Fatalf("expected ErrInvalidSample, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Transition
// ---------------------------------------------------------------------------

func TestTrackingService_Transition_FullLifecycle(t *testing.T) {
	f := newTrackingFixture()
	f.bc.subs["p1"] = 1
	f.accept(t, "p1", "d1", nil)

	seen := []domain.ParcelStatus{domain.StatusAccepted}
	for _, st := range []domain.ParcelStatus{domain.StatusPickedUp, domain.StatusInTransit, domain.StatusDelivered} {
		snap, err := f.transition("p1", st)
		if err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
		seen = append(seen, snap.Status)
	}

	for i := 1; i < len(seen); i++ {
		if seen[i].Rank() != seen[i-1].Rank()+1 {
			t.Fatalf("status sequence not monotonic: %v", seen)
		}
	}
	if len(f.audit.changes) != 4 {
		t.Fatalf("expected 4 audit entries, got %d", len(f.audit.changes))
	}
	last := f.audit.changes[3]
	if last.From != domain.StatusInTransit || last.To != domain.StatusDelivered {
		t.Fatalf("unexpected last change %+v", last)
	}
	// Still subscribed: must not be archived.
	if len(f.archive.saved) != 0 {
		t.Fatalf("parcel with subscribers must stay in memory")
	}
}

func TestTrackingService_Transition_PickedUpAfterDelivered(t *testing.T) {
	f := newTrackingFixture()
	f.bc.subs["p1"] = 1
	f.accept(t, "p1", "d1", nil)
	for _, st := range []domain.ParcelStatus{domain.StatusPickedUp, domain.StatusInTransit, domain.StatusDelivered} {
		if _, err := f.transition("p1", st); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	before, _ := f.svc.GetTracking(context.Background(), "p1")
	publishedBefore := len(f.bc.events)

	_, err := f.transition("p1", domain.StatusPickedUp)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	after, _ := f.svc.GetTracking(context.Background(), "p1")
	if after.Version != before.Version || after.Status != domain.StatusDelivered {
		t.Fatalf("state mutated by rejected transition")
	}
	if len(f.bc.events) != publishedBefore {
		t.Fatalf("rejected transition must not publish")
	}
}

func TestTrackingService_Transition_RepeatAndSkip(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)

	if _, err := f.transition("p1", domain.StatusAccepted); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("repeat: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.transition("p1", domain.StatusDelivered); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("skip: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.transition("p1", "teleported"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("unknown: expected ErrInvalidTransition, got %v", err)
	}
}

func TestTrackingService_Transition_Forbidden(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)

	cases := []ports.TransitionInput{
		{ParcelID: "p1", Status: domain.StatusPickedUp, ActorID: "d2", ActorRole: domain.RoleDriver},
		{ParcelID: "p1", Status: domain.StatusPickedUp, ActorID: "d1", ActorRole: domain.RoleSender},
	}
	for _, in := range cases {
		if _, err := f.svc.Transition(context.Background(), in); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("%s/%s: expected ErrForbidden, got %v", in.ActorRole, in.ActorID, err)
		}
	}

	admin := ports.TransitionInput{ParcelID: "p1", Status: domain.StatusPickedUp, ActorID: "ops", ActorRole: domain.RoleAdmin}
	if _, err := f.svc.Transition(context.Background(), admin); err != nil {
		t.Fatalf("admin transition: %v", err)
	}
}

func TestTrackingService_Transition_NotFound(t *testing.T) {
	f := newTrackingFixture()
	if _, err := f.transition("nope", domain.StatusPickedUp); !errors.Is(err, domain.ErrParcelNotFound) {
		t.Fatalf("expected ErrParcelNotFound, got %v", err)
	}
}

func TestTrackingService_Transition_DownstreamFailuresNonFatal(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)
	f.audit.insertErr = errors.New("mongo down")
	f.publisher.err = errors.New("kafka down")

	snap, err := f.transition("p1", domain.StatusPickedUp)
	if err != nil {
		t.Fatalf("expected transition to succeed, got %v", err)
	}
	if snap.Status != domain.StatusPickedUp {
		t.Fatalf("status not applied")
	}
}

func TestTrackingService_Transition_UsesCurrentLocation(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)
	sample := domain.DriverLocation{DriverID: "d1", Location: domain.Location{Latitude: 19.07, Longitude: 72.87, Timestamp: serverNow}}
	if err := f.svc.RecordLocation(context.Background(), []string{"p1"}, sample); err != nil {
		t.Fatalf("record: %v", err)
	}

	snap, err := f.transition("p1", domain.StatusPickedUp)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	m := snap.Milestones[1]
	if m.Location == nil || m.Location.Latitude != 19.07 {
		t.Fatalf("expected milestone at current location, got %+v", m.Location)
	}
}

// ---------------------------------------------------------------------------
// Archive
// ---------------------------------------------------------------------------

func TestTrackingService_DeliveredWithoutSubscribersIsArchived(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)
	for _, st := range []domain.ParcelStatus{domain.StatusPickedUp, domain.StatusInTransit, domain.StatusDelivered} {
		if _, err := f.transition("p1", st); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}

	if _, ok := f.archive.saved["p1"]; !ok {
		t.Fatalf("expected parcel archived")
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected parcel evicted from memory")
	}

	snap, err := f.svc.GetTracking(context.Background(), "p1")
	if err != nil || snap.Status != domain.StatusDelivered {
		t.Fatalf("expected archived snapshot, got %v %+v", err, snap)
	}
}

func TestTrackingService_ArchiveIfIdle(t *testing.T) {
	f := newTrackingFixture()
	f.bc.subs["p1"] = 1
	f.accept(t, "p1", "d1", nil)

	if ok, _ := f.svc.ArchiveIfIdle(context.Background(), "p1"); ok {
		t.Fatalf("active parcel must not be archived")
	}
	for _, st := range []domain.ParcelStatus{domain.StatusPickedUp, domain.StatusInTransit, domain.StatusDelivered} {
		_, _ = f.transition("p1", st)
	}
	if ok, _ := f.svc.ArchiveIfIdle(context.Background(), "p1"); ok {
		t.Fatalf("parcel with subscribers must not be archived")
	}

	f.bc.subs["p1"] = 0
	f.archive.saveErr = errors.New("mongo down")
	if ok, err := f.svc.ArchiveIfIdle(context.Background(), "p1"); ok || err == nil {
		t.Fatalf("expected archive failure to keep the record")
	}
	if f.store.Len() != 1 {
		t.Fatalf("record evicted despite failed archive")
	}

	f.archive.saveErr = nil
	if ok, err := f.svc.ArchiveIfIdle(context.Background(), "p1"); !ok || err != nil {
		t.Fatalf("expected archive, got %v %v", ok, err)
	}
	if ok, err := f.svc.ArchiveIfIdle(context.Background(), "p1"); ok || err != nil {
		t.Fatalf("second archive should be a no-op, got %v %v", ok, err)
	}
}

func TestTrackingService_GetTracking_Missing(t *testing.T) {
	f := newTrackingFixture()
	if _, err := f.svc.GetTracking(context.Background(), "missing-id"); !errors.Is(err, domain.ErrParcelNotFound) {
		t.Fatalf("expected ErrParcelNotFound, got %v", err)
	}
}

func TestTrackingService_GetTracking_ArchiveError(t *testing.T) {
	f := newTrackingFixture()
	f.archive.findErr = errors.New("mongo down")
	_, err := f.svc.GetTracking(context.Background(), "p1")
	if err == nil || errors.Is(err, domain.ErrParcelNotFound) {
		t.Fatalf("expected wrapped archive error, got %v", err)
	}
}

func TestTrackingService_History(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)
	_, _ = f.transition("p1", domain.StatusPickedUp)

	changes, err := f.svc.History(context.Background(), "p1")
	if err != nil || len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d (%v)", len(changes), err)
	}
	if _, err := f.svc.History(context.Background(), "missing-id"); !errors.Is(err, domain.ErrParcelNotFound) {
		t.Fatalf("expected ErrParcelNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// RecordLocation and ETA
// ---------------------------------------------------------------------------

func TestTrackingService_RecordLocation_FansOutPerParcel(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)
	f.accept(t, "p2", "d1", nil)

	sample := domain.DriverLocation{DriverID: "d1", Location: domain.Location{Latitude: 19.07, Longitude: 72.87, Timestamp: serverNow}}
	if err := f.svc.RecordLocation(context.Background(), []string{"p1", "p2"}, sample); err != nil {
		t.Fatalf("record: %v", err)
	}

	evs := f.bc.ofType(domain.EventDriverLocation)
	if len(evs) != 2 {
		t.Fatalf("expected 2 location events, got %d", len(evs))
	}
	for _, ev := range evs {
		if ev.DriverLocation.ParcelID != ev.ParcelID {
			t.Fatalf("event payload parcel %q does not match %q", ev.DriverLocation.ParcelID, ev.ParcelID)
		}
	}
	if len(f.mirror.mirrored) != 1 {
		t.Fatalf("expected one mirrored sample, got %d", len(f.mirror.mirrored))
	}
}

func TestTrackingService_RecordLocation_PartialFailure(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)

	sample := domain.DriverLocation{DriverID: "d1", Location: domain.Location{Latitude: 19.07, Longitude: 72.87, Timestamp: serverNow}}
	err := f.svc.RecordLocation(context.Background(), []string{"p1", "gone"}, sample)
	if !errors.Is(err, domain.ErrParcelNotFound) {
		t.Fatalf("expected joined not-found error, got %v", err)
	}
	snap, _ := f.svc.GetTracking(context.Background(), "p1")
	if snap.CurrentLocation == nil {
		t.Fatalf("healthy parcel should still be updated")
	}
}

func TestTrackingService_RecordLocation_MirrorFailureNonFatal(t *testing.T) {
	f := newTrackingFixture()
	f.accept(t, "p1", "d1", nil)
	f.mirror.err = errors.New("amqp closed")

	sample := domain.DriverLocation{DriverID: "d1", Location: domain.Location{Latitude: 19.07, Longitude: 72.87, Timestamp: serverNow}}
	if err := f.svc.RecordLocation(context.Background(), []string{"p1"}, sample); err != nil {
		t.Fatalf("mirror failure must not fail the write: %v", err)
	}
}

func TestTrackingService_ETA(t *testing.T) {
	f := newTrackingFixture()
	dest := &domain.Location{Latitude: 19.054, Longitude: 72.8, Timestamp: serverNow}
	f.accept(t, "p1", "d1", dest)

	at := func(i int, speed float64) domain.DriverLocation {
		return domain.DriverLocation{
			DriverID: "d1",
			Location: domain.Location{Latitude: 19.0, Longitude: 72.8, Timestamp: serverNow.Add(time.Duration(i) * time.Second)},
			Speed:    domain.Float64(speed),
		}
	}

	// ~6km at 10 m/s -> ~10 minutes.
	_ = f.svc.RecordLocation(context.Background(), []string{"p1"}, at(0, 10))
	etas := f.bc.ofType(domain.EventETAUpdate)
	if len(etas) != 1 {
		t.Fatalf("expected initial eta, got %d", len(etas))
	}
	first := etas[0].ETA
	if d := first.ETA.Sub(serverNow); d < 9*time.Minute || d > 11*time.Minute {
		t.Fatalf("unexpected eta offset %s", d)
	}
	if first.Delay != nil {
		t.Fatalf("initial eta carries no delay")
	}

	// Same speed: estimate unchanged, nothing republished.
	_ = f.svc.RecordLocation(context.Background(), []string{"p1"}, at(1, 10))
	if n := len(f.bc.ofType(domain.EventETAUpdate)); n != 1 {
		t.Fatalf("expected no new eta, got %d", n)
	}

	// Slowdown: smoothed speed 7.6 m/s -> ~13 minutes, about 3 minutes late.
	_ = f.svc.RecordLocation(context.Background(), []string{"p1"}, at(2, 2))
	etas = f.bc.ofType(domain.EventETAUpdate)
	if len(etas) != 2 {
		t.Fatalf("expected revised eta, got %d", len(etas))
	}
	late := etas[1].ETA
	if late.Delay == nil || *late.Delay != 3 {
		t.Fatalf("expected 3 minute delay, got %v", late.Delay)
	}

	snap, _ := f.svc.GetTracking(context.Background(), "p1")
	if snap.EstimatedArrival == nil || !snap.EstimatedArrival.Equal(late.ETA) {
		t.Fatalf("snapshot eta not updated")
	}
}

func TestTrackingService_ETA_IgnoresSuspectSpeed(t *testing.T) {
	f := newTrackingFixture()
	dest := &domain.Location{Latitude: 19.054, Longitude: 72.8, Timestamp: serverNow}
	f.accept(t, "p1", "d1", dest)

	sample := domain.DriverLocation{
		DriverID: "d1",
		Location: domain.Location{Latitude: 19.0, Longitude: 72.8, Timestamp: serverNow, Suspect: true},
		Speed:    domain.Float64(60),
	}
	_ = f.svc.RecordLocation(context.Background(), []string{"p1"}, sample)

	if n := len(f.bc.ofType(domain.EventETAUpdate)); n != 0 {
		t.Fatalf("suspect speed must not seed the estimate, got %d updates", n)
	}
}
