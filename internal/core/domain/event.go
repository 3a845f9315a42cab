package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a message on the tracking event channel.
type EventType string

const (
	EventSubscribeParcel   EventType = "subscribe-parcel"
	EventUnsubscribeParcel EventType = "unsubscribe-parcel"
	EventDriverLocation    EventType = "driver-location-update"
	EventParcelTracking    EventType = "parcel-tracking-update"
	EventETAUpdate         EventType = "eta-update"
	EventError             EventType = "error"
)

// ETAUpdate announces a revised arrival estimate. Delay is in minutes and is
// only set when the estimate moved later.
type ETAUpdate struct {
	ParcelID   string    `json:"parcelId"`
	ETA        time.Time `json:"eta"`
	Delay      *int      `json:"delay,omitempty"`
	ComputedAt time.Time `json:"computedAt"`
}

// Event is a typed message flowing through the relay. Exactly one payload
// field is set, matching Type.
type Event struct {
	Type           EventType
	ParcelID       string
	DriverLocation *DriverLocation
	Tracking       *ParcelTracking
	ETA            *ETAUpdate
	Error          string
}

// envelope is the JSON frame exchanged over the socket.
type envelope struct {
	Type     EventType       `json:"type"`
	ParcelID string          `json:"parcelId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// EncodeEvent renders ev as a JSON frame.
func EncodeEvent(ev Event) ([]byte, error) {
	env := envelope{Type: ev.Type, ParcelID: ev.ParcelID, Error: ev.Error}

	var payload any
	switch ev.Type {
	case EventDriverLocation:
		payload = ev.DriverLocation
	case EventParcelTracking:
		payload = ev.Tracking
	case EventETAUpdate:
		payload = ev.ETA
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", ev.Type, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeEvent parses a JSON frame. Unknown types are rejected.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	ev := Event{Type: env.Type, ParcelID: env.ParcelID, Error: env.Error}

	switch env.Type {
	case EventSubscribeParcel, EventUnsubscribeParcel:
		if ev.ParcelID == "" {
			return Event{}, fmt.Errorf("decode %s: missing parcelId", env.Type)
		}
	case EventError:
	case EventDriverLocation:
		var dl DriverLocation
		if err := unmarshalData(env, &dl); err != nil {
			return Event{}, err
		}
		ev.DriverLocation = &dl
		if ev.ParcelID == "" {
			ev.ParcelID = dl.ParcelID
		}
	case EventParcelTracking:
		var pt ParcelTracking
		if err := unmarshalData(env, &pt); err != nil {
			return Event{}, err
		}
		ev.Tracking = &pt
		if ev.ParcelID == "" {
			ev.ParcelID = pt.ParcelID
		}
	case EventETAUpdate:
		var eta ETAUpdate
		if err := unmarshalData(env, &eta); err != nil {
			return Event{}, err
		}
		ev.ETA = &eta
		if ev.ParcelID == "" {
			ev.ParcelID = eta.ParcelID
		}
	default:
		return Event{}, fmt.Errorf("decode frame: unknown event type %q", env.Type)
	}
	return ev, nil
}

func unmarshalData(env envelope, into any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("decode %s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, into); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}

// StatusChange is the record emitted for every lifecycle transition. It is
// both the audit trail document and the outbound status message.
type StatusChange struct {
	ParcelID  string       `json:"parcelId" bson:"parcel_id"`
	DriverID  string       `json:"driverId" bson:"driver_id"`
	From      ParcelStatus `json:"from,omitempty" bson:"from,omitempty"`
	To        ParcelStatus `json:"to" bson:"to"`
	Actor     string       `json:"actor" bson:"actor"`
	Location  *Location    `json:"location,omitempty" bson:"location,omitempty"`
	Timestamp time.Time    `json:"timestamp" bson:"timestamp"`
}
