// Package trackingclient is a Go client for the tracking relay event channel.
//
// The client keeps a WebSocket open, reconnecting with exponential backoff.
// After every (re)connect it re-subscribes to the parcels it follows and
// fetches a fresh snapshot of each over HTTP, because events missed while
// disconnected are never replayed by the server.
package trackingclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-relay/internal/core/domain"
)

// ConnState is the connectivity indicator.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

var ErrNotConnected = errors.New("tracking client not connected")

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
	writeWait         = 10 * time.Second
	// The relay pings every 30s.
	defaultReadTimeout = 60 * time.Second
	eventBuffer        = 256
)

// Config configures a Client.
type Config struct {
	// BaseURL is the relay's HTTP base, e.g. http://localhost:8080.
	BaseURL    string
	Token      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// ReadTimeout bounds the silence tolerated from the relay, pings
	// included, before the connection is treated as lost.
	ReadTimeout time.Duration
	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
	Log         zerolog.Logger
}

// Client maintains one event channel connection.
type Client struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ConnState
	parcels map[string]struct{}

	// writeMu serializes socket writes; gorilla allows a single writer.
	writeMu sync.Mutex

	events chan domain.Event
	states chan ConnState
	done   chan struct{}
}

// New returns a disconnected Client. Call Run to connect.
func New(cfg Config) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:     cfg,
		state:   StateDisconnected,
		parcels: make(map[string]struct{}),
		events:  make(chan domain.Event, eventBuffer),
		states:  make(chan ConnState, 8),
		done:    make(chan struct{}),
	}
}

// Events yields inbound events, including snapshot resyncs rendered as
// parcel-tracking-update events.
func (c *Client) Events() <-chan domain.Event { return c.events }

// States yields connectivity changes. Changes are dropped if nobody reads.
func (c *Client) States() <-chan ConnState { return c.states }

// State returns the current connectivity state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once Run has returned.
func (c *Client) Done() <-chan struct{} { return c.done }

// Run connects and keeps the connection alive until ctx ends. It must be
// called at most once.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	backoff := c.cfg.MinBackoff
	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err == nil {
			backoff = c.cfg.MinBackoff
			c.serve(ctx, conn)
		} else {
			c.cfg.Log.Warn().Err(err).Dur("retry_in", backoff).Msg("tracking connect failed")
		}
		c.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if err != nil {
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}
	}
}

// Subscribe follows parcelID. The subscription survives reconnects.
func (c *Client) Subscribe(ctx context.Context, parcelID string) error {
	// Registering and reading conn under one lock means either this call or
	// the next connect sends the subscribe frame, never both.
	c.mu.Lock()
	c.parcels[parcelID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := c.write(conn, domain.Event{Type: domain.EventSubscribeParcel, ParcelID: parcelID}); err != nil {
		return err
	}
	return c.resync(ctx, parcelID)
}

// Unsubscribe stops following parcelID.
func (c *Client) Unsubscribe(parcelID string) error {
	c.mu.Lock()
	delete(c.parcels, parcelID)
	c.mu.Unlock()

	err := c.send(domain.Event{Type: domain.EventUnsubscribeParcel, ParcelID: parcelID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// SendLocation reports a driver sample over the event channel.
func (c *Client) SendLocation(loc domain.DriverLocation) error {
	return c.send(domain.Event{Type: domain.EventDriverLocation, ParcelID: loc.ParcelID, DriverLocation: &loc})
}

// Subscriptions lists the followed parcels.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.parcels))
	for id := range c.parcels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot fetches the current tracking record of a parcel over HTTP.
func (c *Client) Snapshot(ctx context.Context, parcelID string) (*domain.ParcelTracking, error) {
	endpoint := c.cfg.BaseURL + "/v1/parcels/" + url.PathEscape(parcelID) + "/tracking"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", parcelID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, domain.ErrParcelNotFound
	default:
		return nil, fmt.Errorf("snapshot %s: unexpected status %d", parcelID, resp.StatusCode)
	}

	var t domain.ParcelTracking
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", parcelID, err)
	}
	return &t, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.BaseURL + "/v1/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return conn, nil
}

// serve owns conn until it fails or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	pending := make([]string, 0, len(c.parcels))
	for id := range c.parcels {
		pending = append(pending, id)
	}
	c.mu.Unlock()
	sort.Strings(pending)
	c.setState(StateConnected)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.writeMu.Unlock()
			_ = conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		close(stop)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	// Resubscribe and resync. Reads run concurrently so the server's
	// queue keeps draining while snapshots are fetched.
	go func() {
		for _, id := range pending {
			if err := c.write(conn, domain.Event{Type: domain.EventSubscribeParcel, ParcelID: id}); err != nil {
				return
			}
			if err := c.resync(ctx, id); err != nil {
				c.cfg.Log.Warn().Err(err).Str("parcel_id", id).Msg("snapshot resync failed")
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.cfg.Log.Warn().Err(err).Msg("tracking connection lost")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		ev, err := domain.DecodeEvent(raw)
		if err != nil {
			c.cfg.Log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}
		if !c.deliver(ctx, ev) {
			return
		}
	}
}

func (c *Client) resync(ctx context.Context, parcelID string) error {
	snap, err := c.Snapshot(ctx, parcelID)
	if err != nil {
		return err
	}
	c.deliver(ctx, domain.Event{Type: domain.EventParcelTracking, ParcelID: parcelID, Tracking: snap})
	return nil
}

func (c *Client) deliver(ctx context.Context, ev domain.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Client) send(ev domain.Event) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, ev)
}

func (c *Client) write(conn *websocket.Conn, ev domain.Event) error {
	frame, err := domain.EncodeEvent(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if !changed {
		return
	}
	select {
	case c.states <- s:
	default:
	}
}
