package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/ports"
	"github.com/99minutos/tracking-relay/internal/relay"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsMaxFrameBytes  = 8 << 10
	wsInboundBacklog = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers authenticate with a bearer token, not cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler serves the bidirectional tracking event channel.
//
// Each connection runs three loops: a read pump decoding frames into a typed
// inbound channel, the handler goroutine processing that channel in order,
// and a write pump draining the connection's relay queue.
type WSHandler struct {
	relay    *relay.Router
	tracking ports.TrackingService
	ingest   ports.IngestService
	queue    Submitter
	log      zerolog.Logger
}

func NewWSHandler(r *relay.Router, tracking ports.TrackingService, ingest ports.IngestService, queue Submitter, log zerolog.Logger) *WSHandler {
	return &WSHandler{relay: r, tracking: tracking, ingest: ingest, queue: queue, log: log}
}

// Serve handles GET /v1/ws.
//
// @Summary      Open the tracking event channel
// @Description  Upgrades to a WebSocket carrying JSON frames {type, parcelId, data, error}. The token may be passed as the "token" query parameter.
// @Tags         realtime
// @Security     BearerAuth
// @Param        token  query  string  false  "JWT when the Authorization header cannot be set"
// @Success      101
// @Failure      401    {object}  map[string]string
// @Router       /v1/ws [get]
func (h *WSHandler) Serve(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already replied to the client.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	defer ws.Close()

	connID := uuid.NewString()
	sub, err := h.relay.Connect(connID)
	if err != nil {
		h.log.Error().Err(err).Str("conn_id", connID).Msg("relay connect failed")
		return nil
	}

	log := h.log.With().Str("conn_id", connID).Str("user_id", id.ID).Str("role", id.Role).Logger()
	log.Info().Msg("websocket connected")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	inbound := make(chan domain.Event, wsInboundBacklog)
	writerDone := make(chan struct{})

	go h.readPump(ctx, cancel, ws, connID, inbound)
	go func() {
		defer close(writerDone)
		h.writePump(ctx, cancel, ws, sub, log)
	}()

	for ev := range inbound {
		h.handle(ctx, id, connID, ev, log)
	}

	h.relay.Disconnect(connID)
	<-writerDone
	if id.Role == domain.RoleDriver {
		h.ingest.EndSession(id.ID)
	}
	log.Info().Uint64("dropped", sub.Dropped()).Msg("websocket disconnected")
	return nil
}

// readPump decodes frames until the socket fails. It owns inbound and closes it.
func (h *WSHandler) readPump(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, connID string, inbound chan<- domain.Event) {
	defer close(inbound)
	defer cancel()

	ws.SetReadLimit(wsMaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ev, err := domain.DecodeEvent(raw)
		if err != nil {
			h.sendError(connID, "", err.Error())
			continue
		}
		select {
		case inbound <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// writePump is the only writer on ws. It exits when the relay closes the
// queue, the context ends, or a write fails.
func (h *WSHandler) writePump(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, sub *relay.Subscriber, log zerolog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		// Unblocks the read pump.
		_ = ws.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteWait))
				return
			}
			frame, err := domain.EncodeEvent(ev)
			if err != nil {
				log.Error().Err(err).Str("type", string(ev.Type)).Msg("encode event failed")
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHandler) handle(ctx context.Context, id identity, connID string, ev domain.Event, log zerolog.Logger) {
	switch ev.Type {
	case domain.EventSubscribeParcel:
		if _, err := h.tracking.GetTracking(ctx, ev.ParcelID); err != nil {
			h.sendError(connID, ev.ParcelID, wsErrorMessage(err))
			return
		}
		if err := h.relay.Subscribe(connID, ev.ParcelID); err != nil {
			log.Debug().Err(err).Str("parcel_id", ev.ParcelID).Msg("subscribe failed")
		}

	case domain.EventUnsubscribeParcel:
		if err := h.relay.Unsubscribe(connID, ev.ParcelID); err != nil {
			log.Debug().Err(err).Str("parcel_id", ev.ParcelID).Msg("unsubscribe failed")
		}

	case domain.EventDriverLocation:
		if id.Role != domain.RoleDriver {
			h.sendError(connID, ev.ParcelID, "only drivers may report locations")
			return
		}
		sample := *ev.DriverLocation
		// The socket identity wins over whatever the device claims.
		sample.DriverID = id.ID
		if sample.ParcelID == "" {
			sample.ParcelID = ev.ParcelID
		}
		if _, err := h.queue.Submit(ctx, sample); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			h.sendError(connID, sample.ParcelID, wsErrorMessage(err))
		}

	default:
		h.sendError(connID, ev.ParcelID, "unsupported event type "+string(ev.Type))
	}
}

func (h *WSHandler) sendError(connID, parcelID, msg string) {
	_ = h.relay.Send(connID, domain.Event{Type: domain.EventError, ParcelID: parcelID, Error: msg})
}

// wsErrorMessage renders err for an error frame without leaking internals.
func wsErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrParcelNotFound):
		return "parcel not found"
	case errors.Is(err, domain.ErrForbidden):
		return "access forbidden"
	case errors.Is(err, domain.ErrInvalidSample), errors.Is(err, domain.ErrInvalidTransition):
		return err.Error()
	default:
		return "internal error"
	}
}
