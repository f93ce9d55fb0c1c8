// Package ws streams incident lifecycle and anomaly events to WebSocket
// clients. The hub fans bus events out to every connected client; a slow
// client loses messages, never the pipeline.
package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/cwccie/netopshub/internal/correlate"
	"github.com/cwccie/netopshub/internal/ingest"
	"github.com/cwccie/netopshub/internal/orchestrate"
	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/plugin"
	"github.com/cwccie/netopshub/pkg/telemetry"
	"go.uber.org/zap"
)

// Handler provides the WebSocket endpoint for live pipeline updates.
type Handler struct {
	hub    *Hub
	bus    plugin.EventBus
	logger *zap.Logger
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to pipeline events.
func NewHandler(bus plugin.EventBus, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:    NewHub(logger),
		bus:    bus,
		logger: logger,
	}
	h.subscribeToEvents()
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEventStream)
}

// handleEventStream upgrades the connection and streams pipeline events
// until the client disconnects.
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		remote: r.RemoteAddr,
		send:   make(chan Message, 256),
		logger: h.logger,
	}

	h.hub.Register(client)

	// Run read and write pumps. When either exits, clean up.
	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until client disconnects.
	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// subscribeToEvents forwards detection, correlation, and orchestration
// events to all connected clients.
func (h *Handler) subscribeToEvents() {
	if h.bus == nil {
		return
	}

	h.bus.Subscribe(ingest.TopicSignalDetected, func(_ context.Context, event plugin.Event) {
		sig, ok := event.Payload.(telemetry.AnomalySignal)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageSignalDetected,
			Timestamp: event.Timestamp,
			Data:      SignalData{Signal: sig},
		})
	})

	h.bus.Subscribe(correlate.TopicIncidentOpened, func(_ context.Context, event plugin.Event) {
		h.broadcastIncident(MessageIncidentOpened, event)
	})

	h.bus.Subscribe(correlate.TopicIncidentSuppressed, func(_ context.Context, event plugin.Event) {
		h.broadcastIncident(MessageIncidentSuppressed, event)
	})

	h.bus.Subscribe(correlate.TopicIncidentTransitioned, func(_ context.Context, event plugin.Event) {
		tr, ok := event.Payload.(correlate.TransitionEvent)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:       MessageIncidentTransition,
			IncidentID: tr.IncidentID,
			Timestamp:  event.Timestamp,
			Data:       TransitionData{From: tr.From, To: tr.To, Note: tr.Note},
		})
	})

	h.bus.Subscribe(orchestrate.TopicRunAdvanced, func(_ context.Context, event plugin.Event) {
		h.broadcastRun(MessageRunAdvanced, event)
	})

	h.bus.Subscribe(orchestrate.TopicRunFinished, func(_ context.Context, event plugin.Event) {
		h.broadcastRun(MessageRunFinished, event)
	})

	h.logger.Info("subscribed to pipeline events for WebSocket broadcasting")
}

func (h *Handler) broadcastIncident(typ MessageType, event plugin.Event) {
	inc, ok := event.Payload.(incident.CandidateIncident)
	if !ok {
		return
	}
	h.hub.Broadcast(Message{
		Type:       typ,
		IncidentID: inc.ID,
		Timestamp:  event.Timestamp,
		Data: IncidentData{
			State:     inc.State,
			DeviceIDs: inc.DeviceIDs,
			Systemic:  inc.Systemic,
			Signals:   len(inc.Signals),
		},
	})
}

func (h *Handler) broadcastRun(typ MessageType, event plugin.Event) {
	run, ok := event.Payload.(orchestrate.RunEvent)
	if !ok {
		return
	}
	h.hub.Broadcast(Message{
		Type:       typ,
		IncidentID: run.IncidentID,
		Timestamp:  event.Timestamp,
		Data:       RunData{Stage: string(run.Stage), Loops: run.Loops},
	})
}
