package ws

import (
	"time"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/telemetry"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageSignalDetected     MessageType = "signal.detected"
	MessageIncidentOpened     MessageType = "incident.opened"
	MessageIncidentSuppressed MessageType = "incident.suppressed"
	MessageIncidentTransition MessageType = "incident.transitioned"
	MessageRunAdvanced        MessageType = "run.advanced"
	MessageRunFinished        MessageType = "run.finished"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type       MessageType `json:"type"`
	IncidentID string      `json:"incident_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
}

// SignalData is the payload for signal.detected messages.
type SignalData struct {
	Signal telemetry.AnomalySignal `json:"signal"`
}

// IncidentData is the payload for incident.opened and incident.suppressed
// messages.
type IncidentData struct {
	State     incident.State `json:"state"`
	DeviceIDs []string       `json:"device_ids"`
	Systemic  bool           `json:"systemic"`
	Signals   int            `json:"signals"`
}

// TransitionData is the payload for incident.transitioned messages.
type TransitionData struct {
	From string `json:"from"`
	To   string `json:"to"`
	Note string `json:"note,omitempty"`
}

// RunData is the payload for run.advanced and run.finished messages.
type RunData struct {
	Stage string `json:"stage"`
	Loops int    `json:"loops"`
}
