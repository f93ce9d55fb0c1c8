package correlate

// Event topics published by the correlate module.
const (
	// TopicIncidentOpened carries an incident.CandidateIncident payload.
	TopicIncidentOpened = "correlate.incident.opened"

	// TopicIncidentSuppressed carries an incident closed unconfirmed by an
	// active maintenance window.
	TopicIncidentSuppressed = "correlate.incident.suppressed"

	// TopicIncidentTransitioned carries a TransitionEvent payload.
	TopicIncidentTransitioned = "correlate.incident.transitioned"
)

// TransitionEvent is the payload for TopicIncidentTransitioned.
type TransitionEvent struct {
	IncidentID string `json:"incident_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Note       string `json:"note,omitempty"`
}
