package orchestrate

const (
	// TopicRunAdvanced fires on every persisted stage change of a run.
	TopicRunAdvanced = "orchestrate.run.advanced"

	// TopicRunFinished fires once when a run reaches a terminal stage.
	TopicRunFinished = "orchestrate.run.finished"
)

// RunEvent is the payload published on TopicRunAdvanced and
// TopicRunFinished.
type RunEvent struct {
	IncidentID string `json:"incident_id"`
	Stage      Stage  `json:"stage"`
	Loops      int    `json:"loops"`
}
