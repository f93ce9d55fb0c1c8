package ingest

// Event topics published by the ingest module.
const (
	TopicSignalDetected = "ingest.signal.detected"
	TopicSampleRejected = "ingest.sample.rejected"
)
