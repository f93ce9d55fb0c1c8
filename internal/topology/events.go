package topology

// Event topics published by the topology module.
const (
	TopicDeviceUpserted       = "topology.device.upserted"
	TopicDeviceDecommissioned = "topology.device.decommissioned"
	TopicEdgeUpserted         = "topology.edge.upserted"
	TopicEdgeStale            = "topology.edge.stale"
)
