// Package telemetry provides the normalized telemetry model shared by all
// collectors and the core pipeline. Collectors (SNMP poller, NetFlow
// receiver, syslog listener, vendor REST) map wire formats into these types
// before calling ingest; field-level mapping is the collector's job.
package telemetry

import "time"

// Well-known metric names. Collectors may emit arbitrary names; these cover
// the metric classes the reference detectors are tuned for.
const (
	MetricCPU           = "cpu"
	MetricMemory        = "memory"
	MetricBandwidthIn   = "bandwidth_in"
	MetricBandwidthOut  = "bandwidth_out"
	MetricErrorRate     = "error_rate"
	MetricCRCErrors     = "crc_errors"
	MetricDiscardRate   = "discard_rate"
	MetricLatency       = "latency"
	MetricPacketLoss    = "packet_loss"
	MetricTemperature   = "temperature"
	MetricBGPPrefixes   = "bgp_prefixes"
	MetricOSPFNeighbors = "ospf_neighbors"
)

// MetricSample is one numeric observation for a (device, metric) series.
type MetricSample struct {
	DeviceID  string            `json:"device_id"`
	Metric    string            `json:"metric"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Interface string            `json:"interface,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// LogEvent is a normalized log line (typically from syslog).
type LogEvent struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  int       `json:"severity"` // syslog severity 0-7
	Facility  int       `json:"facility,omitempty"`
	Program   string    `json:"program,omitempty"`
	Message   string    `json:"message"`
}

// FlowSummary is an aggregated flow record (NetFlow/IPFIX rollup).
type FlowSummary struct {
	DeviceID  string        `json:"device_id"`
	Timestamp time.Time     `json:"timestamp"`
	SrcAddr   string        `json:"src_addr"`
	DstAddr   string        `json:"dst_addr"`
	Protocol  int           `json:"protocol"`
	Bytes     int64         `json:"bytes"`
	Packets   int64         `json:"packets"`
	Duration  time.Duration `json:"duration"`
}

// Layer classifies which network layer a metric speaks for. Diagnosis uses
// this to rank lower-layer causes above higher-layer symptoms.
type Layer int

const (
	LayerUnknown  Layer = 0
	LayerPhysical Layer = 1 // interface errors, CRC, optics
	LayerNetwork  Layer = 2 // latency, loss, bandwidth
	LayerProtocol Layer = 3 // BGP/OSPF session state
	LayerSystem   Layer = 4 // CPU, memory, temperature
)

// MetricLayer maps a metric name onto its network layer.
func MetricLayer(metric string) Layer {
	switch metric {
	case MetricCRCErrors, MetricErrorRate, MetricDiscardRate:
		return LayerPhysical
	case MetricBandwidthIn, MetricBandwidthOut, MetricLatency, MetricPacketLoss:
		return LayerNetwork
	case MetricBGPPrefixes, MetricOSPFNeighbors:
		return LayerProtocol
	case MetricCPU, MetricMemory, MetricTemperature:
		return LayerSystem
	default:
		return LayerUnknown
	}
}

// AnomalySignal is a per-metric anomaly produced by a detector. Signals are
// immutable once emitted.
type AnomalySignal struct {
	DeviceID   string       `json:"device_id"`
	Metric     string       `json:"metric"`
	Timestamp  time.Time    `json:"timestamp"`
	Severity   float64      `json:"severity"` // detector score, higher is worse
	DetectorID string       `json:"detector_id"`
	Value      float64      `json:"value"`
	Expected   float64      `json:"expected"`
	Window     WindowParams `json:"window"`
	Detail     string       `json:"detail,omitempty"`
}

// WindowParams records the rolling-window parameters a detector evaluated
// with, so a signal is reproducible from the same series window.
type WindowParams struct {
	Size      int           `json:"size"`
	Span      time.Duration `json:"span,omitempty"`
	Threshold float64       `json:"threshold,omitempty"`
}
