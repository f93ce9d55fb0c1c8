package ingest

import (
	"sync"

	"github.com/cwccie/netopshub/internal/detect"
	"github.com/cwccie/netopshub/pkg/telemetry"
)

// vectorAssembler aligns the configured metrics of one device into joint
// observations and scores them with the multivariate detector. Per-series
// detectors miss device states that are only unusual jointly; this path
// catches those.
type vectorAssembler struct {
	metrics  []string
	index    map[string]int
	detector *detect.Mahalanobis
	maxRows  int

	mu      sync.Mutex
	devices map[string]*deviceVectors
}

type deviceVectors struct {
	current []float64
	seen    []bool
	ready   bool
	rows    [][]float64
}

func newVectorAssembler(metrics []string, detector *detect.Mahalanobis, maxRows int) *vectorAssembler {
	index := make(map[string]int, len(metrics))
	for i, m := range metrics {
		index[m] = i
	}
	return &vectorAssembler{
		metrics:  metrics,
		index:    index,
		detector: detector,
		maxRows:  maxRows,
		devices:  make(map[string]*deviceVectors),
	}
}

// observe folds one sample into the device's joint vector. Until every
// configured metric has reported at least once the device only accumulates
// state; after that each observation appends a row and is scored. A raised
// signal carries the triggering sample's timestamp.
func (a *vectorAssembler) observe(s telemetry.MetricSample) (*telemetry.AnomalySignal, error) {
	j, ok := a.index[s.Metric]
	if !ok {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dv, ok := a.devices[s.DeviceID]
	if !ok {
		dv = &deviceVectors{
			current: make([]float64, len(a.metrics)),
			seen:    make([]bool, len(a.metrics)),
		}
		a.devices[s.DeviceID] = dv
	}
	dv.current[j] = s.Value
	if !dv.ready {
		dv.seen[j] = true
		for _, seen := range dv.seen {
			if !seen {
				return nil, nil
			}
		}
		dv.ready = true
	}

	dv.rows = append(dv.rows, append([]float64(nil), dv.current...))
	if len(dv.rows) > a.maxRows {
		dv.rows = dv.rows[len(dv.rows)-a.maxRows:]
	}

	sig, err := a.detector.EvaluateVector(detect.VectorWindow{
		DeviceID: s.DeviceID,
		Metrics:  a.metrics,
		Rows:     dv.rows,
	})
	if err != nil || sig == nil {
		return nil, err
	}
	sig.Timestamp = s.Timestamp
	return sig, nil
}
