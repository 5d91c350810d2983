// Package ingest turns Prometheus remote-write data into matrices to fit on.
package ingest

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/logging"
)

type Observation struct {
	MetricFingerprint uint64
	MetricName        string
	Value             float64
	Timestamp         time.Time
}

type TsId struct {
	MetricFingerprint uint64 `json:"fingerprint"`
	MetricName        string `json:"metric"`
}

// An Accumulator keeps the most recent window samples of every timeseries
// it has seen. Every timeseries is one row; the row ids are stable for the
// lifetime of the accumulator.
type Accumulator struct {
	window         int
	sampleInterval time.Duration

	Preprocessing Preprocessing

	mu sync.Mutex

	// rowmap maps the timeseries fingerprints to row ids
	rowmap map[uint64]int

	// The ids of the timeseries, in row order.
	// invariant: rowmap[Tsids[i].MetricFingerprint] == i
	Tsids []TsId

	buffers [][]float64
	lastTs  []time.Time
}

func NewAccumulator(window int, sampleInterval time.Duration) *Accumulator {
	if sampleInterval <= 0 {
		sampleInterval = 20 * time.Second
	}
	return &Accumulator{
		window:         window,
		sampleInterval: sampleInterval,
		rowmap:         make(map[uint64]int),
		Tsids:          make([]TsId, 0, 1000),
		buffers:        make([][]float64, 0, 1000),
		lastTs:         make([]time.Time, 0, 1000),
	}
}

func (a *Accumulator) AddObservation(observation *Observation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rowid, ok := a.rowmap[observation.MetricFingerprint]
	if !ok {
		rowid = len(a.buffers)
		a.rowmap[observation.MetricFingerprint] = rowid
		a.Tsids = append(a.Tsids, TsId{
			MetricName:        observation.MetricName,
			MetricFingerprint: observation.MetricFingerprint,
		})
		a.buffers = append(a.buffers, make([]float64, 0, a.window))
		a.lastTs = append(a.lastTs, time.Time{})
	}

	value := observation.Value
	if math.IsNaN(value) {
		value = float64(0)
	}

	buffer := a.buffers[rowid]
	last := a.lastTs[rowid]
	if len(buffer) > 0 {
		if !observation.Timestamp.After(last) {
			// A backfill or a double message for the same slot, ignore it.
			return
		}
		// If samples are missing, repeat the last value for them.
		missing := int(observation.Timestamp.Sub(last)/a.sampleInterval) - 1
		if missing > a.window {
			missing = a.window
		}
		for i := 0; i < missing; i++ {
			buffer = append(buffer, buffer[len(buffer)-1])
		}
	}
	buffer = append(buffer, value)
	if len(buffer) > a.window {
		buffer = append(buffer[:0], buffer[len(buffer)-a.window:]...)
	}
	a.buffers[rowid] = buffer
	a.lastTs[rowid] = observation.Timestamp
}

// Len returns the number of timeseries seen so far.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// Snapshot copies the accumulated data into a distributed matrix with one
// row per timeseries and window columns. Rows that are not full yet are
// completed with their last value. The preprocessing is applied to the copy.
func (a *Accumulator) Snapshot(nParts int, dtype string) (*datatypes.DistributedMatrix, []TsId, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buffers) == 0 {
		return nil, nil, fmt.Errorf("no timeseries data has been received yet")
	}
	rows := make([][]float64, len(a.buffers))
	for i, b := range a.buffers {
		row := make([]float64, a.window)
		copy(row, b)
		for j := len(b); j < a.window; j++ {
			row[j] = b[len(b)-1]
		}
		row, err := a.Preprocessing.apply(row)
		if err != nil {
			return nil, nil, err
		}
		rows[i] = row
	}
	tsids := make([]TsId, len(a.Tsids))
	copy(tsids, a.Tsids)
	logging.Debugf("snapshot of %d timeseries with %d samples each\n", len(rows), a.window)
	m, err := datatypes.FromRows(rows, nParts, dtype)
	if err != nil {
		return nil, nil, err
	}
	return m, tsids, nil
}
