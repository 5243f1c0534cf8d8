package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

// Metrics is the in-memory aggregate behind the JSON summary endpoint.
type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	probes        map[string]map[string]int64
	probeTimes    map[string][]time.Duration
	health        map[string]string
	sweeps        int64
	skipped       int64
	lastSweep     time.Duration
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	Uptime        time.Duration             `json:"uptime"`
	Sweeps        int64                     `json:"sweeps"`
	SkippedSweeps int64                     `json:"skipped_sweeps"`
	LastSweep     time.Duration             `json:"last_sweep"`
	Services      map[string]ServiceMetrics `json:"services"`
}

type ServiceMetrics struct {
	Status      string           `json:"status"`
	Requests    int64            `json:"requests"`
	Probes      map[string]int64 `json:"probes"`
	AvgProbe    time.Duration    `json:"avg_probe"`
	AvgResponse time.Duration    `json:"avg_response"`
	P50Response time.Duration    `json:"p50_response"`
	P95Response time.Duration    `json:"p95_response"`
	P99Response time.Duration    `json:"p99_response"`
	StatusCodes map[int]int64    `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		probes:        make(map[string]map[string]int64),
		probeTimes:    make(map[string][]time.Duration),
		health:        make(map[string]string),
		startTime:     time.Now(),
	}
}

// RecordForward records one gateway request to service.
func (m *Metrics) RecordForward(service string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests[service]++
	m.responseTimes[service] = appendSample(m.responseTimes[service], duration)

	if m.statusCodes[service] == nil {
		m.statusCodes[service] = make(map[int]int64)
	}
	m.statusCodes[service][statusCode]++
}

// RecordProbe records one probe outcome for service.
func (m *Metrics) RecordProbe(service, outcome string, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.probes[service] == nil {
		m.probes[service] = make(map[string]int64)
	}
	m.probes[service][outcome]++
	m.probeTimes[service] = appendSample(m.probeTimes[service], duration)
}

// UpdateHealthStatus stores the latest outcome for service.
func (m *Metrics) UpdateHealthStatus(service, outcome string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.health[service] = outcome
}

func (m *Metrics) RecordSweep(duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sweeps++
	m.lastSweep = duration
}

func (m *Metrics) RecordSkippedSweep() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.skipped++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:        time.Since(m.startTime),
		Sweeps:        m.sweeps,
		SkippedSweeps: m.skipped,
		LastSweep:     m.lastSweep,
		Services:      make(map[string]ServiceMetrics),
	}

	all := make(map[string]bool)
	for s := range m.requests {
		all[s] = true
	}
	for s := range m.probes {
		all[s] = true
	}
	for s := range m.health {
		all[s] = true
	}

	for service := range all {
		snap.TotalRequests += m.requests[service]

		sm := ServiceMetrics{
			Status:      m.health[service],
			Requests:    m.requests[service],
			Probes:      copyCounts(m.probes[service]),
			StatusCodes: copyCodes(m.statusCodes[service]),
			AvgProbe:    average(m.probeTimes[service]),
		}

		durations := m.responseTimes[service]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			sm.AvgResponse = average(sorted)
			sm.P50Response = percentile(sorted, 0.50)
			sm.P95Response = percentile(sorted, 0.95)
			sm.P99Response = percentile(sorted, 0.99)
		}

		snap.Services[service] = sm
	}

	return snap
}

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	samples = append(samples, d)
	if len(samples) > maxSamples {
		samples = samples[1:]
	}
	return samples
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyCodes(in map[int]int64) map[int]int64 {
	out := make(map[int]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
