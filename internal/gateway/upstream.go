package gateway

import (
	"net/url"
	"sync"
	"time"
)

const ewmaAlpha = 0.2

// Upstream tracks in-flight calls and response latency for one service.
type Upstream struct {
	name              string
	url               *url.URL
	mutex             sync.Mutex
	activeConnections int
	ewmaResponseTime  time.Duration
	hasEWMA           bool
	requests          int64
	failures          int64
}

// UpstreamStats is a point-in-time copy of an Upstream's counters.
type UpstreamStats struct {
	Service           string        `json:"service"`
	URL               string        `json:"url"`
	ActiveConnections int           `json:"active_connections"`
	EWMAResponseTime  time.Duration `json:"ewma_response_time"`
	Requests          int64         `json:"requests"`
	Failures          int64         `json:"failures"`
	Breaker           string        `json:"breaker,omitempty"`
}

func newUpstream(name string, u *url.URL) *Upstream {
	return &Upstream{name: name, url: u}
}

func (u *Upstream) acquire() {
	u.mutex.Lock()
	u.activeConnections++
	u.requests++
	u.mutex.Unlock()
}

func (u *Upstream) release() {
	u.mutex.Lock()
	if u.activeConnections > 0 {
		u.activeConnections--
	}
	u.mutex.Unlock()
}

func (u *Upstream) recordFailure() {
	u.mutex.Lock()
	u.failures++
	u.mutex.Unlock()
}

// recordResponse folds duration into the moving average:
// ewma = (1 - α) * ewma + α * latest
func (u *Upstream) recordResponse(duration time.Duration) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.hasEWMA {
		u.ewmaResponseTime = duration
		u.hasEWMA = true
		return
	}
	u.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(u.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

func (u *Upstream) stats() UpstreamStats {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	return UpstreamStats{
		Service:           u.name,
		URL:               u.url.String(),
		ActiveConnections: u.activeConnections,
		EWMAResponseTime:  u.ewmaResponseTime,
		Requests:          u.requests,
		Failures:          u.failures,
	}
}
