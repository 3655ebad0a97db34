// Package metrics implements the per-process counters and mint-buffer
// aggregator: a mutex-guarded in-memory store split across two mutexes to
// satisfy the deferred-flush pattern below.
package metrics

import (
	"sync"
	"time"

	"github.com/titan-auth/engine/internal/ports"
)

const (
	circuitClosed   = "CLOSED"
	circuitUnderLoad = "UNDER_LOAD"

	activeConnHighWater = 18000
	activeConnLowWater  = 5000
)

// mintBuffer coalesces RecordMint calls so the main mutex is taken at most
// once per MintFlushThreshold mints, not once per mint.
type mintBuffer struct {
	mu        sync.Mutex
	count     int64
	lastUser  string
	lastJTI   string
	threshold int64
}

// Aggregator is the concrete ports.Metrics implementation. The mint buffer
// mutex (mint.mu) and the main mutex (mu) are NEVER held at the same time:
// every method that touches both takes mint.mu, copies out what it needs,
// releases mint.mu, then takes mu. Holding both together is how the
// monolithic predecessor of this design deadlocked.
type Aggregator struct {
	mu sync.Mutex

	engineVersion   string
	engineStartTime time.Time
	circuitBreaker  string

	httpReqTotal int64
	httpReq2xx   int64
	httpReq4xx   int64
	httpReq5xx   int64
	activeConns  int64
	dropped      int64

	latSumMs float64
	latMinMs float64
	latMaxMs float64
	latSeen  bool

	tokensMinted    int64
	signatures      int64
	blockedAttempts int64
	lastUser        string
	lastJTI         string

	identitiesCreated int64
	challengesIssued  int64
	mintsSuccess      int64
	mintsFailed       int64

	mint mintBuffer
}

// New creates an Aggregator stamped with engineVersion and the current time
// as its start time. flushThreshold is MINT_FLUSH_THRESHOLD.
func New(engineVersion string, flushThreshold int) *Aggregator {
	return &Aggregator{
		engineVersion:   engineVersion,
		engineStartTime: time.Now().UTC(),
		circuitBreaker:  circuitClosed,
		mint:            mintBuffer{threshold: int64(flushThreshold)},
	}
}

// RecordHTTPRequest updates request totals, the matching status class, and
// the running latency sum/min/max/avg.
func (a *Aggregator) RecordHTTPRequest(statusClass string, latency time.Duration) {
	ms := float64(latency.Microseconds()) / 1000.0

	a.mu.Lock()
	defer a.mu.Unlock()

	a.httpReqTotal++
	switch statusClass {
	case "2xx":
		a.httpReq2xx++
	case "4xx":
		a.httpReq4xx++
	case "5xx":
		a.httpReq5xx++
	}

	a.latSumMs += ms
	if !a.latSeen {
		a.latMinMs, a.latMaxMs = ms, ms
		a.latSeen = true
	} else {
		if ms < a.latMinMs {
			a.latMinMs = ms
		}
		if ms > a.latMaxMs {
			a.latMaxMs = ms
		}
	}

	if a.activeConns < activeConnLowWater {
		a.circuitBreaker = circuitClosed
	}
}

// RecordMint increments the mint-coalescing buffer, flushing into the main
// counters once it reaches the configured threshold.
func (a *Aggregator) RecordMint(user, jti string) {
	a.mint.mu.Lock()
	a.mint.count++
	a.mint.lastUser = user
	a.mint.lastJTI = jti
	var flushCount int64
	var flushUser, flushJTI string
	if a.mint.count >= a.mint.threshold {
		flushCount, flushUser, flushJTI = a.mint.count, a.mint.lastUser, a.mint.lastJTI
		a.mint.count, a.mint.lastUser, a.mint.lastJTI = 0, "", ""
	}
	a.mint.mu.Unlock()

	if flushCount == 0 {
		return
	}
	a.applyMintFlush(flushCount, flushUser, flushJTI)
}

// applyMintFlush applies the buffered count to the shared token/signature
// counters only. mintsSuccess is a ZKP-path-only counter driven solely by
// RecordMintSuccessZKP — it must not also be bumped here, or a burst of
// direct (non-ZKP) mints would inflate it.
func (a *Aggregator) applyMintFlush(count int64, user, jti string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokensMinted += count
	a.signatures += count
	if user != "" {
		a.lastUser = user
	}
	if jti != "" {
		a.lastJTI = jti
	}
}

// flushMint drains the mint buffer (if non-empty) and applies it to the
// main counters — used by Snapshot, which must see an up-to-date picture.
func (a *Aggregator) flushMint() {
	a.mint.mu.Lock()
	count, user, jti := a.mint.count, a.mint.lastUser, a.mint.lastJTI
	a.mint.count, a.mint.lastUser, a.mint.lastJTI = 0, "", ""
	a.mint.mu.Unlock()

	if count == 0 {
		return
	}
	a.applyMintFlush(count, user, jti)
}

// RecordMintFailure counts a failed signing step in the mint pipeline shared
// by both mint paths (slot timeout or sign error). mintsFailed is driven
// solely by RecordMintFailedZKP, so only blockedAttempts is touched here.
func (a *Aggregator) RecordMintFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blockedAttempts++
}

// RecordDroppedRequest counts a request rejected at the door because the
// active-connection count was already at MAX_QUEUE_CAPACITY.
func (a *Aggregator) RecordDroppedRequest() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropped++
}

// IncrementActiveConnections bumps the active-connection gauge and returns
// its new value, tripping the advisory circuit breaker past the high-water
// mark.
func (a *Aggregator) IncrementActiveConnections() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activeConns++
	if a.activeConns > activeConnHighWater {
		a.circuitBreaker = circuitUnderLoad
	}
	return a.activeConns
}

// DecrementActiveConnections lowers the active-connection gauge.
func (a *Aggregator) DecrementActiveConnections() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeConns > 0 {
		a.activeConns--
	}
}

// RecordIdentityCreated counts a successful identity registration.
func (a *Aggregator) RecordIdentityCreated() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identitiesCreated++
}

// RecordChallengeIssued counts a successful challenge issuance.
func (a *Aggregator) RecordChallengeIssued() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.challengesIssued++
}

// RecordMintSuccessZKP counts a successful ZKP mint, independent of the
// mint-buffer counters shared with the direct mint path.
func (a *Aggregator) RecordMintSuccessZKP() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mintsSuccess++
}

// RecordMintFailedZKP counts a failed ZKP mint (bad signature, challenge
// mismatch, unknown identity).
func (a *Aggregator) RecordMintFailedZKP() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blockedAttempts++
	a.mintsFailed++
}

// Snapshot flushes the mint buffer, then returns a deep copy of every
// counter under the main mutex.
func (a *Aggregator) Snapshot() ports.Snapshot {
	a.flushMint()

	a.mu.Lock()
	defer a.mu.Unlock()

	avg := 0.0
	if a.httpReqTotal > 0 {
		avg = a.latSumMs / float64(a.httpReqTotal)
	}

	return ports.Snapshot{
		EngineVersion:   a.engineVersion,
		EngineStartTime: a.engineStartTime,
		EngineStatus:    "running",
		CircuitBreaker:  a.circuitBreaker,

		HTTPReqTotal:    a.httpReqTotal,
		HTTPReq2xx:      a.httpReq2xx,
		HTTPReq4xx:      a.httpReq4xx,
		HTTPReq5xx:      a.httpReq5xx,
		ActiveConns:     a.activeConns,
		DroppedRequests: a.dropped,

		LatSumMs: a.latSumMs,
		LatMinMs: a.latMinMs,
		LatMaxMs: a.latMaxMs,
		LatAvgMs: avg,

		TokensMinted:    a.tokensMinted,
		Signatures:      a.signatures,
		BlockedAttempts: a.blockedAttempts,
		LastUser:        a.lastUser,
		LastJTI:         a.lastJTI,

		IdentitiesCreated: a.identitiesCreated,
		ChallengesIssued:  a.challengesIssued,
		MintsSuccess:      a.mintsSuccess,
		MintsFailed:       a.mintsFailed,

		HealthScore: 100.0,
	}
}
