// Package challenge implements the in-memory one-shot nonce cache.
// Keyed by challenge_id (not identity_id) so that N concurrent
// challenges per identity are possible without a race — keying by identity
// instead would serialize bursts from the same caller.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/titan-auth/engine/internal/domain"
	"github.com/titan-auth/engine/internal/ports"
)

type entry struct {
	identityID string
	nonce      string
	issuedAt   time.Time
}

// Cache is a mutex-guarded challenge_id -> (identity_id, nonce) map, bounded
// by maxEntries with an auxiliary FIFO to support oldest-half eviction:
// Go maps have no deterministic order, so insertion order has to be
// tracked explicitly alongside the map.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]entry
	order       []string
	maxEntries  int
	ttl         time.Duration
	ca          ports.CAService
	issuedCount func()
}

// New creates a Cache bounded at maxEntries with a soft TTL, authorizing
// issues through ca. issuedCount, if non-nil, is called once per
// successful Issue to drive a metrics counter.
func New(ca ports.CAService, maxEntries int, ttl time.Duration, issuedCount func()) *Cache {
	return &Cache{
		entries:     make(map[string]entry),
		maxEntries:  maxEntries,
		ttl:         ttl,
		ca:          ca,
		issuedCount: issuedCount,
	}
}

// Issue mints a fresh (challenge_id, nonce) pair for identityID, requiring
// that identityID is currently authorized. The nonce is at least 32 bytes
// of crypto/rand randomness, URL-safe base64 encoded.
func (c *Cache) Issue(identityID string) (string, string, error) {
	authorized, err := c.ca.IsAuthorized(context.Background(), identityID)
	if err != nil {
		return "", "", err
	}
	if !authorized {
		return "", "", domain.ErrUnauthorized
	}

	nonce, err := randomNonce(32)
	if err != nil {
		return "", "", err
	}
	challengeID := uuid.NewString()

	c.mu.Lock()
	c.evictExpiredLocked()
	c.entries[challengeID] = entry{identityID: identityID, nonce: nonce, issuedAt: time.Now()}
	c.order = append(c.order, challengeID)
	if len(c.entries) > c.maxEntries {
		c.evictOldestHalfLocked()
	}
	c.mu.Unlock()

	if c.issuedCount != nil {
		c.issuedCount()
	}
	return challengeID, nonce, nil
}

// Consume atomically removes and returns the challenge, making it one-shot.
// A second call for the same challengeID returns ok=false.
func (c *Cache) Consume(challengeID string) (string, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[challengeID]
	if !ok {
		return "", "", false
	}
	delete(c.entries, challengeID)
	if c.ttl > 0 && time.Since(e.issuedAt) > c.ttl {
		return "", "", false
	}
	return e.identityID, e.nonce, true
}

// evictExpiredLocked drops entries older than the soft TTL. Called with mu
// held; this is a best-effort safety valve, not primary eviction.
func (c *Cache) evictExpiredLocked() {
	if c.ttl <= 0 || len(c.order) == 0 {
		return
	}
	cutoff := time.Now().Add(-c.ttl)
	i := 0
	for ; i < len(c.order); i++ {
		e, ok := c.entries[c.order[i]]
		if !ok {
			continue
		}
		if e.issuedAt.After(cutoff) {
			break
		}
		delete(c.entries, c.order[i])
	}
	c.order = c.order[i:]
}

// evictOldestHalfLocked drops the oldest half of entries in insertion
// order once the population exceeds maxEntries.
func (c *Cache) evictOldestHalfLocked() {
	half := c.maxEntries / 2
	if half > len(c.order) {
		half = len(c.order)
	}
	for _, id := range c.order[:half] {
		delete(c.entries, id)
	}
	c.order = c.order[half:]
}

func randomNonce(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
