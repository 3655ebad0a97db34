// Package ports declares the interfaces the HTTP surface (the driving
// adapter) and the mint pipeline depend on, keeping every concrete
// implementation (SQLite store, in-memory cache, ECDSA signer, semaphore
// executor) swappable and independently testable.
package ports

import (
	"context"
	"time"
)

// IdentityStore is the durable mapping identity_id -> (public_key,
// fingerprint, scope, revoked).
type IdentityStore interface {
	Register(ctx context.Context, publicKeyPEM, scope string) (identityID, fingerprint string, err error)
	GetPublicKey(ctx context.Context, identityID string) (string, error)
	IsAuthorized(ctx context.Context, identityID string) (bool, error)
	Revoke(ctx context.Context, identityID string) (bool, error)
	CountIdentities(ctx context.Context, includeRevoked bool) (int, error)
	CountRevoked(ctx context.Context) (int, error)
}

// CAService is the verification layer over IdentityStore.
type CAService interface {
	RegisterIdentity(ctx context.Context, publicKeyPEM, scope string) (identityID, fingerprint string, err error)
	VerifySignature(ctx context.Context, identityID, nonce, signatureB64 string) bool
	IsAuthorized(ctx context.Context, identityID string) (bool, error)
	CountIdentities(ctx context.Context, includeRevoked bool) (int, error)
	CountRevoked(ctx context.Context) (int, error)
}

// ChallengeCache is the in-memory one-shot nonce cache.
type ChallengeCache interface {
	Issue(identityID string) (challengeID, nonce string, err error)
	Consume(challengeID string) (identityID, nonce string, ok bool)
}

// SigningExecutor bounds concurrent CPU-bound signing work.
type SigningExecutor interface {
	RunWithSlot(ctx context.Context, fn func() (string, error)) (string, error)
	AvailableSlots() int64
}

// Signer holds the service signing key, generated at process start, and
// produces compact JWS tokens.
type Signer interface {
	Sign(payload map[string]any) (string, error)
}

// Metrics is the per-process counters/latency aggregator.
type Metrics interface {
	RecordHTTPRequest(statusClass string, latency time.Duration)
	RecordMint(user, jti string)
	RecordMintFailure()
	RecordDroppedRequest()
	IncrementActiveConnections() int64
	DecrementActiveConnections()
	Snapshot() Snapshot
	RecordIdentityCreated()
	RecordChallengeIssued()
	RecordMintSuccessZKP()
	RecordMintFailedZKP()
}

// Snapshot is a point-in-time, deep copy of the metrics aggregator's
// counters, safe to serialise directly to JSON.
type Snapshot struct {
	EngineVersion   string
	EngineStartTime time.Time
	EngineStatus    string
	CircuitBreaker  string

	HTTPReqTotal    int64
	HTTPReq2xx      int64
	HTTPReq4xx      int64
	HTTPReq5xx      int64
	ActiveConns     int64
	DroppedRequests int64

	LatSumMs float64
	LatMinMs float64
	LatMaxMs float64
	LatAvgMs float64

	TokensMinted    int64
	Signatures      int64
	BlockedAttempts int64
	LastUser        string
	LastJTI         string

	IdentitiesCreated int64
	ChallengesIssued  int64
	MintsSuccess      int64
	MintsFailed       int64

	HealthScore float64
}
