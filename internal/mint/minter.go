// Package mint orchestrates claim construction, bounded-concurrency signing
// and metrics recording behind the two mint entry points (direct and ZKP).
package mint

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/titan-auth/engine/internal/domain"
	"github.com/titan-auth/engine/internal/ports"
)

const guestUser = "guest_user"

// Result is the JSON-ready shape returned by both mint endpoints.
type Result struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int
	EngineVersion string
}

// Minter ties the signer, executor and metrics together behind one
// execute() entry point shared by the direct and ZKP mint paths.
type Minter struct {
	executor ports.SigningExecutor
	signer   ports.Signer
	metrics  ports.Metrics

	issuer       string
	expHours     int
	slotTimeout  time.Duration
	engineVersion string
}

// New builds a Minter against the given executor/signer/metrics.
func New(executor ports.SigningExecutor, signer ports.Signer, metrics ports.Metrics, issuer string, expHours int, slotTimeout time.Duration, engineVersion string) *Minter {
	return &Minter{
		executor:      executor,
		signer:        signer,
		metrics:       metrics,
		issuer:        issuer,
		expHours:      expHours,
		slotTimeout:   slotTimeout,
		engineVersion: engineVersion,
	}
}

// Execute coerces a blank user to guestUser, builds a claim and drives it
// through the executor under the configured slot timeout. Failures are
// mapped to domain.ErrSlotTimeout (timeout) or returned unwrapped from the
// sign step (any other failure); both are counted as mint failures before
// being returned.
func (m *Minter) Execute(ctx context.Context, user, scope string) (Result, error) {
	if strings.TrimSpace(user) == "" {
		user = guestUser
	}
	return m.execute(ctx, user, scope)
}

// ExecuteForIdentity is the ZKP mint path: subject is always identityID,
// never influenced by any other field of the incoming request.
func (m *Minter) ExecuteForIdentity(ctx context.Context, identityID, scope string) (Result, error) {
	return m.execute(ctx, identityID, scope)
}

func (m *Minter) execute(ctx context.Context, subject, scope string) (Result, error) {
	claim := domain.NewClaim(m.issuer, subject, scope, uuid.NewString(), time.Now().UTC(), m.expHours)
	payload := claim.Payload()

	slotCtx, cancel := context.WithTimeout(ctx, m.slotTimeout)
	defer cancel()

	token, err := m.executor.RunWithSlot(slotCtx, func() (string, error) {
		return m.signer.Sign(payload)
	})
	if err != nil {
		m.metrics.RecordMintFailure()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Result{}, domain.ErrSlotTimeout
		}
		return Result{}, err
	}

	m.metrics.RecordMint(subject, claim.JTI)
	return Result{
		AccessToken:   token,
		TokenType:     "Bearer",
		ExpiresIn:     m.expHours * 3600,
		EngineVersion: m.engineVersion,
	}, nil
}
