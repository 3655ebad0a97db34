package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"

	"github.com/titan-auth/engine/internal/config"
	"github.com/titan-auth/engine/internal/domain"
	"github.com/titan-auth/engine/internal/mint"
	"github.com/titan-auth/engine/internal/ports"
)

// Handlers wires every HTTP route to the domain services. All fields are
// process-wide singletons built once in the composition root.
type Handlers struct {
	CA         ports.CAService
	Challenges ports.ChallengeCache
	Minter     *mint.Minter
	Metrics    ports.Metrics
	Settings   config.Settings
	Log        *logrus.Logger
}

type mintDirectRequest struct {
	User    string `json:"user"`
	Scope   string `json:"scope"`
	Entropy string `json:"entropy"`
}

// MintDirect handles POST /v6/auth/mint: no proof of possession, intended
// for trusted/loopback callers only.
func (h *Handlers) MintDirect(w http.ResponseWriter, r *http.Request) {
	var req mintDirectRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.Minter.Execute(r.Context(), req.User, req.Scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"access_token": result.AccessToken,
		"token_type":   result.TokenType,
		"expires_in":   result.ExpiresIn,
		"engine":       result.EngineVersion,
	})
}

type registerIdentityRequest struct {
	PubkeyPEM string `json:"pubkey_pem"`
	Scope     string `json:"scope"`
}

// RegisterIdentity handles POST /v6/zkp/identity.
func (h *Handlers) RegisterIdentity(w http.ResponseWriter, r *http.Request) {
	var req registerIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.PubkeyPEM) == "" {
		writeError(w, domain.ErrInvalidInput)
		return
	}

	identityID, fingerprint, err := h.CA.RegisterIdentity(r.Context(), req.PubkeyPEM, req.Scope)
	if err != nil {
		writeError(w, err)
		return
	}

	h.Metrics.RecordIdentityCreated()
	scope := req.Scope
	if scope == "" {
		scope = domain.DefaultScope
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"identity_id":       identityID,
		"pubkey_fingerprint": fingerprint,
		"scope":              scope,
		"message":            "identity registered",
	})
}

// IssueChallenge handles GET /v6/zkp/challenge?identity_id=....
func (h *Handlers) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	identityID := r.URL.Query().Get("identity_id")
	if strings.TrimSpace(identityID) == "" {
		writeError(w, domain.ErrInvalidInput)
		return
	}

	challengeID, nonce, err := h.Challenges.Issue(identityID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"challenge_id": challengeID,
		"nonce":        nonce,
		"identity_id":  identityID,
	})
}

type mintZKPRequest struct {
	ChallengeID string `json:"challenge_id"`
	IdentityID  string `json:"identity_id"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
	Scope       string `json:"scope"`
}

// MintZKP handles POST /v6/zkp/mint: consume the challenge, verify the
// signature, and mint a token whose subject is always identity_id.
func (h *Handlers) MintZKP(w http.ResponseWriter, r *http.Request) {
	var req mintZKPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidInput)
		return
	}
	if req.ChallengeID == "" || req.IdentityID == "" || req.Nonce == "" || req.Signature == "" {
		writeError(w, domain.ErrInvalidInput)
		return
	}

	storedIdentity, storedNonce, ok := h.Challenges.Consume(req.ChallengeID)
	if !ok || storedIdentity != req.IdentityID || storedNonce != req.Nonce {
		h.Metrics.RecordMintFailedZKP()
		writeError(w, domain.ErrUnauthorized)
		return
	}

	if !h.CA.VerifySignature(r.Context(), req.IdentityID, req.Nonce, req.Signature) {
		h.Metrics.RecordMintFailedZKP()
		writeError(w, domain.ErrUnauthorized)
		return
	}

	result, err := h.Minter.ExecuteForIdentity(r.Context(), req.IdentityID, req.Scope)
	if err != nil {
		writeError(w, err)
		return
	}

	h.Metrics.RecordMintSuccessZKP()
	writeJSON(w, http.StatusCreated, map[string]any{
		"access_token": result.AccessToken,
		"token_type":   result.TokenType,
		"expires_in":   result.ExpiresIn,
		"engine":       result.EngineVersion,
		"subject":      req.IdentityID,
	})
}

// Health handles GET /health. health_score is always 100.0; it is not
// computed from load or any other signal.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.Metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "alive",
		"health_score": snap.HealthScore,
		"version":      snap.EngineVersion,
	})
}

// Stats handles GET /v6/engine/stats, blending the metrics snapshot with a
// resource-usage sample taken via gopsutil.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	snap := h.Metrics.Snapshot()

	identityCount, err := h.CA.CountIdentities(r.Context(), true)
	if err != nil {
		h.Log.WithError(err).Warn("identity count unavailable")
	}
	revokedCount, err := h.CA.CountRevoked(r.Context())
	if err != nil {
		h.Log.WithError(err).Warn("revoked count unavailable")
	}

	cpuPercent := 0.0
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPercent = pcts[0]
	} else if err != nil {
		h.Log.WithError(err).Warn("cpu sample unavailable")
	}

	memPercent := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	} else {
		h.Log.WithError(err).Warn("memory sample unavailable")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"engine_version":    snap.EngineVersion,
		"engine_start_time": snap.EngineStartTime,
		"engine_status":     snap.EngineStatus,
		"circuit_breaker":   snap.CircuitBreaker,

		"http_req_total":   snap.HTTPReqTotal,
		"http_req_2xx":     snap.HTTPReq2xx,
		"http_req_4xx":     snap.HTTPReq4xx,
		"http_req_5xx":     snap.HTTPReq5xx,
		"active_conns":     snap.ActiveConns,
		"dropped_requests": snap.DroppedRequests,

		"latency_sum_ms": snap.LatSumMs,
		"latency_min_ms": snap.LatMinMs,
		"latency_max_ms": snap.LatMaxMs,
		"latency_avg_ms": snap.LatAvgMs,

		"tokens_minted":    snap.TokensMinted,
		"signatures":       snap.Signatures,
		"blocked_attempts": snap.BlockedAttempts,
		"last_user":        snap.LastUser,
		"last_jti":         snap.LastJTI,

		"identities_created": snap.IdentitiesCreated,
		"challenges_issued":  snap.ChallengesIssued,
		"mints_success":      snap.MintsSuccess,
		"mints_failed":       snap.MintsFailed,

		"identity_count": identityCount,
		"revoked_count":  revokedCount,

		"cpu_percent": cpuPercent,
		"mem_percent": memPercent,

		"config": map[string]any{
			"token_exp_hours":       h.Settings.TokenExpHours,
			"threads_per_worker":    h.Settings.ThreadsPerWorker,
			"slots":                 h.Settings.Slots(),
			"max_queue_capacity":    h.Settings.MaxQueueCapacity,
			"max_challenges":        h.Settings.MaxChallenges,
			"mint_slot_timeout_sec": h.Settings.MintSlotTimeoutSec,
		},
	})
}
