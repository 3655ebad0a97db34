package httpapi

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titan-auth/engine/internal/ca"
	"github.com/titan-auth/engine/internal/challenge"
	"github.com/titan-auth/engine/internal/config"
	"github.com/titan-auth/engine/internal/executor"
	"github.com/titan-auth/engine/internal/metrics"
	"github.com/titan-auth/engine/internal/mint"
	"github.com/titan-auth/engine/internal/signer"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	store, err := ca.OpenStore(t.TempDir() + "/ca.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	caSvc := ca.NewService(store)
	aggMetrics := metrics.New("test-version", 5)
	chal := challenge.New(caSvc, 100, time.Minute, aggMetrics.RecordChallengeIssued)
	exec := executor.New(4, 4)
	sign, err := signer.New()
	require.NoError(t, err)
	minter := mint.New(exec, sign, aggMetrics, "test-issuer", 1, 5*time.Second, "test-version")

	return &Handlers{
		CA:         caSvc,
		Challenges: chal,
		Minter:     minter,
		Metrics:    aggMetrics,
		Settings:   config.Load(),
		Log:        logrus.New(),
	}
}

func generateKeyPEM(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return key, string(block)
}

func TestMintDirect_ReturnsToken(t *testing.T) {
	h := newTestHandlers(t)
	router := NewRouter(h)

	body, _ := json.Marshal(map[string]string{"user": "alice"})
	req := httptest.NewRequest(http.MethodPost, "/v6/auth/mint", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Engine-Lat"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["access_token"])
	assert.Equal(t, "Bearer", resp["token_type"])
}

// Full happy-path ZKP flow: identity -> challenge -> local sign -> mint.
func TestZKPFlow_HappyPath(t *testing.T) {
	h := newTestHandlers(t)
	router := NewRouter(h)
	key, pemStr := generateKeyPEM(t)

	regBody, _ := json.Marshal(map[string]string{"pubkey_pem": pemStr})
	req := httptest.NewRequest(http.MethodPost, "/v6/zkp/identity", bytes.NewReader(regBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var regResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &regResp))
	identityID := regResp["identity_id"].(string)
	assert.Equal(t, "access_root", regResp["scope"])

	req = httptest.NewRequest(http.MethodGet, "/v6/zkp/challenge?identity_id="+identityID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var chalResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chalResp))
	challengeID := chalResp["challenge_id"].(string)
	nonce := chalResp["nonce"].(string)

	digest := sha256.Sum256([]byte(nonce))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(t, err)
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	mintBody, _ := json.Marshal(map[string]string{
		"challenge_id": challengeID,
		"identity_id":  identityID,
		"nonce":        nonce,
		"signature":    sigB64,
	})
	req = httptest.NewRequest(http.MethodPost, "/v6/zkp/mint", bytes.NewReader(mintBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var mintResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mintResp))
	assert.Equal(t, identityID, mintResp["subject"])
	assert.NotEmpty(t, mintResp["access_token"])

	// P1: replaying the same challenge must fail.
	req = httptest.NewRequest(http.MethodPost, "/v6/zkp/mint", bytes.NewReader(mintBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestZKPMint_WrongNonceIsForbidden(t *testing.T) {
	h := newTestHandlers(t)
	router := NewRouter(h)
	key, pemStr := generateKeyPEM(t)

	regBody, _ := json.Marshal(map[string]string{"pubkey_pem": pemStr})
	req := httptest.NewRequest(http.MethodPost, "/v6/zkp/identity", bytes.NewReader(regBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var regResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &regResp))
	identityID := regResp["identity_id"].(string)

	req = httptest.NewRequest(http.MethodGet, "/v6/zkp/challenge?identity_id="+identityID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var firstChal map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &firstChal))
	firstNonce := firstChal["nonce"].(string)

	req = httptest.NewRequest(http.MethodGet, "/v6/zkp/challenge?identity_id="+identityID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var secondChal map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &secondChal))
	secondChallengeID := secondChal["challenge_id"].(string)

	digest := sha256.Sum256([]byte(firstNonce))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(t, err)
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	mintBody, _ := json.Marshal(map[string]string{
		"challenge_id": secondChallengeID,
		"identity_id":  identityID,
		"nonce":        firstNonce,
		"signature":    sigB64,
	})
	req = httptest.NewRequest(http.MethodPost, "/v6/zkp/mint", bytes.NewReader(mintBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestZKPMint_ForgedSignatureIsForbidden(t *testing.T) {
	h := newTestHandlers(t)
	router := NewRouter(h)
	_, pem1 := generateKeyPEM(t)
	key2, pem2 := generateKeyPEM(t)

	reg1, _ := json.Marshal(map[string]string{"pubkey_pem": pem1})
	req := httptest.NewRequest(http.MethodPost, "/v6/zkp/identity", bytes.NewReader(reg1))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var resp1 map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp1))
	id1 := resp1["identity_id"].(string)

	reg2, _ := json.Marshal(map[string]string{"pubkey_pem": pem2})
	req = httptest.NewRequest(http.MethodPost, "/v6/zkp/identity", bytes.NewReader(reg2))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	req = httptest.NewRequest(http.MethodGet, "/v6/zkp/challenge?identity_id="+id1, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var chalResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chalResp))
	challengeID := chalResp["challenge_id"].(string)
	nonce := chalResp["nonce"].(string)

	digest := sha256.Sum256([]byte(nonce))
	forgedSig, err := ecdsa.SignASN1(rand.Reader, key2, digest[:])
	require.NoError(t, err)
	sigB64 := base64.RawURLEncoding.EncodeToString(forgedSig)

	mintBody, _ := json.Marshal(map[string]string{
		"challenge_id": challengeID,
		"identity_id":  id1,
		"nonce":        nonce,
		"signature":    sigB64,
	})
	req = httptest.NewRequest(http.MethodPost, "/v6/zkp/mint", bytes.NewReader(mintBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestChallenge_MissingIdentityIDIsUnprocessable(t *testing.T) {
	h := newTestHandlers(t)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v6/zkp/challenge", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRegisterIdentity_DuplicateKeyIsUnprocessable(t *testing.T) {
	h := newTestHandlers(t)
	router := NewRouter(h)
	_, pemStr := generateKeyPEM(t)

	body, _ := json.Marshal(map[string]string{"pubkey_pem": pemStr})
	req := httptest.NewRequest(http.MethodPost, "/v6/zkp/identity", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v6/zkp/identity", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHealth_ReportsFullHealthScore(t *testing.T) {
	h := newTestHandlers(t)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 100.0, resp["health_score"])
}

func TestStats_ReflectsMintCounters(t *testing.T) {
	h := newTestHandlers(t)
	router := NewRouter(h)

	body, _ := json.Marshal(map[string]string{"user": "alice"})
	req := httptest.NewRequest(http.MethodPost, "/v6/auth/mint", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v6/engine/stats", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp["tokens_minted"].(float64), 1.0)
	assert.GreaterOrEqual(t, resp["http_req_total"].(float64), 1.0)
}

func TestStats_ReflectsIdentityCountsAndConfig(t *testing.T) {
	h := newTestHandlers(t)
	router := NewRouter(h)

	_, pemStr := generateKeyPEM(t)
	body, _ := json.Marshal(map[string]string{"pubkey_pem": pemStr})
	req := httptest.NewRequest(http.MethodPost, "/v6/zkp/identity", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v6/engine/stats", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1.0, resp["identity_count"])
	assert.Equal(t, 0.0, resp["revoked_count"])

	cfg, ok := resp["config"].(map[string]any)
	require.True(t, ok, "config block must be present")
	assert.EqualValues(t, h.Settings.MaxChallenges, cfg["max_challenges"])
	assert.EqualValues(t, h.Settings.Slots(), cfg["slots"])
}
