// Package signer produces compact ES256 JWS tokens over a single in-memory
// ECDSA P-256 key, using go-jose's Signer rather than hand-rolled
// base64/HMAC framing.
package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Signer holds one ECDSA P-256 key pair generated at construction time. The
// private key never leaves the process and is never persisted.
type Signer struct {
	key    *ecdsa.PrivateKey
	signer jose.Signer
}

// New generates a fresh P-256 key pair and builds the ES256 signer over it.
func New() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	sig, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.ES256,
		Key:       key,
	}, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]interface{}{"typ": "JWT"},
	})
	if err != nil {
		return nil, fmt.Errorf("build ES256 signer: %w", err)
	}
	return &Signer{key: key, signer: sig}, nil
}

// Sign serialises payload as JSON and returns its compact ES256 JWS.
func (s *Signer) Sign(payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	obj, err := s.signer.Sign(body)
	if err != nil {
		return "", fmt.Errorf("sign claims: %w", err)
	}
	return obj.CompactSerialize()
}

// PublicKey exposes the verification key, e.g. for a future JWKS endpoint.
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}
