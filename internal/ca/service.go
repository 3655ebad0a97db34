package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/titan-auth/engine/internal/domain"
	"github.com/titan-auth/engine/internal/ports"
)

// Service is the CA's verification layer over an IdentityStore. It owns
// all crypto parsing so the rest of the engine never touches raw key
// material.
type Service struct {
	store ports.IdentityStore
}

// NewService wraps store with the CA's registration and verification logic.
func NewService(store ports.IdentityStore) *Service {
	return &Service{store: store}
}

// RegisterIdentity parses pem to confirm it is a well-formed ECDSA P-256
// public key, then delegates storage to the IdentityStore. Returns
// domain.ErrInvalidKey if pem does not parse as such a key.
func (s *Service) RegisterIdentity(ctx context.Context, publicKeyPEM, scope string) (string, string, error) {
	if _, err := parseECDSAPublicKey(publicKeyPEM); err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrInvalidKey, err)
	}
	return s.store.Register(ctx, publicKeyPEM, scope)
}

// VerifySignature reports whether signatureB64 is a valid DER-encoded
// ECDSA(SHA-256) signature over the UTF-8 bytes of nonce, produced by the
// private key corresponding to identityID's registered public key.
//
// This never returns an error: any failure (unknown
// identity, malformed key, malformed signature, bad signature) reports
// false so that CA verification failures look identical to "unknown
// identity" from the outside.
func (s *Service) VerifySignature(ctx context.Context, identityID, nonce, signatureB64 string) bool {
	pemStr, err := s.store.GetPublicKey(ctx, identityID)
	if err != nil || pemStr == "" {
		return false
	}

	pub, err := parseECDSAPublicKey(pemStr)
	if err != nil {
		return false
	}

	sig, err := decodeBase64URL(signatureB64)
	if err != nil {
		return false
	}

	digest := sha256.Sum256([]byte(nonce))
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// IsAuthorized delegates to the identity store.
func (s *Service) IsAuthorized(ctx context.Context, identityID string) (bool, error) {
	return s.store.IsAuthorized(ctx, identityID)
}

// CountIdentities delegates to the identity store.
func (s *Service) CountIdentities(ctx context.Context, includeRevoked bool) (int, error) {
	return s.store.CountIdentities(ctx, includeRevoked)
}

// CountRevoked delegates to the identity store.
func (s *Service) CountRevoked(ctx context.Context) (int, error) {
	return s.store.CountRevoked(ctx)
}

func parseECDSAPublicKey(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(domain.NormalizePEM(pemStr)))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an ECDSA public key")
	}
	if pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("not a P-256 public key")
	}
	return pub, nil
}

// decodeBase64URL base64-url-decodes sig, tolerating missing '=' padding.
// Signatures MUST be DER-encoded; raw (r||s) is rejected since
// ecdsa.VerifyASN1 requires ASN.1 DER.
func decodeBase64URL(sig string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(sig); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(sig)
}
