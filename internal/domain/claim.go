package domain

import "time"

// Claim is the token claim set: {iss, sub, iat, exp,
// jti, scope}. sub is always an opaque identity_id, never a human identity.
type Claim struct {
	Issuer    string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	JTI       string
	Scope     string
}

// NewClaim builds a claim for subject with the given scope (DefaultScope if
// blank), issuer, jti and an expiry expHours after now.
func NewClaim(issuer, subject, scope, jti string, now time.Time, expHours int) Claim {
	if scope == "" {
		scope = DefaultScope
	}
	return Claim{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(expHours) * time.Hour),
		JTI:       jti,
		Scope:     scope,
	}
}

// Payload renders the claim as the map go-jose expects as a JWT payload.
// iat/exp are numeric seconds-since-epoch.
func (c Claim) Payload() map[string]any {
	return map[string]any{
		"iss":   c.Issuer,
		"sub":   c.Subject,
		"iat":   c.IssuedAt.Unix(),
		"exp":   c.ExpiresAt.Unix(),
		"jti":   c.JTI,
		"scope": c.Scope,
	}
}
