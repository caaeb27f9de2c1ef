// Package auth issues and verifies the HS256 bearer tokens accepted by the
// gateway. The subject is the caller's wallet address.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"dework/crypto"
)

const (
	ScopeTenant   = "tenant"
	ScopeLandlord = "landlord"
	ScopeAdmin    = "admin"
	ScopeKeeper   = "keeper"

	DefaultIssuer = "dework"
)

var (
	ErrSecretMissing = errors.New("auth: secret not configured")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrTokenRevoked  = errors.New("auth: token revoked")
)

// Revocations records token ids that must no longer be accepted.
type Revocations interface {
	Revoke(id string, expiresAt time.Time) error
	IsRevoked(id string) (bool, error)
}

// Claims is the gateway token body.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	Address   crypto.Address
	Scopes    []string
	TokenID   string
	ExpiresAt time.Time
}

// HasScope reports whether scope was granted.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Issue mints a token for subject valid for ttl.
func Issue(secret string, subject crypto.Address, scopes []string, ttl time.Duration, now time.Time) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", ErrSecretMissing
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := Claims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ID:        uuid.NewString(),
			Subject:   subject.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verifier validates tokens with a shared secret.
type Verifier struct {
	secret      []byte
	issuer      string
	leeway      time.Duration
	nowFn       func() time.Time
	revocations Revocations
}

// NewVerifier builds a verifier. An empty issuer skips the iss check.
func NewVerifier(secret, issuer string, leeway time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretMissing
	}
	if leeway <= 0 {
		leeway = 2 * time.Minute
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: leeway, nowFn: time.Now}, nil
}

// UseRevocations rejects tokens whose id appears in r.
func (v *Verifier) UseRevocations(r Revocations) {
	v.revocations = r
}

// Verify parses token and returns its principal.
func (v *Verifier) Verify(token string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(v.leeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.nowFn),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	addr, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	if v.revocations != nil && claims.ID != "" {
		revoked, err := v.revocations.IsRevoked(claims.ID)
		if err != nil {
			return Principal{}, fmt.Errorf("auth: revocation lookup: %w", err)
		}
		if revoked {
			return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenRevoked)
		}
	}
	principal := Principal{Address: addr, Scopes: strings.Fields(claims.Scope), TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}
