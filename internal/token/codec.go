// Package token implements the stateless download capability tokens handed
// to clients after a resolution. A token binds a resource reference (the
// upstream media URL) to an expiry, and is signed with a key derived from the
// server secret. No per-token state is held by the server: a token is valid
// purely by virtue of its signature and expiry.
package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrMalformed    = errors.New("token is malformed")
	ErrBadSignature = errors.New("token signature is invalid")
	ErrExpired      = errors.New("token has expired")

	ErrEmptyRef   = errors.New("resource reference must not be empty")
	ErrInvalidTTL = errors.New("token lifetime must be positive")
	ErrNoSecret   = errors.New("server secret must not be empty")
)

const (
	// keyDerivationInfo binds the derived signing key to this use, so the
	// same server secret can safely back other keys in future.
	keyDerivationInfo = "medialink/download-token/v1"
	signingKeySize    = 32
)

var signingMethod = jwt.SigningMethodHS256

type (
	// Claims is the decoded content of a download token.
	Claims struct {
		Ref       string
		IssuedAt  time.Time
		ExpiresAt time.Time
	}

	downloadClaims struct {
		jwt.RegisteredClaims
		Ref string `json:"ref"`
	}

	// Codec issues and decodes download tokens. A Codec holds only
	// immutable state and is safe for concurrent use.
	Codec struct {
		key    []byte
		parser *jwt.Parser
	}
)

// NewCodec derives the token signing key from the server secret
// provided (using HKDF-SHA256) and returns a Codec using that key.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}

	key := make([]byte, signingKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyDerivationInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive token signing key: %w", err)
	}

	return &Codec{
		key: key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithStrictDecoding(),
			// Expiry is enforced by the Validator, not during decoding
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Issue creates a token for the resource reference which remains valid for
// at least the ttl provided, starting now.
func (codec *Codec) Issue(ref string, ttl time.Duration) (string, error) {
	token, _, err := codec.IssueAt(ref, time.Now(), ttl)
	return token, err
}

// IssueAt creates a token as if it were issued at the time given. The
// returned time is the absolute expiry encoded in to the token, which
// is rounded UP to the next whole second.
func (codec *Codec) IssueAt(ref string, issuedAt time.Time, ttl time.Duration) (string, time.Time, error) {
	if ref == "" {
		return "", time.Time{}, ErrEmptyRef
	}
	if ttl <= 0 {
		return "", time.Time{}, ErrInvalidTTL
	}

	expiresAt := issuedAt.Add(ttl)
	if truncated := expiresAt.Truncate(time.Second); truncated.Before(expiresAt) {
		expiresAt = truncated.Add(time.Second)
	}

	claims := downloadClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Ref: ref,
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(codec.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Decode parses the token and verifies its signature, returning the claims
// it carries. Expiry is NOT checked here; see Validator.Redeem.
//
// The returned error wraps ErrBadSignature if the token is well-formed but
// was not signed by this Codec, or ErrMalformed if the token cannot be parsed.
func (codec *Codec) Decode(raw string) (Claims, error) {
	var claims downloadClaims
	_, err := codec.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return codec.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			return Claims{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
		}

		return Claims{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if claims.Ref == "" {
		return Claims{}, fmt.Errorf("%w: missing resource reference", ErrMalformed)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return Claims{}, fmt.Errorf("%w: missing issue or expiry time", ErrMalformed)
	}

	return Claims{
		Ref:       claims.Ref,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
