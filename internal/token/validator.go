package token

import (
	"fmt"
	"time"
)

type decoder interface {
	Decode(string) (Claims, error)
}

// Validator redeems download tokens. Redemption is idempotent: a token
// may be redeemed any number of times until it expires.
type Validator struct {
	codec decoder
}

func NewValidator(codec *Codec) *Validator {
	return &Validator{codec: codec}
}

// Redeem decodes the token and ensures it has not expired at the time
// given, returning the resource reference the token grants access to.
func (validator *Validator) Redeem(raw string, now time.Time) (string, error) {
	claims, err := validator.codec.Decode(raw)
	if err != nil {
		return "", err
	}

	if !now.Before(claims.ExpiresAt) {
		return "", fmt.Errorf("%w: expired at %s", ErrExpired, claims.ExpiresAt.UTC().Format(time.RFC3339))
	}

	return claims.Ref, nil
}
