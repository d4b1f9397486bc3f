// Package token decodes the signed module_data tokens carried by
// micro-game-opened events.
package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/gamelink/internal/record"
)

// ErrInvalidToken is returned when module_data cannot be decoded.
var ErrInvalidToken = errors.New("invalid module data token")

// Decoder turns module_data JWTs into MicroGamePayload values.
//
// With a secret, tokens must carry a valid HMAC signature and unexpired
// claims. Without one, claims are read without signature verification; the
// backend that served the page already vouched for the token.
type Decoder struct {
	secret []byte
	parser *jwt.Parser
}

// NewDecoder creates a decoder. An empty secret disables verification.
func NewDecoder(secret []byte) *Decoder {
	return &Decoder{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}
}

// Verifies reports whether signatures are checked.
func (d *Decoder) Verifies() bool {
	return len(d.secret) > 0
}

// Decode parses raw into a payload for the given module session.
func (d *Decoder) Decode(moduleSessionID, raw string) (record.MicroGamePayload, error) {
	if raw == "" {
		return record.MicroGamePayload{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := jwt.MapClaims{}
	if d.Verifies() {
		token, err := d.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return d.secret, nil
		})
		if err != nil {
			return record.MicroGamePayload{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if !token.Valid {
			return record.MicroGamePayload{}, ErrInvalidToken
		}
	} else {
		if _, _, err := d.parser.ParseUnverified(raw, claims); err != nil {
			return record.MicroGamePayload{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return record.MicroGamePayload{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	payload := record.MicroGamePayload{
		ModuleSessionID: moduleSessionID,
		MicroGameID:     stringClaim(claims, "micro_game_id"),
		ModuleID:        stringClaim(claims, "module_id"),
		Subject:         subject,
		Claims:          make(map[string]any, len(claims)),
	}
	for k, v := range claims {
		payload.Claims[k] = v
	}
	return payload, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
