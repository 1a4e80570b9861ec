package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload embedded in access tokens.
type Claims struct {
	Subject   string
	Username  string
	Email     string
	Role      string
	Tier      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer issues and verifies HS256 access tokens. Now is injectable so
// tests can pin the clock.
type Signer struct {
	Secret   []byte
	Lifetime time.Duration
	Now      func() time.Time
}

func NewSigner(secret string, lifetime time.Duration) *Signer {
	return &Signer{Secret: []byte(secret), Lifetime: lifetime, Now: time.Now}
}

// Issue signs a token carrying the claims, valid from now until
// now+Lifetime.
func (s *Signer) Issue(c Claims) (string, error) {
	now := s.Now().UTC()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      c.Subject,
		"username": c.Username,
		"email":    c.Email,
		"role":     c.Role,
		"tier":     c.Tier,
		"iat":      now.Unix(),
		"exp":      now.Add(s.Lifetime).Unix(),
	})
	return tok.SignedString(s.Secret)
}

// Verify parses and validates a token. Any failure, bad signature,
// wrong algorithm, malformed payload or expiry, yields nil claims.
func (s *Signer) Verify(raw string) *Claims {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.Now().UTC() }),
	)
	tok, err := parser.Parse(raw, func(*jwt.Token) (any, error) {
		return s.Secret, nil
	})
	if err != nil || !tok.Valid {
		return nil
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return nil
	}
	username, _ := mc["username"].(string)
	email, _ := mc["email"].(string)
	role, _ := mc["role"].(string)
	tier, _ := mc["tier"].(string)
	c := &Claims{Subject: sub, Username: username, Email: email, Role: role, Tier: tier}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c
}
