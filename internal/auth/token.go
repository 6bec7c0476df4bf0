// ABOUTME: JWT token issuing and verification for the admin API
// ABOUTME: Uses HS256 signing with the configured secret and a fixed admin scope

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWrongScope   = errors.New("token lacks admin scope")
)

// AdminScope is the scope every admin token carries.
const AdminScope = "scanbot:admin"

const issuer = "scanbot"

// Claims are the JWT claims of an admin token.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTVerifier issues and verifies HS256 admin tokens
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret, now: time.Now}
}

// Verify validates the token and returns its claims. The subject and admin
// scope are required.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.Scope != AdminScope {
		return nil, ErrWrongScope
	}

	return &claims, nil
}

// Generate creates an admin token for subject valid for expiresIn.
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if expiresIn <= 0 {
		return "", fmt.Errorf("token lifetime must be positive, got %v", expiresIn)
	}

	now := v.now()
	claims := Claims{
		Scope: AdminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
