// Package boardtest runs a complete in-process board server: the REST
// endpoints, the websocket broadcast channel and a redis-backed task store.
// It exists so client code can be exercised against real transport without
// a deployed backend.
package boardtest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization")
	errBadAuthorization     = errors.New("malformed authorization header")
)

// Auth validates bearer tokens. The default mode signs and verifies with a
// shared HS256 secret so tests can mint their own tokens; NewJWKSAuth
// verifies RS256 tokens against a key set instead.
type Auth struct {
	secret []byte
	jwks   *keyfunc.JWKS
	parser *jwt.Parser
}

// NewAuth builds a shared-secret Auth.
func NewAuth(secret string) *Auth {
	return &Auth{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// NewJWKSAuth builds an Auth that verifies signatures against a JWKS.
func NewJWKSAuth(jwks *keyfunc.JWKS) *Auth {
	return &Auth{
		jwks:   jwks,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
	}
}

// MintToken signs a token for the given subject. Only shared-secret mode
// can mint.
func (a *Auth) MintToken(sub string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("minting requires shared secret mode")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// UserIDFromAuthHeader extracts the subject from a bearer Authorization
// header value.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errBadAuthorization
	}
	return a.userIDFromToken(parts[1])
}

func (a *Auth) userIDFromToken(tokenStr string) (string, error) {
	token, err := a.parser.Parse(tokenStr, a.keyFor)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	now := time.Now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub claim")
	}
	return sub, nil
}

func (a *Auth) keyFor(token *jwt.Token) (any, error) {
	if a.jwks != nil {
		return a.jwks.Keyfunc(token)
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Method.Alg())
	}
	return a.secret, nil
}
