// Package auth resolves the calling user of an HTTP request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// HeaderUserID carries the caller's identity when no bearer token is used.
	HeaderUserID = "X-User-ID"
	// QueryUserID is the query parameter fallback for HeaderUserID.
	QueryUserID = "userId"
)

var (
	ErrMissingIdentity = errors.New("user identity is required")
	ErrMissingToken    = errors.New("bearer token is required")
	ErrInvalidToken    = errors.New("invalid bearer token")
)

// Resolver extracts a user id from a request. With a secret the only source
// is a bearer JWT. Without one it reads the X-User-ID header, then the userId
// query parameter.
type Resolver struct {
	secret []byte
}

// NewResolver returns a Resolver. An empty secret disables bearer tokens.
func NewResolver(secret string) *Resolver {
	r := &Resolver{}
	if secret != "" {
		r.secret = []byte(secret)
	}
	return r
}

// TokensEnabled reports whether bearer tokens are verified.
func (r *Resolver) TokensEnabled() bool {
	return len(r.secret) > 0
}

// Resolve returns the caller's user id. With tokens enabled it fails with
// ErrMissingToken or ErrInvalidToken and never consults the header or query.
// Otherwise it fails with ErrMissingIdentity.
func (r *Resolver) Resolve(req *http.Request) (string, error) {
	if r.TokensEnabled() {
		raw, ok := bearerToken(req)
		if !ok {
			return "", ErrMissingToken
		}
		return r.subject(raw)
	}
	if id := strings.TrimSpace(req.Header.Get(HeaderUserID)); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(req.URL.Query().Get(QueryUserID)); id != "" {
		return id, nil
	}
	return "", ErrMissingIdentity
}

func bearerToken(req *http.Request) (string, bool) {
	header := req.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (r *Resolver) subject(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return sub, nil
}

// IssueToken signs an HS256 token whose subject is userID.
func (r *Resolver) IssueToken(userID string, claims jwt.RegisteredClaims) (string, error) {
	if !r.TokensEnabled() {
		return "", errors.New("no signing secret configured")
	}
	claims.Subject = userID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

type ctxKey struct{}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the id stored by WithUserID.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
