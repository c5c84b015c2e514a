package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const contextKeySubject contextKey = "jwt_subject"

// Authenticator validates HS256 bearer tokens issued to gateway operators.
type Authenticator struct {
	secret []byte
	nowFn  func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		nowFn:  time.Now,
	}
}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid bearer token")
)

// Authenticate extracts and verifies the token, returning the subject claim.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", errMissingToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return "", errMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.nowFn), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errInvalidToken
	}
	return subject, nil
}

// Middleware rejects requests without a valid token and stores the subject on
// the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := a.Authenticate(r)
		if err != nil {
			status := http.StatusUnauthorized
			http.Error(w, err.Error(), status)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeySubject, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated subject, empty when anonymous.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(contextKeySubject).(string)
	return subject
}
