package rest

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	api "github.com/mlodash/autoflow/api/v1"
)

type actorKey struct{}

// Authenticator resolves the operator behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// TokenAuthenticator accepts static bearer tokens, each mapped to an actor.
type TokenAuthenticator struct {
	tokens []tokenEntry
}

type tokenEntry struct {
	token []byte
	actor string
}

var _ Authenticator = new(TokenAuthenticator)

// NewTokenAuthenticator takes "actor:token" entries. An entry without an
// actor uses "operator".
func NewTokenAuthenticator(entries []string) *TokenAuthenticator {
	ta := &TokenAuthenticator{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		actor, token, found := strings.Cut(entry, ":")
		if !found {
			actor, token = "operator", entry
		}
		if token == "" {
			continue
		}
		ta.tokens = append(ta.tokens, tokenEntry{token: []byte(token), actor: actor})
	}
	return ta
}

func (ta *TokenAuthenticator) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", api.AuthenticationError{Reason: "missing bearer token"}
	}
	actor := ""
	for _, entry := range ta.tokens {
		if subtle.ConstantTimeCompare(entry.token, []byte(token)) == 1 {
			actor = entry.actor
		}
	}
	if actor == "" {
		return "", api.AuthenticationError{Reason: "unknown token"}
	}
	return actor, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.auth.Authenticate(r)
		if err != nil {
			respondWithAPIError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok {
		return actor
	}
	return "unknown"
}
