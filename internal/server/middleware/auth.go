package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader carries the operator key for clients that cannot set a
// bearer token.
const APIKeyHeader = "X-API-Key"

// Auth gates the API behind one shared operator key. Clients send it as
// "Authorization: Bearer <key>" or in X-API-Key. An empty key turns the
// gate off. Paths in open stay reachable without a key so health checks
// and scrapers keep working; CORS preflights are never gated.
func Auth(apiKey string, open ...string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	public := make(map[string]struct{}, len(open))
	for _, p := range open {
		public[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[r.URL.Path]; ok || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := presentedKey(r)
			switch {
			case !ok:
				writeJSONError(w, http.StatusUnauthorized, "api key required")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				writeJSONError(w, http.StatusUnauthorized, "api key rejected")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// presentedKey returns the key the client sent. A bearer token wins over
// X-API-Key.
func presentedKey(r *http.Request) (string, bool) {
	if scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " "); found && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	return key, key != ""
}
