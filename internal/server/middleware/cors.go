package middleware

import (
	"net/http"
	"strings"
)

// corsAllowHeaders lists what browser clients send: the operator key and
// the signature pair on mutating calls.
var corsAllowHeaders = strings.Join([]string{
	"Content-Type", "Authorization", APIKeyHeader,
	SignatureHeader, TimestampHeader, RequestIDHeader,
}, ", ")

// CORS lets browser wallets on the listed origins call the API. An empty
// list or "*" admits any origin. The matching origin is echoed back, so
// responses vary by Origin. Preflights are answered here with 204.
func CORS(origins []string) func(http.Handler) http.Handler {
	anyOrigin := len(origins) == 0
	listed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			anyOrigin = true
		}
		listed[strings.ToLower(o)] = struct{}{}
	}
	admitted := func(origin string) bool {
		if anyOrigin {
			return true
		}
		_, ok := listed[strings.ToLower(origin)]
		return ok
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); origin != "" && admitted(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Expose-Headers", RequestIDHeader+", Retry-After")
				h.Set("Access-Control-Max-Age", "600")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
