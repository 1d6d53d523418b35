package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// wsPath is the only route that accepts the key as a query parameter, since
// browsers cannot set headers on a WebSocket upgrade.
const wsPath = "/ws"

// Auth rejects requests that do not carry one of apiKeys, either as
// "Authorization: Bearer <key>" or as X-API-Key. Preflights and the exempt
// paths pass through, and so does everything when no keys are configured.
// Rejections are logged with the client address, never the presented key.
func Auth(apiKeys []string, logger *slog.Logger, exempt ...string) func(http.Handler) http.Handler {
	// Keys are compared as digests so the comparison time does not depend
	// on key length.
	var digests [][sha256.Size]byte
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}
	open := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		open[p] = struct{}{}
	}
	log := logger.With(slog.String("component", "auth"))

	return func(next http.Handler) http.Handler {
		if len(digests) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			reason := ""
			switch key := presentedKey(r); {
			case key == "":
				reason = "missing api key"
			case !known(digests, key):
				reason = "invalid api key"
			}
			if reason != "" {
				log.WarnContext(r.Context(), "request rejected",
					slog.String("reason", reason),
					slog.String("client_ip", clientIP(r)),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("WWW-Authenticate", `Bearer realm="troveview"`)
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func known(digests [][sha256.Size]byte, key string) bool {
	d := sha256.Sum256([]byte(key))
	hit := 0
	for i := range digests {
		hit |= subtle.ConstantTimeCompare(d[:], digests[i][:])
	}
	return hit == 1
}

func presentedKey(r *http.Request) string {
	if scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	if r.URL.Path == wsPath {
		return strings.TrimSpace(r.URL.Query().Get("api_key"))
	}
	return ""
}
