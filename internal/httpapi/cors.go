package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"dispatcher/pkg/config"
)

// cors wraps next with cross-origin handling for the dashboard/WebSocket
// clients the adapter serves, mirroring the teacher's ConnectRPC CORS
// middleware re-expressed over plain net/http.
func cors(cfg config.CORSConfig, next http.Handler) http.Handler {
	if !cfg.Enabled {
		return next
	}

	allowedHeaders := prepareAllowedHeaders(cfg.AllowedHeaders)
	allowedMethods := strings.Join(cfg.AllowedMethods, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowedOrigin := ""
		for _, o := range cfg.AllowedOrigins {
			if o == "*" || o == origin {
				allowedOrigin = o
				break
			}
		}
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		}
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		if cfg.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Max-Age", maxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// prepareAllowedHeaders expands a "*" wildcard into a concrete header list,
// since browsers will not send Authorization under a wildcard response.
func prepareAllowedHeaders(headers []string) string {
	for _, h := range headers {
		if h == "*" {
			return strings.Join([]string{
				"Accept", "Content-Type", "Authorization", "Origin", "X-Requested-With",
			}, ", ")
		}
	}
	hasAuth := false
	for _, h := range headers {
		if strings.EqualFold(h, "Authorization") {
			hasAuth = true
			break
		}
	}
	if !hasAuth {
		headers = append(headers, "Authorization")
	}
	return strings.Join(headers, ", ")
}
