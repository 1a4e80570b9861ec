package server

import "net/http"

// newCORSMiddleware restricts cross-origin access to the configured
// allowlist. An entry of "*" opens all origins, which only the dev
// profile configures.
func newCORSMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowAll := false
	set := map[string]bool{}
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[origin] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || set[origin]) {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
