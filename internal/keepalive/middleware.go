package keepalive

import "net/http"

// Middleware treats every request as an application load and lets the throttle
// decide whether a heartbeat is due. The request is never delayed by the invocation.
func Middleware(t *Throttle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Trigger(r.Context())
			next.ServeHTTP(w, r)
		})
	}
}
