package middleware

import "net/http"

// SecurityHeaders sets HTTP security headers on every response. HSTS is
// only sent when serving over TLS so browsers never cache an HSTS
// policy for a plain-HTTP host.
func SecurityHeaders(tlsEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-XSS-Protection", "0")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

			// Same-origin CSP. connect-src includes ws:/wss: for the
			// signaling WebSocket; media-src covers remote call audio.
			h.Set("Content-Security-Policy",
				"default-src 'self'; "+
					"script-src 'self'; "+
					"style-src 'self' 'unsafe-inline'; "+
					"img-src 'self' data:; "+
					"font-src 'self'; "+
					"connect-src 'self' ws: wss:; "+
					"media-src 'self' blob:; "+
					"frame-ancestors 'none'; "+
					"base-uri 'self'; "+
					"form-action 'self'")

			// The softphone needs the microphone; everything else stays
			// locked down.
			h.Set("Permissions-Policy",
				"camera=(), microphone=(self), geolocation=(), payment=()")

			if tlsEnabled {
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
