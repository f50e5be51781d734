package middleware

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/toolink/throttle/limiter"
)

// Handler wraps next, answering 429 Too Many Requests for throttled keys.
// Admitted requests carry a Decision in their context.
func Handler(l *limiter.Limiter, next http.Handler, opts ...Option) http.Handler {
	s := newSettings(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.httpKey(r)
		limited, err := l.Limited(r.Context(), key)
		if err != nil {
			if !errors.Is(err, limiter.ErrPersist) {
				log.Error().Err(err).Str("key", key).Str("path", r.URL.Path).Msg("rate limit check failed")
				if s.failClosed {
					writeResponse(w, http.StatusServiceUnavailable, "rate limiting unavailable")
					return
				}
				next.ServeHTTP(w, r.WithContext(withDecision(r.Context(), Decision{Key: key, Err: err})))
				return
			}
			log.Warn().Err(err).Str("key", key).Msg("rate limit state not saved")
		}

		if limited {
			log.Debug().Str("key", key).Str("path", r.URL.Path).Msg("request throttled")
			writeResponse(w, http.StatusTooManyRequests, "you have sent too many requests to this service, slow down please")
			return
		}
		next.ServeHTTP(w, r.WithContext(withDecision(r.Context(), Decision{Key: key, Err: err})))
	})
}

func writeResponse(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(msg)); err != nil {
		log.Warn().Err(err).Msg("failed to write throttle response body")
	}
}
