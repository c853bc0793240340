package cli

import (
	"encoding/json"
	"net/http"
	"time"

	"ai-things/audio-go/internal/metrics"
	"ai-things/audio-go/internal/utils"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// httpLoggingMiddleware records every request in the HTTP histogram and, in verbose mode,
// logs it. Bodies are never logged.
func httpLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lrw, r)
		dur := time.Since(start)
		status := lrw.status
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if status == http.StatusNotFound {
			route = "unmatched"
		}
		metrics.ObserveHTTP(route, status, dur)

		if !utils.Verbose {
			return
		}
		utils.Debug(
			"http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", lrw.bytes,
			"dur", dur.Truncate(time.Millisecond).String(),
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
		)
	})
}

// rateLimitMiddleware limits requests per client IP. An empty rate ("" in config) disables it.
// Rates use the limiter format, e.g. "100-M". X-Forwarded-For and X-Real-IP are only honoured
// when trustForward is set, i.e. behind a proxy that overwrites them.
func rateLimitMiddleware(formatted string, trustForward bool, next http.Handler) (http.Handler, error) {
	if formatted == "" {
		return next, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	var opts []limiter.Option
	if trustForward {
		opts = append(opts, limiter.WithTrustForwardHeader(true))
	}
	lim := limiter.New(memory.NewStore(), rate, opts...)

	mw := stdlib.NewMiddleware(lim,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimited(r.URL.Path)
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "Too many requests"})
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			utils.Warn("rate limiter error", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Rate limiter unavailable"})
		}),
	)
	return mw.Handler(next), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Warn("write response failed", "err", err)
	}
}
