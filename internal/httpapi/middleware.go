package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/titan-auth/engine/internal/ports"
)

// contextKey is a private type for context keys, avoiding collisions with
// keys set by other packages.
type contextKey string

const requestIDKey contextKey = "request-id"

// RequestIDFromContext returns the request id stashed by Telemetry, or ""
// if none is present (e.g. in a unit test calling a handler directly).
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// statusRecorder injects the telemetry response headers at the moment
// WriteHeader is called, since that's the last point before the status line
// and headers are flushed to the client — setting them after ServeHTTP
// returns would be too late.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	start   time.Time
	reqID   string
	written bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.written {
		s.written = true
		s.status = code
		s.Header().Set("X-Request-ID", s.reqID)
		s.Header().Set("X-Engine-Lat", fmt.Sprintf("%.3fms", float64(time.Since(s.start).Microseconds())/1000.0))
	}
	s.ResponseWriter.WriteHeader(code)
}

// Write implicitly triggers a 200 WriteHeader if the handler never called
// it explicitly, matching net/http's own ResponseWriter contract.
func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.written {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

// Telemetry wraps every request with the invariants: exactly one
// active-connection increment/decrement, one latency sample classified by
// response status, and the X-Request-ID/X-Engine-Lat response headers.
// maxQueueCapacity bounds how many requests may be in flight at once; a
// request arriving over capacity is rejected with 503 and counted as
// dropped rather than queued, so a saturated signing pipeline fails fast.
func Telemetry(metrics ports.Metrics, maxQueueCapacity int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = newRequestID()
			}
			ctx := context.WithValue(r.Context(), requestIDKey, reqID)
			r = r.WithContext(ctx)

			active := metrics.IncrementActiveConnections()
			defer metrics.DecrementActiveConnections()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK, start: time.Now(), reqID: reqID}
			defer func() {
				if !rec.written {
					rec.WriteHeader(http.StatusOK)
				}
				metrics.RecordHTTPRequest(statusClass(rec.status), time.Since(rec.start))
			}()

			if maxQueueCapacity > 0 && active > maxQueueCapacity {
				metrics.RecordDroppedRequest()
				writeError(rec, errOverCapacity{})
				return
			}

			next.ServeHTTP(rec, r)
		})
	}
}

// errOverCapacity marks a request rejected purely for capacity reasons; it
// maps to 503 at classify, distinct from every domain.Err* kind.
type errOverCapacity struct{}

func (errOverCapacity) Error() string { return "engine at capacity" }

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func newRequestID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
