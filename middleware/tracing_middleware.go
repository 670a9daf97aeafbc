package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tracex/internal/shared"
	"github.com/upb/tracex/models"
	"github.com/upb/tracex/services/store"
)

// CorrelationIDHeader carries the correlation id in requests and responses
const CorrelationIDHeader = "X-Correlation-ID"

// TracingMiddleware records an api_request event for every request it serves
type TracingMiddleware struct {
	recorder store.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewTracingMiddleware creates a TracingMiddleware. A nil recorder records
// into store.Default.
func NewTracingMiddleware(rec store.Recorder, logger *zap.Logger) *TracingMiddleware {
	if rec == nil {
		rec = store.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TracingMiddleware{recorder: rec, logger: logger, now: time.Now}
}

// Handler times next and records the request once next returns. The
// correlation id is taken from the X-Correlation-ID header, then the chi
// request id, and is echoed in the response.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := m.now()
		ctx := r.Context()

		requestID := chimw.GetReqID(ctx)
		if requestID != "" {
			ctx = shared.WithRequestID(ctx, requestID)
		}
		correlationID := r.Header.Get(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = requestID
		}
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		ctx = shared.WithCorrelationID(ctx, correlationID)
		w.Header().Set(CorrelationIDHeader, correlationID)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		meta := models.NewMeta(
			"method", r.Method,
			"url", requestURL(r),
			"status_code", status,
		)
		ev := models.NewTraceEvent(ctx, models.EventTypeAPIRequest, "HTTP "+r.URL.Path, start, m.now().Sub(start), meta)
		m.recorder.Record(ev)

		m.logger.Debug("request traced",
			zap.String("event_id", ev.EventID),
			zap.String("correlation_id", correlationID),
			zap.Int("status_code", status))
	})
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
