package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/upb/tracex/internal/observability"
	"github.com/upb/tracex/middleware"
	"github.com/upb/tracex/services"
	"github.com/upb/tracex/services/audit"
	"github.com/upb/tracex/services/store"
	"github.com/upb/tracex/utils"
)

// ClearedMessage is returned after DELETE /traces
const ClearedMessage = "All trace events cleared."

const writeWait = 10 * time.Second

// TraceStore is the part of the event store the dashboard uses
type TraceStore interface {
	store.Reader
	Clear()
}

// VerifyResponse reports whether an audit event's signature matches its payload
type VerifyResponse struct {
	EventID string `json:"event_id"`
	Valid   bool   `json:"valid"`
}

// TraceHandler serves the trace dashboard API
type TraceHandler struct {
	store        TraceStore
	signer       *audit.Signer
	pollInterval time.Duration
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// NewTraceHandler creates a TraceHandler. Stream clients receive a snapshot
// every pollInterval. WebSocket origins are checked against allowedOrigins,
// where "*" allows any origin.
func NewTraceHandler(st TraceStore, signer *audit.Signer, pollInterval time.Duration, allowedOrigins []string, logger *zap.Logger) *TraceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &TraceHandler{
		store:        st,
		signer:       signer,
		pollInterval: pollInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// HandleList handles GET /traces
func (h *TraceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteJSON(w, http.StatusOK, h.store.Snapshot()); err != nil {
		h.logger.Error("failed to write traces response", zap.Error(err))
	}
}

// HandleClear handles DELETE /traces
func (h *TraceHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	h.store.Clear()

	fields := []zap.Field{}
	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
		fields = append(fields, zap.String("subject", claims.Subject), zap.String("email", claims.Email))
	}
	observability.FromContext(h.logger, r.Context()).Info("trace events cleared via dashboard", fields...)

	if err := utils.WriteMessage(w, ClearedMessage); err != nil {
		h.logger.Error("failed to write clear response", zap.Error(err))
	}
}

// HandleExport handles GET /traces/export
func (h *TraceHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	data, err := h.store.Serialize()
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="traces.json"`)
	if err := utils.WriteRawJSON(w, http.StatusOK, data); err != nil {
		h.logger.Error("failed to write export response", zap.Error(err))
	}
}

// HandleVerify handles GET /traces/{id}/verify
func (h *TraceHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ev, err := h.store.Get(id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if h.signer == nil {
		HandleServiceError(w, services.ErrMissingSigningKey, h.logger)
		return
	}
	valid, err := h.signer.VerifyEvent(ev)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	observability.FromContext(h.logger, r.Context()).Debug("audit event verified",
		zap.String("event_id", id),
		zap.Bool("valid", valid))

	if err := utils.WriteJSON(w, http.StatusOK, VerifyResponse{EventID: id, Valid: valid}); err != nil {
		h.logger.Error("failed to write verify response", zap.Error(err))
	}
}

// HandleStream handles GET /ws/traces. It sends the full snapshot right away
// and then every poll interval until the client goes away or the request
// context ends.
func (h *TraceHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(h.logger, r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so close messages are processed
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	logger.Debug("trace stream opened")

	send := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(h.store.Snapshot())
	}
	if err := send(); err != nil {
		logger.Debug("trace stream closed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			logger.Debug("trace stream closed")
			return
		case <-ticker.C:
			if err := send(); err != nil {
				logger.Debug("trace stream closed", zap.Error(err))
				return
			}
		}
	}
}
