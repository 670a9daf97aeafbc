package models

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tracex/internal/shared"
)

// EventType identifies what kind of operation a TraceEvent observed
type EventType string

const (
	EventTypeFunctionCall EventType = "function_call"
	EventTypeAuditCall    EventType = "audit_call"
	EventTypeMLStep       EventType = "ml_step"
	EventTypeFileOpen     EventType = "file_open"
	EventTypeFileRead     EventType = "file_read"
	EventTypeFileWrite    EventType = "file_write"
	EventTypeFileClose    EventType = "file_close"
	EventTypeAPIRequest   EventType = "api_request"
)

// IsValid reports whether t is one of the known event types
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeFunctionCall, EventTypeAuditCall, EventTypeMLStep,
		EventTypeFileOpen, EventTypeFileRead, EventTypeFileWrite, EventTypeFileClose,
		EventTypeAPIRequest:
		return true
	}
	return false
}

// MetaKeyCorrelationID is present in every event's meta, null when unset
const MetaKeyCorrelationID = "correlation_id"

// TraceEvent is a single recorded observation of an operation
type TraceEvent struct {
	EventID      string    `json:"event_id"`
	EventType    EventType `json:"event_type"`
	FunctionName string    `json:"function_name"`
	Timestamp    float64   `json:"timestamp"` // start, fractional Unix seconds
	Duration     float64   `json:"duration"`  // seconds
	Meta         Meta      `json:"meta"`
}

// NewTraceEvent creates a TraceEvent with a fresh ID. The correlation id is
// taken from ctx at construction time and appended to meta; the remaining
// meta values are sanitized so the event always serializes.
func NewTraceEvent(ctx context.Context, eventType EventType, functionName string, start time.Time, duration time.Duration, meta Meta) TraceEvent {
	m := sanitizeMeta(meta)
	m.Delete(MetaKeyCorrelationID)
	if id, ok := shared.CorrelationID(ctx); ok {
		m.Set(MetaKeyCorrelationID, id)
	} else {
		m.Set(MetaKeyCorrelationID, nil)
	}

	return TraceEvent{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		FunctionName: functionName,
		Timestamp:    UnixSeconds(start),
		Duration:     duration.Seconds(),
		Meta:         m,
	}
}

// CorrelationID returns the correlation id recorded in meta, if any
func (e TraceEvent) CorrelationID() (string, bool) {
	v, _ := e.Meta.Get(MetaKeyCorrelationID)
	id, ok := v.(string)
	return id, ok && id != ""
}

// StartTime converts Timestamp back to a time.Time
func (e TraceEvent) StartTime() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// UnixSeconds returns t as fractional seconds since the Unix epoch
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
