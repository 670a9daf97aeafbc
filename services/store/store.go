package store

import (
	"bytes"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/upb/tracex/models"
	"github.com/upb/tracex/services"
)

// Recorder is the single entry point for recording events
type Recorder interface {
	Record(ev models.TraceEvent)
}

// Reader is the read side used by the dashboard
type Reader interface {
	Snapshot() []models.TraceEvent
	Get(id string) (models.TraceEvent, error)
	Len() int
	Serialize() ([]byte, error)
}

type entry struct {
	id   string
	data []byte
}

// Store is an in-memory, append-only sequence of trace events. Each event is
// encoded when it is recorded, so callers can never mutate stored data.
type Store struct {
	mu      sync.Mutex
	entries []entry
	logger  *zap.Logger
}

// New creates an empty Store
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger}
}

// Record appends ev. Order is the order in which Record calls complete.
func (s *Store) Record(ev models.TraceEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		// Meta is sanitized when an event is built, so this only happens for
		// events assembled by hand.
		s.logger.Warn("event not encodable, sanitizing meta",
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
		ev.Meta = models.Sanitize(ev.Meta).(models.Meta)
		data, err = json.Marshal(ev)
		if err != nil {
			s.logger.Error("dropping unencodable event", zap.String("event_id", ev.EventID), zap.Error(err))
			return
		}
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry{id: ev.EventID, data: data})
	s.mu.Unlock()

	s.logger.Info("recording event",
		zap.String("event_id", ev.EventID),
		zap.String("event_type", string(ev.EventType)),
		zap.String("function_name", ev.FunctionName),
	)
}

// Snapshot returns fresh copies of every event in recording order
func (s *Store) Snapshot() []models.TraceEvent {
	s.mu.Lock()
	entries := make([]entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	events := make([]models.TraceEvent, 0, len(entries))
	for _, e := range entries {
		ev, err := decode(e.data)
		if err != nil {
			s.logger.Error("stored event failed to decode", zap.String("event_id", e.id), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events
}

// Get returns a copy of the event with the given id
func (s *Store) Get(id string) (models.TraceEvent, error) {
	s.mu.Lock()
	var data []byte
	for _, e := range s.entries {
		if e.id == id {
			data = e.data
			break
		}
	}
	s.mu.Unlock()

	if data == nil {
		return models.TraceEvent{}, services.NewDomainError(services.ErrorTypeNotFound, "trace event not found", nil).
			WithDetail("event_id", id)
	}
	ev, err := decode(data)
	if err != nil {
		return models.TraceEvent{}, services.WrapInternal("decode stored event", err)
	}
	return ev, nil
}

// Len returns the number of stored events
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear removes every event. Clearing an empty store is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = nil
	s.mu.Unlock()

	s.logger.Info("clearing all trace events", zap.Int("count", n))
}

// Serialize returns every event as a JSON array indented by two spaces
func (s *Store) Serialize() ([]byte, error) {
	s.mu.Lock()
	raw := make([]json.RawMessage, len(s.entries))
	for i, e := range s.entries {
		raw[i] = e.data
	}
	s.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(raw); err != nil {
		return nil, services.WrapInternal("serialize trace events", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decode(data []byte) (models.TraceEvent, error) {
	var ev models.TraceEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}

var (
	defaultMu    sync.Mutex
	defaultStore *Store
)

// Default returns the process-wide store, creating it on first use
func Default() *Store {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore == nil {
		defaultStore = New(nil)
	}
	return defaultStore
}

// SetDefault replaces the process-wide store
func SetDefault(s *Store) {
	defaultMu.Lock()
	defaultStore = s
	defaultMu.Unlock()
}

// ResetDefault installs a fresh, empty process-wide store
func ResetDefault() {
	SetDefault(New(nil))
}
