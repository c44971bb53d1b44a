package streamhttp

import (
	"fmt"
	"sync"

	"github.com/mcpcore/go-mcp/internal/jsonrpc"
)

// EventStore supports the Streamable-HTTP transport's resumable SSE
// streams: every message written to an SSE stream is recorded under a
// stream id, and a reconnecting client's Last-Event-ID lets the transport
// replay everything it missed.
type EventStore interface {
	// StoreEvent records msg as the next event on streamID and returns the
	// event id to send on the wire.
	StoreEvent(streamID string, msg *jsonrpc.Message) (eventID string, err error)

	// ReplayEventsAfter replays, via send, every event recorded after
	// lastEventID, returning the stream id that event belonged to. An
	// unknown lastEventID is a no-op: it returns "", nil rather than an
	// error.
	ReplayEventsAfter(lastEventID string, send func(eventID string, msg *jsonrpc.Message) error) (streamID string, err error)
}

type storedEvent struct {
	id  string
	msg *jsonrpc.Message
}

// MemoryEventStore is an in-memory EventStore suitable for a single
// server process; it does not persist across restarts.
type MemoryEventStore struct {
	mu       sync.Mutex
	seq      uint64
	events   []storedEvent
	streamOf map[string]string // eventID -> streamID
}

// NewMemoryEventStore constructs an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{streamOf: make(map[string]string)}
}

func (s *MemoryEventStore) StoreEvent(streamID string, msg *jsonrpc.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := fmt.Sprintf("%s:%d", streamID, s.seq)
	s.events = append(s.events, storedEvent{id: id, msg: msg})
	s.streamOf[id] = streamID
	return id, nil
}

func (s *MemoryEventStore) ReplayEventsAfter(lastEventID string, send func(eventID string, msg *jsonrpc.Message) error) (string, error) {
	s.mu.Lock()
	streamID, known := s.streamOf[lastEventID]
	if !known {
		s.mu.Unlock()
		return "", nil
	}

	idx := -1
	for i, ev := range s.events {
		if ev.id == lastEventID {
			idx = i
			break
		}
	}
	// Snapshot the tail under the lock, then call send outside it so a slow
	// or blocking consumer can't stall concurrent StoreEvent calls.
	var tail []storedEvent
	if idx >= 0 {
		for _, ev := range s.events[idx+1:] {
			if s.streamOf[ev.id] == streamID {
				tail = append(tail, ev)
			}
		}
	}
	s.mu.Unlock()

	for _, ev := range tail {
		if err := send(ev.id, ev.msg); err != nil {
			return streamID, err
		}
	}
	return streamID, nil
}
