// Package eventstore is the append-only journal of settlement events,
// line-delimited JSON on disk. One envelope per line, stamped with the global
// sequence at commit time.
package eventstore

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/nathanyu/forward-settlement/internal/domain"
)

// StoredEvent pairs a journaled event with its committed sequence number.
type StoredEvent struct {
	Event domain.Event
	Seq   uint64
}

// EventStore provides append-only storage for settlement events.
type EventStore struct {
	filePath string
	file     *os.File
	mu       sync.Mutex
}

// NewEventStore opens (or creates) the journal at the given path.
func NewEventStore(filePath string) (*EventStore, error) {
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store file: %w", err)
	}

	return &EventStore{
		filePath: filePath,
		file:     file,
	}, nil
}

// Append writes one stamped event to the journal.
func (s *EventStore) Append(event domain.Event, seq uint64) error {
	return s.AppendBatch([]StoredEvent{{Event: event, Seq: seq}})
}

// AppendBatch writes a batch of stamped events, syncing once at the end.
func (s *EventStore) AppendBatch(batch []StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, se := range batch {
		data, err := domain.SerializeEvent(se.Event, se.Seq)
		if err != nil {
			return fmt.Errorf("failed to serialize event: %w", err)
		}

		// Newline-delimited JSON.
		data = append(data, '\n')

		if _, err := s.file.Write(data); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync event store: %w", err)
	}

	return nil
}

// LoadAll reads the whole journal in commit order.
func (s *EventStore) LoadAll() ([]StoredEvent, error) {
	file, err := os.Open(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []StoredEvent{}, nil
		}
		return nil, fmt.Errorf("failed to open event store for reading: %w", err)
	}
	defer file.Close()

	var events []StoredEvent
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, seq, err := domain.DeserializeEvent(line)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize event at line %d: %w", lineNum, err)
		}

		events = append(events, StoredEvent{Event: event, Seq: seq})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading event store: %w", err)
	}

	return events, nil
}

// LastSeq returns the highest committed sequence in the journal.
func (s *EventStore) LastSeq() (uint64, error) {
	events, err := s.LoadAll()
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, se := range events {
		if se.Seq > last {
			last = se.Seq
		}
	}
	return last, nil
}

// Close closes the journal file.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Clear truncates the journal (for testing purposes).
func (s *EventStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		s.file.Close()
	}

	file, err := os.OpenFile(s.filePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to clear event store: %w", err)
	}

	s.file = file
	return nil
}
