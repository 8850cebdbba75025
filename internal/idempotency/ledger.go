// Package idempotency remembers which requests a service has already
// answered, and with what, so redelivered requests are replayed instead of
// executed twice.
package idempotency

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"grantfed/internal/message"
)

// RecentCapacity is the size of the fast "recently seen" index.
const RecentCapacity = 10

var ErrAlreadyRecorded = errors.New("correlation id already recorded")

// Entry is the stored outcome of one processed request. Result holds the
// encoded response exactly as it was first sent.
type Entry struct {
	CorrelationID string       `cbor:"correlation_id"`
	Kind          message.Kind `cbor:"kind"`
	Result        []byte       `cbor:"result"`
	Sequence      uint64       `cbor:"sequence"`
}

// State is the persisted form of a Ledger.
type State struct {
	Entries  []Entry  `cbor:"entries"`
	Recent   []string `cbor:"recent"`
	Sequence uint64   `cbor:"sequence"`
}

// Ledger keeps every record for the lifetime of the service state. The
// ring holds the most recent ids and is checked first, since redeliveries
// almost always concern a request answered moments ago; an id that fell
// out of it is still found in the full map. The ring is persisted with the
// entries so that order survives a restart.
type Ledger struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	recent   [RecentCapacity]string
	next     int
	sequence uint64
}

func New() *Ledger {
	return &Ledger{entries: make(map[string]*Entry)}
}

func (l *Ledger) IsNew(correlationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.seenLocked(correlationID)
}

// Record stores the result for a correlation id. Recording the same id
// twice is refused so the first answer stays authoritative.
func (l *Ledger) Record(correlationID string, kind message.Kind, result []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seenLocked(correlationID) {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyRecorded, correlationID)
	}

	l.sequence++
	l.entries[correlationID] = &Entry{
		CorrelationID: correlationID,
		Kind:          kind,
		Result:        append([]byte(nil), result...),
		Sequence:      l.sequence,
	}
	l.remember(correlationID)
	return l.sequence, nil
}

// Prior returns the recorded result for a correlation id.
func (l *Ledger) Prior(correlationID string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[correlationID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.Result...), true
}

// Forget drops the record for a correlation id, as if it had never been
// made. It is used when the state holding the record failed to save.
func (l *Ledger) Forget(correlationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[correlationID]; !ok {
		return
	}
	delete(l.entries, correlationID)
	for i, id := range l.recent {
		if id == correlationID {
			l.recent[i] = ""
		}
	}
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := State{
		Entries:  make([]Entry, 0, len(l.entries)),
		Sequence: l.sequence,
	}
	for _, e := range l.entries {
		st.Entries = append(st.Entries, *e)
	}
	slices.SortFunc(st.Entries, func(a, b Entry) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	// oldest first, so Restore refills the ring in the same order
	for i := 0; i < RecentCapacity; i++ {
		if id := l.recent[(l.next+i)%RecentCapacity]; id != "" {
			st.Recent = append(st.Recent, id)
		}
	}
	return st
}

func (l *Ledger) Restore(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*Entry, len(st.Entries))
	for i := range st.Entries {
		e := st.Entries[i]
		l.entries[e.CorrelationID] = &e
	}
	l.recent = [RecentCapacity]string{}
	l.next = 0
	for _, id := range st.Recent {
		l.remember(id)
	}
	l.sequence = st.Sequence
}

func (l *Ledger) seenLocked(correlationID string) bool {
	if correlationID == "" {
		return false
	}
	if slices.Contains(l.recent[:], correlationID) {
		return true
	}
	_, ok := l.entries[correlationID]
	return ok
}

func (l *Ledger) remember(correlationID string) {
	l.recent[l.next] = correlationID
	l.next = (l.next + 1) % RecentCapacity
}
