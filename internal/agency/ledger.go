// Package agency is the funding agency: it owns the grant funds and runs
// the proposal saga against the university.
package agency

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"grantfed/internal/message"
	"grantfed/internal/metrics"
	"grantfed/internal/types"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Policy decides which amounts the agency grants.
type Policy struct {
	MinGrant    int64
	MaxGrant    int64
	GrantMonths int
}

// Decision is the outcome of evaluating an amount against the policy.
type Decision struct {
	Approved bool
	Reason   string
}

// Evaluate applies the policy in order: available funds first, then the
// grant band.
func (p Policy) Evaluate(amount, funds int64) Decision {
	switch {
	case amount > funds:
		return Decision{Reason: fmt.Sprintf("insufficient funds (requested %d, available %d)", amount, funds)}
	case amount >= p.MinGrant && amount <= p.MaxGrant:
		return Decision{Approved: true}
	default:
		return Decision{Reason: "amount out of policy band"}
	}
}

// Record is one entry of the agency's history.
type Record struct {
	Transaction   uint64         `cbor:"transaction"`
	CorrelationID string         `cbor:"correlation_id"`
	ProjectID     string         `cbor:"project_id"`
	Researcher    string         `cbor:"researcher"`
	Title         string         `cbor:"title"`
	Amount        int64          `cbor:"amount"`
	Status        message.Status `cbor:"status"`
	Reason        string         `cbor:"reason,omitempty"`
	Date          types.Date     `cbor:"date"`
	EndDate       types.Date     `cbor:"end_date"`
}

// PendingGrant is an approved proposal whose account creation was sent to
// the university and not yet answered. Its amount stays reserved until the
// grant is committed either way.
type PendingGrant struct {
	Record      Record `cbor:"record"`
	Description string `cbor:"description"`
}

// Ledger holds the funds and the history of every decided proposal.
// Funds only ever go down.
type Ledger struct {
	mu      sync.Mutex
	funds   int64
	history []Record
	pending []PendingGrant
	counter uint64
}

func NewLedger(funds int64) *Ledger {
	metrics.AgencyFunds.Set(float64(funds))
	return &Ledger{funds: funds}
}

func (l *Ledger) Funds() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.funds
}

func (l *Ledger) History() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.history)
}

// Available is what is left of the funds once pending grants are set
// aside.
func (l *Ledger) Available() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked()
}

func (l *Ledger) Pending() []PendingGrant {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.pending)
}

// Evaluate checks an amount against the policy and the available funds
// without touching them.
func (l *Ledger) Evaluate(p Policy, amount int64) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return p.Evaluate(amount, l.availableLocked())
}

// Reserve sets a grant's amount aside until it is committed.
func (l *Ledger) Reserve(g PendingGrant) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := g.Record.CorrelationID
	if l.pendingIndexLocked(id) >= 0 {
		return fmt.Errorf("grant %s already pending", id)
	}
	if available := l.availableLocked(); g.Record.Amount > available {
		return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientFunds, g.Record.Amount, available)
	}
	l.pending = append(l.pending, g)
	metrics.AgencyPendingGrants.Set(float64(len(l.pending)))
	return nil
}

// Release drops a reservation without committing anything.
func (l *Ledger) Release(correlationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.pendingIndexLocked(correlationID); i >= 0 {
		l.pending = slices.Delete(l.pending, i, i+1)
		metrics.AgencyPendingGrants.Set(float64(len(l.pending)))
	}
}

// PendingFor returns the pending grant of a proposal, if there is one.
func (l *Ledger) PendingFor(correlationID string) (PendingGrant, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.pendingIndexLocked(correlationID); i >= 0 {
		return l.pending[i], true
	}
	return PendingGrant{}, false
}

// Commit stamps rec with the next transaction number and appends it. An
// approved record deducts its amount. A grant pending under the same
// correlation id is settled by the commit.
func (l *Ledger) Commit(rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.pendingIndexLocked(rec.CorrelationID)
	if rec.Status == message.StatusApproved {
		available := l.availableLocked()
		if i >= 0 {
			available += l.pending[i].Record.Amount
		}
		if rec.Amount > available {
			return Record{}, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientFunds, rec.Amount, available)
		}
		l.funds -= rec.Amount
		metrics.AgencyFunds.Set(float64(l.funds))
	}
	if i >= 0 {
		l.pending = slices.Delete(l.pending, i, i+1)
		metrics.AgencyPendingGrants.Set(float64(len(l.pending)))
	}

	l.counter++
	rec.Transaction = l.counter
	l.history = append(l.history, rec)
	return rec, nil
}

func (l *Ledger) availableLocked() int64 {
	available := l.funds
	for _, g := range l.pending {
		available -= g.Record.Amount
	}
	return available
}

func (l *Ledger) pendingIndexLocked(correlationID string) int {
	return slices.IndexFunc(l.pending, func(g PendingGrant) bool {
		return g.Record.CorrelationID == correlationID
	})
}

type ledgerState struct {
	Funds   int64          `cbor:"funds"`
	History []Record       `cbor:"history"`
	Pending []PendingGrant `cbor:"pending,omitempty"`
	Counter uint64         `cbor:"counter"`
}

func (l *Ledger) snapshot() ledgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledgerState{
		Funds:   l.funds,
		History: slices.Clone(l.history),
		Pending: slices.Clone(l.pending),
		Counter: l.counter,
	}
}

func (l *Ledger) restore(st ledgerState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funds = st.Funds
	l.history = slices.Clone(st.History)
	l.pending = slices.Clone(st.Pending)
	l.counter = st.Counter
	metrics.AgencyFunds.Set(float64(l.funds))
	metrics.AgencyPendingGrants.Set(float64(len(l.pending)))
}
