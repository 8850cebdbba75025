package agency

import (
	"log/slog"
	"slices"

	"grantfed/internal/metrics"
)

type SagaState int

const (
	Received SagaState = iota
	EligibilityCheckSent
	Eligible
	Ineligible
	BudgetEvaluated
	AccountCreateSent
	Confirmed
	Rejected
	Responded
)

func (s SagaState) String() string {
	switch s {
	case Received:
		return "RECEIVED"
	case EligibilityCheckSent:
		return "ELIGIBILITY_CHECK_SENT"
	case Eligible:
		return "ELIGIBLE"
	case Ineligible:
		return "INELIGIBLE"
	case BudgetEvaluated:
		return "BUDGET_EVALUATED"
	case AccountCreateSent:
		return "ACCOUNT_CREATE_SENT"
	case Confirmed:
		return "CONFIRMED"
	case Rejected:
		return "REJECTED"
	case Responded:
		return "RESPONDED"
	default:
		return "UNKNOWN"
	}
}

// transitions lists the states each state may move to.
var transitions = map[SagaState][]SagaState{
	Received:             {EligibilityCheckSent},
	EligibilityCheckSent: {Eligible, Ineligible},
	Eligible:             {BudgetEvaluated},
	Ineligible:           {Responded},
	BudgetEvaluated:      {AccountCreateSent, Rejected},
	AccountCreateSent:    {Confirmed, Rejected},
	Confirmed:            {Responded},
	Rejected:             {Responded},
}

// saga tracks one proposal through its states.
type saga struct {
	id    string
	state SagaState
	trail []SagaState
	log   *slog.Logger
}

func newSaga(id string, log *slog.Logger) *saga {
	return &saga{id: id, state: Received, trail: []SagaState{Received}, log: log}
}

// resumeSaga picks up a proposal whose account creation was already sent.
func resumeSaga(id string, log *slog.Logger) *saga {
	return &saga{id: id, state: AccountCreateSent, trail: []SagaState{AccountCreateSent}, log: log}
}

func (s *saga) advance(next SagaState) {
	if !slices.Contains(transitions[s.state], next) {
		// a wrong transition is a programming error in the saga steps
		panic("saga " + s.id + ": illegal transition " + s.state.String() + " -> " + next.String())
	}

	if next == Responded {
		metrics.SagaOutcomesTotal.WithLabelValues(s.state.String()).Inc()
	}
	s.log.Debug("saga transition", "correlationId", s.id, "from", s.state, "to", next)
	s.state = next
	s.trail = append(s.trail, next)
	if next == Responded {
		s.log.Debug("saga finished", "correlationId", s.id, "trail", s.trail)
	}
}
