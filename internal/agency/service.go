package agency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"grantfed/internal/broker"
	"grantfed/internal/command"
	"grantfed/internal/idempotency"
	"grantfed/internal/logging"
	"grantfed/internal/message"
	"grantfed/internal/types"
)

const ServiceName = "agency"

type Store interface {
	Save(v any) error
	Load(v any) (bool, error)
}

type Clock interface {
	Now() types.Date
	ReconcileDate(peer types.Date) bool
}

// Caller sends a request to a service queue and waits for its reply.
type Caller interface {
	Call(ctx context.Context, queue string, req *message.Request) (*message.Response, error)
}

type Config struct {
	InitialFunds    int64
	Policy          Policy
	UniversityQueue string
}

type State struct {
	Ledger   ledgerState       `cbor:"ledger"`
	Requests idempotency.State `cbor:"requests"`
}

var ErrNoExecutor = errors.New("agency executor not built")

type Service struct {
	cfg      Config
	ledger   *Ledger
	requests *idempotency.Ledger
	clock    Clock
	caller   Caller
	channel  broker.Channel
	store    Store
	exec     *command.Executor
	log      *slog.Logger

	// sagas run one at a time so two proposals cannot both pass the
	// funds check against the same balance
	sagas sync.Mutex
}

func New(cfg Config, ch broker.Channel, caller Caller, clk Clock, store Store) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		ledger:   NewLedger(cfg.InitialFunds),
		requests: idempotency.New(),
		clock:    clk,
		caller:   caller,
		channel:  ch,
		store:    store,
		log:      logging.For(ServiceName),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load replaces the in-memory state with the last snapshot, or with the
// initial funds when nothing was saved yet.
func (s *Service) load() error {
	if s.store == nil {
		return nil
	}
	st := State{Ledger: ledgerState{Funds: s.cfg.InitialFunds}}
	ok, err := s.store.Load(&st)
	if err != nil {
		return fmt.Errorf("load agency snapshot: %w", err)
	}
	s.ledger.restore(st.Ledger)
	s.requests.Restore(st.Requests)
	if ok {
		s.log.Info("agency state restored",
			"funds", st.Ledger.Funds,
			"history", len(st.Ledger.History),
			"pending", len(st.Ledger.Pending),
		)
	}
	return nil
}

func (s *Service) Ledger() *Ledger { return s.ledger }

func (s *Service) Requests() *idempotency.Ledger { return s.requests }

func (s *Service) Persist() error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(State{
		Ledger:   s.ledger.snapshot(),
		Requests: s.requests.Snapshot(),
	})
}

// Rollback drops every change made since the last Persist.
func (s *Service) Rollback() error {
	return s.load()
}

func (s *Service) Chain() *command.Chain {
	return command.NewChain(s.clock.Now).
		MustHandle(message.KindResearchProposal, s.submitProposal)
}

func (s *Service) Executor(cfg command.Config) *command.Executor {
	cfg.Service = ServiceName
	s.exec = command.NewExecutor(cfg, s.channel, s.Chain(), s.requests, s.clock, s)
	return s.exec
}

// Run settles pending grants once at start and then every interval until
// ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	s.ResumePending(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ResumePending(ctx)
		}
	}
}

// ResumePending asks the university again about every grant whose account
// creation went unanswered and commits the outcome. The proposal's answer
// is recorded under its correlation id, so a researcher retrying it gets
// the outcome instead of a second saga. It returns how many grants were
// settled.
func (s *Service) ResumePending(ctx context.Context) int {
	settled := 0
	for _, g := range s.ledger.Pending() {
		if ctx.Err() != nil {
			break
		}
		if err := s.resume(ctx, g); err != nil {
			s.log.Warn("pending grant not settled",
				"correlationId", g.Record.CorrelationID,
				"project", g.Record.ProjectID,
				"error", err,
			)
			continue
		}
		settled++
	}
	return settled
}

func (s *Service) resume(ctx context.Context, g PendingGrant) error {
	if s.exec == nil {
		return ErrNoExecutor
	}
	return s.exec.Apply(func() error {
		s.sagas.Lock()
		defer s.sagas.Unlock()

		id := g.Record.CorrelationID
		current, ok := s.ledger.PendingFor(id)
		if !ok {
			return nil
		}
		resp, err := s.createAccount(ctx, resumeSaga(id, s.log), current)
		if err != nil {
			return err
		}

		resp.Action = message.KindResearchProposal
		resp.Timestamp = s.clock.Now()
		body, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		if _, err := s.requests.Record(id, message.KindResearchProposal, body); err != nil &&
			!errors.Is(err, idempotency.ErrAlreadyRecorded) {
			return err
		}
		s.log.Info("pending grant settled", "correlationId", id, "status", resp.Status)
		return nil
	})
}

// submitProposal runs the proposal saga. Sub-requests to the university
// reuse the proposal's correlation id with a step suffix, so a proposal
// retried after a failure gets the university's recorded answers back
// instead of creating a second account.
func (s *Service) submitProposal(ctx context.Context, req *message.Request) (*message.Response, error) {
	s.sagas.Lock()
	defer s.sagas.Unlock()

	if g, ok := s.ledger.PendingFor(req.CorrelationID); ok {
		return s.createAccount(ctx, resumeSaga(req.CorrelationID, s.log), g)
	}

	sg := newSaga(req.CorrelationID, s.log)
	today := s.clock.Now()

	rec := Record{
		CorrelationID: req.CorrelationID,
		ProjectID:     req.ProjectID,
		Researcher:    req.ResearcherID,
		Title:         req.Title,
		Amount:        req.Amount,
		Date:          today,
	}

	sg.advance(EligibilityCheckSent)
	eligibility, err := s.caller.Call(ctx, s.cfg.UniversityQueue, &message.Request{
		CorrelationID: req.CorrelationID + "/eligibility",
		Kind:          message.KindCheckEligibility,
		ResearcherID:  req.ResearcherID,
		ProjectID:     req.ProjectID,
		Title:         req.Title,
		Description:   req.Description,
		Amount:        req.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("eligibility check for %s: %w", req.CorrelationID, err)
	}
	if eligibility.Status != message.StatusApproved {
		sg.advance(Ineligible)
		return s.reject(sg, rec, eligibility.Message)
	}
	sg.advance(Eligible)

	decision := s.ledger.Evaluate(s.cfg.Policy, req.Amount)
	sg.advance(BudgetEvaluated)
	if !decision.Approved {
		sg.advance(Rejected)
		return s.reject(sg, rec, decision.Reason)
	}

	rec.EndDate = today.AddMonths(s.cfg.Policy.GrantMonths)
	g := PendingGrant{Record: rec, Description: req.Description}
	if err := s.reserve(g); err != nil {
		return nil, err
	}
	sg.advance(AccountCreateSent)
	return s.createAccount(ctx, sg, g)
}

// reserve sets the grant's amount aside and saves it before the university
// is asked to open the account, so an account created without its answer
// reaching the agency is still settled later.
func (s *Service) reserve(g PendingGrant) error {
	if err := s.ledger.Reserve(g); err != nil {
		return err
	}
	if err := s.Persist(); err != nil {
		s.ledger.Release(g.Record.CorrelationID)
		return fmt.Errorf("save pending grant %s: %w", g.Record.CorrelationID, err)
	}
	return nil
}

// createAccount asks the university to open the grant's account and commits
// the grant with the answer.
func (s *Service) createAccount(ctx context.Context, sg *saga, g PendingGrant) (*message.Response, error) {
	rec := g.Record
	created, err := s.caller.Call(ctx, s.cfg.UniversityQueue, &message.Request{
		CorrelationID: rec.CorrelationID + "/create-account",
		Kind:          message.KindCreateAccount,
		ResearcherID:  rec.Researcher,
		ProjectID:     rec.ProjectID,
		Title:         rec.Title,
		Description:   g.Description,
		Amount:        rec.Amount,
		EndDate:       rec.EndDate,
	})
	if err != nil {
		return nil, fmt.Errorf("create account for %s: %w", rec.CorrelationID, err)
	}
	if !created.Status.Positive() {
		sg.advance(Rejected)
		rec.EndDate = types.Date{}
		return s.reject(sg, rec, "account creation failed: "+created.Message)
	}
	sg.advance(Confirmed)

	rec.Status = message.StatusApproved
	committed, err := s.ledger.Commit(rec)
	if err != nil {
		return nil, err
	}
	sg.advance(Responded)

	s.log.Info("proposal approved",
		"correlationId", rec.CorrelationID,
		"project", rec.ProjectID,
		"researcher", rec.Researcher,
		"amount", rec.Amount,
		"transaction", committed.Transaction,
		"funds", s.ledger.Funds(),
	)

	resp := message.Reply(message.StatusApproved,
		fmt.Sprintf("proposal approved, account '%s' open until %s", rec.ProjectID, rec.EndDate))
	resp.Account = rec.ProjectID
	return resp, nil
}

func (s *Service) reject(sg *saga, rec Record, reason string) (*message.Response, error) {
	rec.Status = message.StatusRejected
	rec.Reason = reason
	if _, err := s.ledger.Commit(rec); err != nil {
		return nil, err
	}
	sg.advance(Responded)

	s.log.Info("proposal rejected",
		"correlationId", rec.CorrelationID,
		"project", rec.ProjectID,
		"researcher", rec.Researcher,
		"amount", rec.Amount,
		"reason", reason,
	)
	return message.Rejected("%s", reason), nil
}
