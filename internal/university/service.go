package university

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"grantfed/internal/broker"
	"grantfed/internal/command"
	"grantfed/internal/idempotency"
	"grantfed/internal/logging"
	"grantfed/internal/message"
	"grantfed/internal/types"
)

const ServiceName = "university"

// Store persists the service state.
type Store interface {
	Save(v any) error
	Load(v any) (bool, error)
}

type Clock interface {
	Now() types.Date
	ReconcileDate(peer types.Date) bool
}

type State struct {
	Accounts []*Account        `cbor:"accounts"`
	Requests idempotency.State `cbor:"requests"`
}

type Service struct {
	ledger   *Ledger
	requests *idempotency.Ledger
	clock    Clock
	channel  broker.Channel
	store    Store
	log      *slog.Logger
}

// New builds the service from the last snapshot in store, or empty when
// there is none.
func New(ch broker.Channel, clk Clock, store Store) (*Service, error) {
	s := &Service{
		ledger:   NewLedger(),
		requests: idempotency.New(),
		clock:    clk,
		channel:  ch,
		store:    store,
		log:      logging.For(ServiceName),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load replaces the in-memory state with the last snapshot, or with an
// empty state when nothing was saved yet.
func (s *Service) load() error {
	if s.store == nil {
		return nil
	}
	var st State
	ok, err := s.store.Load(&st)
	if err != nil {
		return fmt.Errorf("load university snapshot: %w", err)
	}
	s.ledger.Restore(st.Accounts)
	s.requests.Restore(st.Requests)
	if ok {
		s.log.Info("university state restored", "accounts", len(st.Accounts), "requests", len(st.Requests.Entries))
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
		Accounts: s.ledger.Snapshot(),
		Requests: s.requests.Snapshot(),
	})
}

// Rollback drops every change made since the last Persist.
func (s *Service) Rollback() error {
	return s.load()
}

// Committed tells a researcher about an account it gained or lost once the
// change is saved.
func (s *Service) Committed(ctx context.Context, req *message.Request, resp *message.Response) {
	if !resp.Status.Positive() {
		return
	}
	switch req.Kind {
	case message.KindAddResearcher:
		s.notify(ctx, req.TargetResearcher, message.KindAddResearchAccount, resp.Account)
	case message.KindRemoveResearcher:
		s.notify(ctx, req.TargetResearcher, message.KindRemoveResearchAccount, resp.Account)
	}
}

func (s *Service) Chain() *command.Chain {
	return command.NewChain(s.clock.Now).
		MustHandle(message.KindCheckEligibility, s.checkEligibility).
		MustHandle(message.KindCreateAccount, s.createAccount).
		MustHandle(message.KindWithdraw, s.withdraw).
		MustHandle(message.KindAddResearcher, s.addResearcher).
		MustHandle(message.KindRemoveResearcher, s.removeResearcher).
		MustHandle(message.KindGetDetails, s.details).
		MustHandle(message.KindListTransactions, s.transactions)
}

func (s *Service) Executor(cfg command.Config) *command.Executor {
	cfg.Service = ServiceName
	return command.NewExecutor(cfg, s.channel, s.Chain(), s.requests, s.clock, s)
}

func (s *Service) checkEligibility(_ context.Context, req *message.Request) (*message.Response, error) {
	return s.ledger.CheckEligibility(req.ProjectID, req.ResearcherID), nil
}

func (s *Service) createAccount(_ context.Context, req *message.Request) (*message.Response, error) {
	resp := s.ledger.CreateAccount(req.ProjectID, req.Title, req.Description, req.ResearcherID, req.Amount, req.EndDate)
	if resp.Status.Positive() {
		s.log.Info("research account created",
			"project", req.ProjectID,
			"lead", req.ResearcherID,
			"budget", req.Amount,
			"endDate", req.EndDate,
		)
	}
	return resp, nil
}

func (s *Service) withdraw(_ context.Context, req *message.Request) (*message.Response, error) {
	return s.ledger.Withdraw(req.Researcher, req.Amount, s.clock.Now()), nil
}

func (s *Service) addResearcher(_ context.Context, req *message.Request) (*message.Response, error) {
	return s.ledger.AddResearcher(req.Researcher, req.TargetResearcher, s.clock.Now()), nil
}

func (s *Service) removeResearcher(_ context.Context, req *message.Request) (*message.Response, error) {
	return s.ledger.RemoveResearcher(req.Researcher, req.TargetResearcher, s.clock.Now()), nil
}

func (s *Service) details(_ context.Context, req *message.Request) (*message.Response, error) {
	return s.ledger.Details(req.Researcher), nil
}

func (s *Service) transactions(_ context.Context, req *message.Request) (*message.Response, error) {
	return s.ledger.Transactions(req.Researcher), nil
}

// notify drops a command into the researcher's inbox telling it about an
// account it gained or lost access to.
func (s *Service) notify(ctx context.Context, researcher string, kind message.Kind, account string) {
	body, err := json.Marshal(&message.Command{Kind: kind, Account: account})
	if err != nil {
		s.log.Error("encode notification", "error", err)
		return
	}
	if _, err := s.channel.DeclareQueue(ctx, researcher); err != nil {
		s.log.Warn("notification not sent", "researcher", researcher, "error", err)
		return
	}
	if err := s.channel.Publish(ctx, researcher, broker.Message{Body: body}); err != nil {
		s.log.Warn("notification not sent", "researcher", researcher, "error", err)
		return
	}
	s.log.Debug("researcher notified", "researcher", researcher, "command", kind, "account", account)
}
