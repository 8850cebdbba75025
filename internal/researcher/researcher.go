// Package researcher runs one researcher identity: it drains the
// researcher's inbox and turns each command into a request to the funding
// agency or the university.
package researcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"grantfed/internal/broker"
	"grantfed/internal/logging"
	"grantfed/internal/message"
	"grantfed/internal/types"
)

const namePrefix = "Researcher-"

// Name returns the identity, and inbox queue, of researcher id.
func Name(id string) string {
	return namePrefix + id
}

type Caller interface {
	Call(ctx context.Context, queue string, req *message.Request) (*message.Response, error)
}

type Clock interface {
	Now() types.Date
}

type Config struct {
	ID              string
	AgencyQueue     string
	UniversityQueue string
}

type Researcher struct {
	name    string
	cfg     Config
	channel broker.Channel
	caller  Caller
	clock   Clock
	log     *slog.Logger

	mu      sync.Mutex
	account string
}

func New(cfg Config, ch broker.Channel, caller Caller, clk Clock) *Researcher {
	name := Name(cfg.ID)
	return &Researcher{
		name:    name,
		cfg:     cfg,
		channel: ch,
		caller:  caller,
		clock:   clk,
		log:     logging.For("researcher").With("researcher", name),
	}
}

func (r *Researcher) Name() string { return r.name }

// Account returns the project the researcher currently has access to, or
// "" when it has none.
func (r *Researcher) Account() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account
}

func (r *Researcher) setAccount(project string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.account = project
}

func (r *Researcher) dropAccount(project string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account == project {
		r.account = ""
	}
}

// Run consumes the inbox one command at a time until ctx is done or an
// exit command arrives. The command in progress always completes first.
func (r *Researcher) Run(ctx context.Context) error {
	if _, err := r.channel.DeclareQueue(ctx, r.name); err != nil {
		return fmt.Errorf("declare %s: %w", r.name, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries, err := r.channel.Consume(ctx, r.name)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.name, err)
	}

	r.log.Info("researcher started")
	defer r.log.Info("researcher stopped")

	for d := range deliveries {
		if r.deliver(ctx, d) {
			return nil
		}
	}
	return nil
}

// deliver handles one inbox delivery and reports whether the loop should
// stop.
func (r *Researcher) deliver(ctx context.Context, d broker.Delivery) bool {
	cmd, err := message.DecodeCommand(d.Body)
	if err != nil {
		r.log.Warn("dropping malformed command", "error", err)
		r.ack(ctx, d)
		return false
	}

	_, err = r.Handle(ctx, d.CorrelationID, cmd)
	if ctx.Err() != nil {
		// left unsettled so the broker hands it out again
		return true
	}
	if err != nil {
		r.log.Error("command failed", "command", cmd.Kind, "error", err)
	}
	r.ack(ctx, d)
	return cmd.Kind == message.KindExit
}

func (r *Researcher) ack(ctx context.Context, d broker.Delivery) {
	if err := r.channel.Ack(ctx, d.Tag); err != nil {
		r.log.Warn("ack failed", "tag", d.Tag, "error", err)
	}
}

// Handle executes cmd. Commands that reach a service return its response;
// local commands and notifications return nil. A non-empty correlationID
// is reused for the outgoing request so a redelivered command is answered
// from the service's record.
func (r *Researcher) Handle(ctx context.Context, correlationID string, cmd *message.Command) (*message.Response, error) {
	switch cmd.Kind {
	case message.KindResearchProposal:
		resp, err := r.call(ctx, r.cfg.AgencyQueue, &message.Request{
			CorrelationID: correlationID,
			Kind:          message.KindResearchProposal,
			ResearcherID:  r.name,
			ProjectID:     cmd.ProjectID,
			Title:         cmd.Title,
			Description:   cmd.Description,
			Amount:        cmd.Amount,
		})
		if err == nil && resp.Status == message.StatusApproved {
			r.setAccount(resp.Account)
		}
		return resp, err

	case message.KindWithdraw:
		return r.call(ctx, r.cfg.UniversityQueue, &message.Request{
			CorrelationID: correlationID,
			Kind:          message.KindWithdraw,
			Researcher:    r.name,
			Amount:        cmd.Amount,
		})

	case message.KindAddResearcher, message.KindRemoveResearcher:
		return r.call(ctx, r.cfg.UniversityQueue, &message.Request{
			CorrelationID:    correlationID,
			Kind:             cmd.Kind,
			Researcher:       r.name,
			TargetResearcher: cmd.Researcher,
		})

	case message.KindGetDetails, message.KindListTransactions:
		return r.call(ctx, r.cfg.UniversityQueue, &message.Request{
			CorrelationID: correlationID,
			Kind:          cmd.Kind,
			Researcher:    r.name,
		})

	case message.KindAddResearchAccount:
		r.setAccount(cmd.Account)
		r.log.Info("granted access to research account", "account", cmd.Account)
		return nil, nil

	case message.KindRemoveResearchAccount:
		r.dropAccount(cmd.Account)
		r.log.Info("lost access to research account", "account", cmd.Account)
		return nil, nil

	case message.KindTime:
		r.log.Info("current date", "date", r.clock.Now())
		return nil, nil

	case message.KindExit:
		r.log.Info("exit requested")
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}
}

func (r *Researcher) call(ctx context.Context, queue string, req *message.Request) (*message.Response, error) {
	resp, err := r.caller.Call(ctx, queue, req)
	if err != nil {
		return nil, fmt.Errorf("%s to %s: %w", req.Kind, queue, err)
	}

	r.log.Info("response received",
		"action", req.Kind,
		"status", resp.Status,
		"message", resp.Message,
		"correlationId", req.CorrelationID,
	)
	if resp.Details != nil {
		r.log.Info("account details",
			"project", resp.Details.ProjectID,
			"title", resp.Details.Title,
			"lead", resp.Details.LeadResearcher,
			"members", resp.Details.Members,
			"budget", resp.Details.Budget,
			"endDate", resp.Details.EndDate,
		)
	}
	for _, tx := range resp.Transactions {
		r.log.Info("transaction",
			"id", tx.ID,
			"researcher", tx.Researcher,
			"amount", tx.Amount,
			"date", tx.Date,
			"status", tx.Status,
			"balance", tx.Balance,
		)
	}
	return resp, nil
}
