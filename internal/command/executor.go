package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"grantfed/internal/broker"
	"grantfed/internal/idempotency"
	"grantfed/internal/logging"
	"grantfed/internal/message"
	"grantfed/internal/metrics"
	"grantfed/internal/rpc"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Persister saves the owning service's state, ledger included. Rollback
// puts the in-memory state back to what the last successful Persist wrote.
type Persister interface {
	Persist() error
	Rollback() error
}

// Committer is implemented by services whose handlers have effects outside
// their own state. Committed runs once the result is durable and before the
// reply is sent; it never runs for a replayed result.
type Committer interface {
	Committed(ctx context.Context, req *message.Request, resp *message.Response)
}

var (
	ErrNotRunning = errors.New("executor not running")
	ErrStateLost  = errors.New("service state could not be restored")
)

type Config struct {
	Service         string
	Queue           string
	Workers         int
	MaxRedeliveries int
}

// Executor consumes a service queue with a pool of workers. Every request
// is answered at most once per correlation id: the first result is
// recorded and persisted before it is sent, and any later delivery with
// the same id is answered with the recorded bytes.
type Executor struct {
	cfg       Config
	channel   broker.Channel
	chain     *Chain
	ledger    *idempotency.Ledger
	clock     rpc.Clock
	persister Persister
	committer Committer
	log       *slog.Logger

	// commit serializes dispatch, record and persist so a snapshot never
	// holds a mutation whose ledger entry is missing.
	commit sync.Mutex
	flight singleflight.Group

	running atomic.Bool
	failed  atomic.Pointer[error]
}

type result struct {
	body     []byte
	replayed bool
}

func NewExecutor(cfg Config, ch broker.Channel, chain *Chain, ledger *idempotency.Ledger, clk rpc.Clock, p Persister) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	e := &Executor{
		cfg:       cfg,
		channel:   ch,
		chain:     chain,
		ledger:    ledger,
		clock:     clk,
		persister: p,
		log:       logging.For(cfg.Service),
	}
	if c, ok := p.(Committer); ok {
		e.committer = c
	}
	return e
}

// Ready reports whether the executor is consuming its queue. It fails once
// Run has returned or the service state was lost.
func (e *Executor) Ready() error {
	if err := e.Err(); err != nil {
		return err
	}
	if !e.running.Load() {
		return fmt.Errorf("%w: %s", ErrNotRunning, e.cfg.Queue)
	}
	return nil
}

// Err returns the fatal error that stopped the executor, if any.
func (e *Executor) Err() error {
	if p := e.failed.Load(); p != nil {
		return *p
	}
	return nil
}

func (e *Executor) fail(err error) {
	if e.failed.CompareAndSwap(nil, &err) {
		e.log.Error("executor failed", "queue", e.cfg.Queue, "error", err)
	}
}

// Run declares the queue and blocks until ctx is done or a worker fails
// to attach.
func (e *Executor) Run(ctx context.Context) error {
	if _, err := e.channel.DeclareQueue(ctx, e.cfg.Queue); err != nil {
		return fmt.Errorf("declare %s: %w", e.cfg.Queue, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error {
			return e.worker(ctx, i)
		})
	}

	e.running.Store(true)
	e.log.Info("executor started", "queue", e.cfg.Queue, "workers", e.cfg.Workers)
	err := g.Wait()
	e.running.Store(false)
	e.log.Info("executor stopped", "queue", e.cfg.Queue)
	return err
}

func (e *Executor) worker(ctx context.Context, id int) error {
	deliveries, err := e.channel.Consume(ctx, e.cfg.Queue)
	if err != nil {
		return fmt.Errorf("worker %d consume %s: %w", id, e.cfg.Queue, err)
	}
	for d := range deliveries {
		e.Handle(ctx, d)
		if err := e.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Handle processes one delivery and settles it with the broker.
func (e *Executor) Handle(ctx context.Context, d broker.Delivery) Outcome {
	metrics.RequestsInFlight.WithLabelValues(e.cfg.Service).Inc()
	defer metrics.RequestsInFlight.WithLabelValues(e.cfg.Service).Dec()

	if e.Err() != nil {
		e.requeue(ctx, d)
		return Requeued
	}

	req, err := e.decode(d)
	if err != nil {
		metrics.MalformedRequestsTotal.WithLabelValues(e.cfg.Service).Inc()
		e.log.Warn("dropping malformed request", "queue", d.Queue, "correlationId", d.CorrelationID, "error", err)
		e.ack(ctx, d)
		return Dropped
	}

	if e.clock != nil {
		e.clock.ReconcileDate(req.Timestamp)
	}

	v, err, _ := e.flight.Do(req.CorrelationID, func() (any, error) {
		return e.execute(ctx, req)
	})
	if err != nil {
		return e.retryOrAbandon(ctx, d, req, err)
	}

	res := v.(*result)
	if err := rpc.ReplyRaw(ctx, e.channel, req.ReplyTo, req.CorrelationID, res.body); err != nil {
		e.log.Warn("reply failed", "correlationId", req.CorrelationID, "replyTo", req.ReplyTo, "error", err)
	}
	e.ack(ctx, d)

	if res.replayed {
		metrics.DuplicateRequestsTotal.WithLabelValues(e.cfg.Service).Inc()
		e.log.Info("replayed recorded result", "kind", req.Kind, "correlationId", req.CorrelationID, "attempt", d.Attempt)
		return Replayed
	}
	return Completed
}

func (e *Executor) decode(d broker.Delivery) (*message.Request, error) {
	req, err := message.DecodeRequest(d.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = d.CorrelationID
	}
	if req.ReplyTo == "" {
		req.ReplyTo = d.ReplyTo
	}
	if req.CorrelationID == "" {
		return nil, fmt.Errorf("%w: missing correlation id", ErrMalformedRequest)
	}
	if req.Kind == "" {
		return nil, fmt.Errorf("%w: missing request kind", ErrMalformedRequest)
	}
	return req, nil
}

func (e *Executor) execute(ctx context.Context, req *message.Request) (*result, error) {
	if body, ok := e.ledger.Prior(req.CorrelationID); ok {
		return &result{body: body, replayed: true}, nil
	}

	e.commit.Lock()
	defer e.commit.Unlock()

	if body, ok := e.ledger.Prior(req.CorrelationID); ok {
		return &result{body: body, replayed: true}, nil
	}

	start := time.Now()
	resp, err := e.chain.Dispatch(ctx, req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(e.cfg.Service, string(req.Kind), "error").Inc()
		return nil, err
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	if _, err := e.ledger.Record(req.CorrelationID, req.Kind, body); err != nil {
		if errors.Is(err, idempotency.ErrAlreadyRecorded) {
			if prior, ok := e.ledger.Prior(req.CorrelationID); ok {
				return &result{body: prior, replayed: true}, nil
			}
		}
		return nil, err
	}
	if err := e.persist(req.CorrelationID); err != nil {
		return nil, err
	}
	if e.committer != nil {
		e.committer.Committed(ctx, req, resp)
	}

	metrics.RequestsTotal.WithLabelValues(e.cfg.Service, string(req.Kind), string(resp.Status)).Inc()
	metrics.RequestDuration.WithLabelValues(e.cfg.Service, string(req.Kind)).Observe(time.Since(start).Seconds())
	e.log.Debug("request handled",
		"kind", req.Kind,
		"correlationId", req.CorrelationID,
		"status", resp.Status,
		"message", resp.Message,
	)
	return &result{body: body}, nil
}

// Apply runs a state change outside of any request, serialized with request
// execution, and saves it. A change that cannot be saved is rolled back.
func (e *Executor) Apply(fn func() error) error {
	if err := e.Err(); err != nil {
		return err
	}

	e.commit.Lock()
	defer e.commit.Unlock()

	if err := fn(); err != nil {
		return err
	}
	return e.persist("")
}

// persist saves the service state after a result was recorded. When the
// save fails the record is forgotten and the state rolled back, so a retry
// executes the request again instead of replaying a result that was never
// saved. If the rollback fails as well the executor stops.
func (e *Executor) persist(correlationID string) error {
	if e.persister == nil {
		return nil
	}
	err := e.persister.Persist()
	if err == nil {
		return nil
	}

	e.log.Error("persist failed, rolling back", "correlationId", correlationID, "error", err)
	if correlationID != "" {
		e.ledger.Forget(correlationID)
	}
	if rbErr := e.persister.Rollback(); rbErr != nil {
		e.fail(fmt.Errorf("%w: %v", ErrStateLost, rbErr))
		return errors.Join(fmt.Errorf("persist: %w", err), e.Err())
	}
	return fmt.Errorf("persist: %w", err)
}

func (e *Executor) retryOrAbandon(ctx context.Context, d broker.Delivery, req *message.Request, cause error) Outcome {
	// a stopped executor leaves the request for whoever consumes the queue next
	if e.Err() != nil || d.Attempt <= e.cfg.MaxRedeliveries {
		e.log.Warn("request failed, requeueing",
			"kind", req.Kind,
			"correlationId", req.CorrelationID,
			"attempt", d.Attempt,
			"error", cause,
		)
		e.requeue(ctx, d)
		return Requeued
	}

	e.log.Error("request failed, giving up",
		"kind", req.Kind,
		"correlationId", req.CorrelationID,
		"attempt", d.Attempt,
		"error", cause,
	)
	resp := message.Failed("service unavailable")
	resp.Action = req.Kind
	if e.clock != nil {
		resp.Timestamp = e.clock.Now()
	}
	if err := rpc.Reply(ctx, e.channel, req.ReplyTo, req.CorrelationID, resp); err != nil {
		e.log.Warn("reply failed", "correlationId", req.CorrelationID, "error", err)
	}
	e.ack(ctx, d)
	return Abandoned
}

func (e *Executor) requeue(ctx context.Context, d broker.Delivery) {
	if err := e.channel.Nack(ctx, d.Tag, true); err != nil {
		e.log.Warn("nack failed", "tag", d.Tag, "error", err)
	}
}

func (e *Executor) ack(ctx context.Context, d broker.Delivery) {
	if err := e.channel.Ack(ctx, d.Tag); err != nil {
		e.log.Warn("ack failed", "tag", d.Tag, "error", err)
	}
}
