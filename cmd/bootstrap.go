package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"grantfed/internal/agency"
	"grantfed/internal/broker"
	"grantfed/internal/clock"
	"grantfed/internal/command"
	"grantfed/internal/configuration/properties"
	"grantfed/internal/console"
	"grantfed/internal/metrics"
	"grantfed/internal/researcher"
	"grantfed/internal/rpc"
	"grantfed/internal/storage"
	"grantfed/internal/transport"
	"grantfed/internal/types"
	"grantfed/internal/university"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

const (
	roleBroker     = "broker"
	roleAgency     = "agency"
	roleUniversity = "university"
	roleResearcher = "researcher"
	roleConsole    = "console"
	roleAll        = "all"
)

var roles = []string{roleBroker, roleAgency, roleUniversity, roleResearcher, roleConsole, roleAll}

type options struct {
	role        string
	researchers []string
	configDir   string
}

func (o options) validate() error {
	if !slices.Contains(roles, o.role) {
		return fmt.Errorf("unknown role %q", o.role)
	}
	if o.role == roleResearcher && len(o.researchers) == 0 {
		return fmt.Errorf("role %s needs at least one --id", roleResearcher)
	}
	return nil
}

func (o options) runs(role string) bool {
	return o.role == role || o.role == roleAll
}

type app struct {
	cfg     *properties.Config
	opts    options
	channel broker.Channel
	health  *metrics.Server

	// run in reverse order once every component has stopped
	closers []func()
}

func newApp(cfg *properties.Config, opts options) *app {
	return &app{cfg: cfg, opts: opts}
}

func (a *app) onClose(f func()) {
	a.closers = append(a.closers, f)
}

func (a *app) close() {
	for _, f := range slices.Backward(a.closers) {
		f()
	}
}

func (a *app) run(parent context.Context) error {
	defer a.close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if a.cfg.Metrics.Enabled {
		a.health = metrics.NewServer(a.cfg.Metrics.Address)
		a.health.Start()
		a.onClose(a.health.Stop)
	}

	if err := a.connect(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.start(ctx, g, cancel); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	slog.Info("ready", "role", a.opts.role)
	<-ctx.Done()
	return g.Wait()
}

func (a *app) start(ctx context.Context, g *errgroup.Group, cancel context.CancelFunc) error {
	if a.opts.runs(roleUniversity) {
		if err := a.startUniversity(ctx, g); err != nil {
			return err
		}
	}
	if a.opts.runs(roleAgency) {
		if err := a.startAgency(ctx, g); err != nil {
			return err
		}
	}
	if a.opts.runs(roleResearcher) {
		a.startResearchers(ctx, g, cancel)
	}
	if a.opts.runs(roleConsole) {
		a.startConsole(ctx, cancel)
	}
	return nil
}

// connect hosts the broker in this process for the broker and all roles
// and dials the configured broker otherwise.
func (a *app) connect() error {
	if a.opts.runs(roleBroker) {
		b := broker.New()
		srv := transport.NewServer(&a.cfg.Broker, b)
		if _, err := srv.Start(); err != nil {
			b.Close()
			return fmt.Errorf("start broker server: %w", err)
		}
		a.channel = b
		a.onClose(b.Close)
		a.onClose(func() { srv.Stop(5 * time.Second) })
		return nil
	}

	c, err := transport.Dial(a.cfg.Broker.Addr())
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", a.cfg.Broker.Addr(), err)
	}
	a.channel = c
	a.onClose(func() { _ = c.Close() })
	slog.Info("connected to broker", "addr", a.cfg.Broker.Addr())
	return nil
}

// newClock starts a logical clock at today's date that ticks until ctx is
// done.
// watch reports the executor on /health when the metrics server runs.
func (a *app) watch(name string, exec *command.Executor) {
	if a.health != nil {
		a.health.AddCheck(name, exec.Ready)
	}
}

func (a *app) newClock(ctx context.Context, g *errgroup.Group) *clock.Clock {
	clk := clock.New(types.Today(), clock.Config{
		MinTick: a.cfg.Clock.MinTickDuration(),
		MaxTick: a.cfg.Clock.MaxTickDuration(),
	})
	g.Go(func() error {
		clk.Run(ctx)
		return nil
	})
	return clk
}

func (a *app) openStore(dir string, noSync bool) (*storage.SnapshotStore, error) {
	store, err := storage.Open(dir, noSync)
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", dir, err)
	}
	a.onClose(func() {
		if err := store.Close(); err != nil {
			slog.Warn("close storage", "dir", dir, "error", err)
		}
	})
	return store, nil
}

func (a *app) startUniversity(ctx context.Context, g *errgroup.Group) error {
	cfg := a.cfg.University
	store, err := a.openStore(cfg.StorageDir, cfg.Wal.NoSync)
	if err != nil {
		return err
	}

	svc, err := university.New(a.channel, a.newClock(ctx, g), store)
	if err != nil {
		return err
	}

	exec := svc.Executor(command.Config{
		Queue:           cfg.Queue,
		Workers:         cfg.Workers,
		MaxRedeliveries: a.cfg.Broker.MaxRedeliveries,
	})
	a.watch(university.ServiceName, exec)
	g.Go(func() error { return exec.Run(ctx) })
	return nil
}

func (a *app) startAgency(ctx context.Context, g *errgroup.Group) error {
	cfg := a.cfg.Agency
	store, err := a.openStore(cfg.StorageDir, cfg.Wal.NoSync)
	if err != nil {
		return err
	}

	clk := a.newClock(ctx, g)
	svc, err := agency.New(agency.Config{
		InitialFunds: cfg.InitialFunds,
		Policy: agency.Policy{
			MinGrant:    cfg.MinGrant,
			MaxGrant:    cfg.MaxGrant,
			GrantMonths: cfg.GrantMonths,
		},
		UniversityQueue: a.cfg.University.Queue,
	}, a.channel, rpc.NewCaller(a.channel, clk, a.cfg.RPC.TimeoutDuration()), clk, store)
	if err != nil {
		return err
	}

	exec := svc.Executor(command.Config{
		Queue:           cfg.Queue,
		Workers:         cfg.Workers,
		MaxRedeliveries: a.cfg.Broker.MaxRedeliveries,
	})
	a.watch(agency.ServiceName, exec)
	g.Go(func() error { return exec.Run(ctx) })
	g.Go(func() error { return svc.Run(ctx, cfg.ResumeIntervalDuration()) })
	return nil
}

// startResearchers runs one researcher per id. In the researcher role the
// process ends once every researcher has exited.
func (a *app) startResearchers(ctx context.Context, g *errgroup.Group, cancel context.CancelFunc) {
	var wg sync.WaitGroup
	for _, id := range a.opts.researchers {
		clk := a.newClock(ctx, g)
		r := researcher.New(researcher.Config{
			ID:              id,
			AgencyQueue:     a.cfg.Agency.Queue,
			UniversityQueue: a.cfg.University.Queue,
		}, a.channel, rpc.NewCaller(a.channel, clk, a.cfg.RPC.TimeoutDuration()), clk)

		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return r.Run(ctx)
		})
	}

	if a.opts.role == roleResearcher {
		go func() {
			wg.Wait()
			cancel()
		}()
	}
}

// startConsole reads commands from stdin. The reader is left outside the
// errgroup since a blocked read cannot be interrupted; in the console role
// end of input stops the process.
func (a *app) startConsole(ctx context.Context, cancel context.CancelFunc) {
	prompt := ""
	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompt = "command> "
	}

	c := console.New(a.channel)
	go func() {
		if err := c.Run(ctx, os.Stdin, os.Stdout, prompt); err != nil {
			slog.Error("console stopped", "error", err)
		}
		if a.opts.role == roleConsole {
			cancel()
		}
	}()
}
