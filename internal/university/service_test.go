package university

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grantfed/internal/broker"
	"grantfed/internal/clock"
	"grantfed/internal/command"
	"grantfed/internal/message"
	"grantfed/internal/rpc"
	"grantfed/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const queue = "university_requests"

// memStore keeps the last snapshot in memory and fails saves on demand.
type memStore struct {
	mu       sync.Mutex
	snapshot []byte
	failing  bool
}

func (m *memStore) Save(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("disk full")
	}
	data, err := storage.Marshal(v)
	if err != nil {
		return err
	}
	m.snapshot = data
	return nil
}

func (m *memStore) Load(v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return false, nil
	}
	return true, storage.Unmarshal(m.snapshot, v)
}

func (m *memStore) setFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

func runExecutor(svc *Service) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Executor(command.Config{Queue: queue, Workers: 2, MaxRedeliveries: 1}).Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func startService(t *testing.T, b *broker.Broker, dir string) (*Service, context.CancelFunc) {
	t.Helper()

	store, err := storage.Open(dir, true)
	require.NoError(t, err)

	svc, err := New(b, clock.New(today, clock.Config{}), store)
	require.NoError(t, err)

	stopExecutor := runExecutor(svc)
	stop := func() {
		stopExecutor()
		_ = store.Close()
	}
	return svc, stop
}

func call(t *testing.T, b *broker.Broker, req *message.Request) *message.Response {
	t.Helper()
	caller := rpc.NewCaller(b, clock.New(today, clock.Config{}), 2*time.Second)
	resp, err := caller.Call(context.Background(), queue, req)
	require.NoError(t, err)
	return resp
}

func TestService_AccountLifecycleOverBroker(t *testing.T) {
	b := broker.New()
	defer b.Close()
	_, stop := startService(t, b, t.TempDir())
	defer stop()

	resp := call(t, b, &message.Request{
		Kind:         message.KindCreateAccount,
		ResearcherID: "Researcher-1",
		ProjectID:    "P1",
		Title:        "Quantum",
		Amount:       300,
		EndDate:      today.AddMonths(6),
	})
	require.Equal(t, message.StatusSucceeded, resp.Status, resp.Message)
	assert.Equal(t, message.KindCreateAccount, resp.Action)

	resp = call(t, b, &message.Request{Kind: message.KindWithdraw, Researcher: "Researcher-1", Amount: 500})
	assert.Equal(t, message.StatusFailed, resp.Status)

	resp = call(t, b, &message.Request{Kind: message.KindGetDetails, Researcher: "Researcher-1"})
	require.Equal(t, message.StatusSucceeded, resp.Status)
	assert.Equal(t, int64(300), resp.Details.Budget)

	resp = call(t, b, &message.Request{Kind: "teleport", Researcher: "Researcher-1"})
	assert.Equal(t, "unknown request kind 'teleport'", resp.Message)
}

func TestService_AddNotifiesTargetInbox(t *testing.T) {
	b := broker.New()
	defer b.Close()
	svc, stop := startService(t, b, t.TempDir())
	defer stop()

	svc.Ledger().CreateAccount("P1", "t", "d", "Researcher-1", 300, today.AddMonths(6))

	resp := call(t, b, &message.Request{Kind: message.KindAddResearcher, Researcher: "Researcher-1", TargetResearcher: "Researcher-2"})
	require.Equal(t, message.StatusSucceeded, resp.Status, resp.Message)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbox, err := b.Consume(ctx, "Researcher-2")
	require.NoError(t, err)

	select {
	case d := <-inbox:
		cmd, err := message.DecodeCommand(d.Body)
		require.NoError(t, err)
		assert.Equal(t, message.KindAddResearchAccount, cmd.Kind)
		assert.Equal(t, "P1", cmd.Account)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
}

func TestService_RestartReplaysRecordedResult(t *testing.T) {
	b := broker.New()
	defer b.Close()
	dir := t.TempDir()

	svc, stop := startService(t, b, dir)
	svc.Ledger().CreateAccount("P1", "t", "d", "Researcher-1", 300, today.AddMonths(6))

	req := message.Request{CorrelationID: "w-1", Kind: message.KindWithdraw, Researcher: "Researcher-1", Amount: 100}
	first := req
	resp := call(t, b, &first)
	require.Equal(t, message.StatusSucceeded, resp.Status, resp.Message)
	stop()

	restored, stop := startService(t, b, dir)
	defer stop()

	acc, ok := restored.Ledger().Account("P1")
	require.True(t, ok)
	assert.Equal(t, int64(200), acc.Budget)

	again := req
	replay := call(t, b, &again)
	assert.Equal(t, resp, replay)

	acc, _ = restored.Ledger().Account("P1")
	assert.Equal(t, int64(200), acc.Budget)
}

func TestService_FailedSaveRollsBackWithoutNotifying(t *testing.T) {
	b := broker.New()
	defer b.Close()

	store := &memStore{}
	svc, err := New(b, clock.New(today, clock.Config{}), store)
	require.NoError(t, err)
	svc.Ledger().CreateAccount("P1", "t", "d", "Researcher-1", 300, today.AddMonths(6))
	require.NoError(t, svc.Persist())

	stop := runExecutor(svc)
	defer stop()

	store.setFailing(true)
	resp := call(t, b, &message.Request{Kind: message.KindAddResearcher, Researcher: "Researcher-1", TargetResearcher: "Researcher-2"})
	assert.Equal(t, message.StatusFailed, resp.Status)
	assert.Equal(t, "service unavailable", resp.Message)

	acc, ok := svc.Ledger().Account("P1")
	require.True(t, ok)
	assert.Empty(t, acc.Members)
	assert.Equal(t, 0, b.Depth("Researcher-2"))

	resp = call(t, b, &message.Request{Kind: message.KindWithdraw, Researcher: "Researcher-1", Amount: 100})
	assert.Equal(t, message.StatusFailed, resp.Status)
	acc, _ = svc.Ledger().Account("P1")
	assert.Equal(t, int64(300), acc.Budget)
	assert.Empty(t, acc.Transactions)
	assert.Equal(t, 0, svc.Requests().Len())

	store.setFailing(false)
	resp = call(t, b, &message.Request{Kind: message.KindAddResearcher, Researcher: "Researcher-1", TargetResearcher: "Researcher-2"})
	require.Equal(t, message.StatusSucceeded, resp.Status, resp.Message)
	assert.Equal(t, 1, b.Depth("Researcher-2"))
}
