package agency

import (
	"testing"

	"grantfed/internal/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var policy = Policy{MinGrant: 200000, MaxGrant: 500000, GrantMonths: 6}

func TestPolicy_Evaluate(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		funds  int64
		want   Decision
	}{
		{"inside band", 250000, 1000000, Decision{Approved: true}},
		{"lower bound", 200000, 1000000, Decision{Approved: true}},
		{"upper bound", 500000, 1000000, Decision{Approved: true}},
		{"below band", 150000, 1000000, Decision{Reason: "amount out of policy band"}},
		{"above band", 600000, 1000000, Decision{Reason: "amount out of policy band"}},
		{"funds checked first", 600000, 300000, Decision{Reason: "insufficient funds (requested 600000, available 300000)"}},
		{"in band but broke", 250000, 100000, Decision{Reason: "insufficient funds (requested 250000, available 100000)"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, policy.Evaluate(tc.amount, tc.funds))
		})
	}
}

func TestLedger_CommitDeductsOnlyApprovals(t *testing.T) {
	l := NewLedger(1000000)

	rec, err := l.Commit(Record{CorrelationID: "a", Amount: 250000, Status: message.StatusApproved})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Transaction)

	rec, err = l.Commit(Record{CorrelationID: "b", Amount: 150000, Status: message.StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Transaction)

	assert.Equal(t, int64(750000), l.Funds())
	assert.Len(t, l.History(), 2)
}

func TestLedger_CommitNeverOverdraws(t *testing.T) {
	l := NewLedger(100)

	_, err := l.Commit(Record{Amount: 101, Status: message.StatusApproved})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(100), l.Funds())
	assert.Empty(t, l.History())
}

func TestLedger_SnapshotRestore(t *testing.T) {
	l := NewLedger(1000000)
	_, err := l.Commit(Record{CorrelationID: "a", Amount: 300000, Status: message.StatusApproved})
	require.NoError(t, err)

	restored := NewLedger(0)
	restored.restore(l.snapshot())

	assert.Equal(t, int64(700000), restored.Funds())
	assert.Equal(t, l.History(), restored.History())

	rec, err := restored.Commit(Record{Status: message.StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Transaction)
}

func TestLedger_ReservationHoldsFundsUntilCommit(t *testing.T) {
	l := NewLedger(600000)
	grant := PendingGrant{Record: Record{CorrelationID: "a", Amount: 250000}}

	require.NoError(t, l.Reserve(grant))
	require.Error(t, l.Reserve(grant))
	assert.Equal(t, int64(600000), l.Funds())
	assert.Equal(t, int64(350000), l.Available())
	assert.False(t, l.Evaluate(policy, 400000).Approved)

	require.ErrorIs(t, l.Reserve(PendingGrant{Record: Record{CorrelationID: "b", Amount: 400000}}), ErrInsufficientFunds)

	rec := grant.Record
	rec.Status = message.StatusApproved
	_, err := l.Commit(rec)
	require.NoError(t, err)
	assert.Empty(t, l.Pending())
	assert.Equal(t, int64(350000), l.Funds())
	assert.Equal(t, int64(350000), l.Available())
}

func TestLedger_RejectedCommitReleasesReservation(t *testing.T) {
	l := NewLedger(600000)
	require.NoError(t, l.Reserve(PendingGrant{Record: Record{CorrelationID: "a", Amount: 250000}}))

	_, err := l.Commit(Record{CorrelationID: "a", Amount: 250000, Status: message.StatusRejected})
	require.NoError(t, err)
	assert.Empty(t, l.Pending())
	assert.Equal(t, int64(600000), l.Available())

	require.NoError(t, l.Reserve(PendingGrant{Record: Record{CorrelationID: "b", Amount: 100}}))
	l.Release("b")
	_, ok := l.PendingFor("b")
	assert.False(t, ok)
}
