package idempotency

import (
	"fmt"
	"sync"
	"testing"

	"grantfed/internal/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_RecordAndReplay(t *testing.T) {
	l := New()

	assert.True(t, l.IsNew("c1"))

	seq, err := l.Record("c1", message.KindWithdraw, []byte(`{"status":"Succeeded"}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	assert.False(t, l.IsNew("c1"))
	prior, ok := l.Prior("c1")
	require.True(t, ok)
	assert.Equal(t, `{"status":"Succeeded"}`, string(prior))

	_, ok = l.Prior("c2")
	assert.False(t, ok)
}

func TestLedger_RecordTwiceKeepsFirst(t *testing.T) {
	l := New()

	_, err := l.Record("c1", message.KindWithdraw, []byte("first"))
	require.NoError(t, err)

	_, err = l.Record("c1", message.KindWithdraw, []byte("second"))
	require.ErrorIs(t, err, ErrAlreadyRecorded)

	prior, _ := l.Prior("c1")
	assert.Equal(t, "first", string(prior))
}

func TestLedger_RecordCopiesResult(t *testing.T) {
	l := New()
	buf := []byte("abc")

	_, err := l.Record("c1", message.KindWithdraw, buf)
	require.NoError(t, err)
	buf[0] = 'x'

	prior, _ := l.Prior("c1")
	assert.Equal(t, "abc", string(prior))
}

func TestLedger_EvictedFromRingStillKnown(t *testing.T) {
	l := New()

	for i := 0; i < RecentCapacity*3; i++ {
		_, err := l.Record(fmt.Sprintf("c%d", i), message.KindGetDetails, []byte{byte(i)})
		require.NoError(t, err)
	}

	assert.False(t, l.IsNew("c0"))
	prior, ok := l.Prior("c0")
	require.True(t, ok)
	assert.Equal(t, []byte{0}, prior)
	assert.Equal(t, RecentCapacity*3, l.Len())
}

func TestLedger_SnapshotRestore(t *testing.T) {
	l := New()
	for i := 0; i < RecentCapacity+2; i++ {
		_, err := l.Record(fmt.Sprintf("c%d", i), message.KindWithdraw, []byte("r"))
		require.NoError(t, err)
	}

	st := l.Snapshot()
	assert.Len(t, st.Entries, RecentCapacity+2)
	assert.Len(t, st.Recent, RecentCapacity)
	assert.Equal(t, "c2", st.Recent[0])

	restored := New()
	restored.Restore(st)

	assert.False(t, restored.IsNew("c0"))
	assert.False(t, restored.IsNew("c11"))
	assert.Equal(t, st, restored.Snapshot())

	seq, err := restored.Record("next", message.KindWithdraw, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(RecentCapacity+3), seq)
}

func TestLedger_ConcurrentRecordOnlyOneWins(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Record("same", message.KindWithdraw, nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestLedger_ForgetAllowsRecordingAgain(t *testing.T) {
	l := New()
	_, err := l.Record("c1", message.KindWithdraw, []byte("first"))
	require.NoError(t, err)

	l.Forget("c1")
	assert.True(t, l.IsNew("c1"))
	assert.Equal(t, 0, l.Len())
	_, ok := l.Prior("c1")
	assert.False(t, ok)
	assert.Empty(t, l.Snapshot().Recent)

	_, err = l.Record("c1", message.KindWithdraw, []byte("second"))
	require.NoError(t, err)
	prior, ok := l.Prior("c1")
	require.True(t, ok)
	assert.Equal(t, "second", string(prior))

	l.Forget("unknown")
	assert.Equal(t, 1, l.Len())
}

func TestLedger_EmptyIDNeverSeen(t *testing.T) {
	l := New()
	assert.True(t, l.IsNew(""))
	_, err := l.Record("c1", message.KindWithdraw, nil)
	require.NoError(t, err)
	assert.True(t, l.IsNew(""))
}
