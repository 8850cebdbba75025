package message

import (
	"encoding/json"
	"testing"
	"time"

	"grantfed/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Positive(t *testing.T) {
	assert.True(t, StatusSucceeded.Positive())
	assert.True(t, StatusApproved.Positive())
	assert.False(t, StatusFailed.Positive())
	assert.False(t, StatusRejected.Positive())
}

func TestRequest_WireForm(t *testing.T) {
	req := &Request{
		CorrelationID: "c1",
		Kind:          KindWithdraw,
		ReplyTo:       "amq.gen-1",
		Timestamp:     types.Date{Year: 2026, Month: time.October, Day: 17},
		Researcher:    "Researcher-1",
		Amount:        500,
	}

	body, err := json.Marshal(req)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "withdraw", wire["requestKind"])
	assert.Equal(t, "17-10-2026", wire["timestamp"])
	assert.Equal(t, "Researcher-1", wire["researcher"])
	assert.NotContains(t, wire, "projectId")

	back, err := DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, req, back)
}

func TestFailedAndRejectedFormat(t *testing.T) {
	resp := Failed("insufficient budget (requested %d, available %d)", 500, 300)
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, "insufficient budget (requested 500, available 300)", resp.Message)

	assert.Equal(t, StatusRejected, Rejected("no").Status)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := DecodeRequest([]byte("{"))
	require.Error(t, err)
	_, err = DecodeResponse([]byte("nope"))
	require.Error(t, err)
	_, err = DecodeCommand([]byte(`{"command": 5}`))
	require.Error(t, err)
}
