package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"grantfed/internal/message"
	"grantfed/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = types.Date{Year: 2026, Month: time.October, Day: 17}

func fixedNow() types.Date { return today }

func reply(msg string) HandlerFunc {
	return func(context.Context, *message.Request) (*message.Response, error) {
		return message.Reply(message.StatusSucceeded, msg), nil
	}
}

func TestChain_RoutesByKind(t *testing.T) {
	c := NewChain(fixedNow).
		MustHandle(message.KindWithdraw, reply("withdraw")).
		MustHandle(message.KindGetDetails, reply("details"))

	resp, err := c.Dispatch(context.Background(), &message.Request{Kind: message.KindGetDetails})
	require.NoError(t, err)
	assert.Equal(t, "details", resp.Message)
	assert.Equal(t, message.KindGetDetails, resp.Action)
	assert.Equal(t, today, resp.Timestamp)
}

func TestChain_UnknownKind(t *testing.T) {
	c := NewChain(fixedNow).MustHandle(message.KindWithdraw, reply("withdraw"))

	resp, err := c.Dispatch(context.Background(), &message.Request{Kind: "teleport"})
	require.NoError(t, err)
	assert.Equal(t, message.StatusFailed, resp.Status)
	assert.Equal(t, "unknown request kind 'teleport'", resp.Message)
	assert.Equal(t, message.Kind("teleport"), resp.Action)
	assert.Equal(t, today, resp.Timestamp)
}

func TestChain_DuplicateRouteRefused(t *testing.T) {
	c := NewChain(fixedNow)
	require.NoError(t, c.Handle(message.KindWithdraw, reply("a")))

	err := c.Handle(message.KindWithdraw, reply("b"))
	require.ErrorIs(t, err, ErrDuplicateRoute)
	assert.Equal(t, []message.Kind{message.KindWithdraw}, c.Kinds())

	assert.Panics(t, func() { c.MustHandle(message.KindWithdraw, reply("c")) })
}

func TestChain_HandlerErrorPropagates(t *testing.T) {
	boom := errors.New("downstream unavailable")
	c := NewChain(fixedNow).MustHandle(message.KindResearchProposal,
		func(context.Context, *message.Request) (*message.Response, error) {
			return nil, boom
		})

	resp, err := c.Dispatch(context.Background(), &message.Request{Kind: message.KindResearchProposal})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, resp)
}

func TestChain_EveryKindClaimedOnce(t *testing.T) {
	kinds := []message.Kind{
		message.KindWithdraw,
		message.KindAddResearcher,
		message.KindRemoveResearcher,
		message.KindGetDetails,
		message.KindListTransactions,
	}
	c := NewChain(fixedNow)
	for _, k := range kinds {
		require.NoError(t, c.Handle(k, reply(string(k))))
	}

	for _, k := range kinds {
		resp, err := c.Dispatch(context.Background(), &message.Request{Kind: k})
		require.NoError(t, err)
		assert.Equal(t, string(k), resp.Message)
	}
}
