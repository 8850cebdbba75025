// Package command routes incoming requests to the handler for their kind
// and runs the consume, execute, record, persist, reply loop around them.
package command

import (
	"context"
	"fmt"

	"grantfed/internal/message"
	"grantfed/internal/types"
)

// HandlerFunc executes one request kind. Business rejections are returned
// as Failed or Rejected responses. An error means no answer could be
// produced right now, typically because a downstream call failed, and the
// request will be retried.
type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

type route struct {
	kind   message.Kind
	handle HandlerFunc
}

// Chain is an ordered kind to handler table. The first route whose kind
// matches wins; a request no route claims gets an "unknown request kind"
// response.
type Chain struct {
	routes []route
	now    func() types.Date
}

func NewChain(now func() types.Date) *Chain {
	return &Chain{now: now}
}

// Handle appends a route. Each kind may be routed once.
func (c *Chain) Handle(kind message.Kind, h HandlerFunc) error {
	for _, r := range c.routes {
		if r.kind == kind {
			return fmt.Errorf("%w: %s", ErrDuplicateRoute, kind)
		}
	}
	c.routes = append(c.routes, route{kind: kind, handle: h})
	return nil
}

// MustHandle is Handle for wiring code where a duplicate is a programming
// error.
func (c *Chain) MustHandle(kind message.Kind, h HandlerFunc) *Chain {
	if err := c.Handle(kind, h); err != nil {
		panic(err)
	}
	return c
}

func (c *Chain) Kinds() []message.Kind {
	kinds := make([]message.Kind, len(c.routes))
	for i, r := range c.routes {
		kinds[i] = r.kind
	}
	return kinds
}

// Dispatch runs the matching handler and stamps the response with the
// current date and the request kind it answers.
func (c *Chain) Dispatch(ctx context.Context, req *message.Request) (*message.Response, error) {
	for _, r := range c.routes {
		if r.kind != req.Kind {
			continue
		}
		resp, err := r.handle(ctx, req)
		if err != nil {
			return nil, err
		}
		return c.finish(req, resp), nil
	}
	return c.finish(req, message.Failed("unknown request kind '%s'", req.Kind)), nil
}

func (c *Chain) finish(req *message.Request, resp *message.Response) *message.Response {
	if resp == nil {
		resp = message.Failed("no response produced for '%s'", req.Kind)
	}
	if c.now != nil {
		resp.Timestamp = c.now()
	}
	resp.Action = req.Kind
	return resp
}
