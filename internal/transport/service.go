package transport

import (
	"context"
	"errors"
	"log/slog"

	"grantfed/internal/broker"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const serviceName = "grantfed.broker.Broker"

type DeclareRequest struct {
	Queue string `json:"queue"`
}

type DeclareResponse struct {
	Queue string `json:"queue"`
}

type DeleteRequest struct {
	Queue string `json:"queue"`
}

type PublishRequest struct {
	Queue   string         `json:"queue"`
	Message broker.Message `json:"message"`
}

// SettleRequest acks a delivery, or nacks it when Nack is set.
type SettleRequest struct {
	Tag     uint64 `json:"tag"`
	Nack    bool   `json:"nack,omitempty"`
	Requeue bool   `json:"requeue,omitempty"`
}

type ConsumeRequest struct {
	Queue string `json:"queue"`
}

type Empty struct{}

// BrokerServer is the server API of the broker service.
type BrokerServer interface {
	Declare(context.Context, *DeclareRequest) (*DeclareResponse, error)
	Delete(context.Context, *DeleteRequest) (*Empty, error)
	Publish(context.Context, *PublishRequest) (*Empty, error)
	Settle(context.Context, *SettleRequest) (*Empty, error)
	Consume(*ConsumeRequest, grpc.ServerStream) error
}

type brokerService struct {
	channel broker.Channel
}

func NewBrokerService(ch broker.Channel) BrokerServer {
	return &brokerService{channel: ch}
}

func (s *brokerService) Declare(ctx context.Context, req *DeclareRequest) (*DeclareResponse, error) {
	name, err := s.channel.DeclareQueue(ctx, req.Queue)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DeclareResponse{Queue: name}, nil
}

func (s *brokerService) Delete(ctx context.Context, req *DeleteRequest) (*Empty, error) {
	if err := s.channel.DeleteQueue(ctx, req.Queue); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *brokerService) Publish(ctx context.Context, req *PublishRequest) (*Empty, error) {
	if err := s.channel.Publish(ctx, req.Queue, req.Message); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *brokerService) Settle(ctx context.Context, req *SettleRequest) (*Empty, error) {
	var err error
	if req.Nack {
		err = s.channel.Nack(ctx, req.Tag, req.Requeue)
	} else {
		err = s.channel.Ack(ctx, req.Tag)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *brokerService) Consume(req *ConsumeRequest, stream grpc.ServerStream) error {
	deliveries, err := s.channel.Consume(stream.Context(), req.Queue)
	if err != nil {
		return toStatus(err)
	}

	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	slog.Debug("consumer attached", "queue", req.Queue)
	for d := range deliveries {
		if err := stream.SendMsg(&d); err != nil {
			slog.Debug("consumer stream send failed", "queue", req.Queue, "error", err)
			return err
		}
	}
	return nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, broker.ErrQueueNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, broker.ErrUnknownTag):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, broker.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

// remoteError carries the server's message while still matching the
// broker sentinel with errors.Is.
type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return &remoteError{kind: broker.ErrQueueNotFound, msg: st.Message()}
	case codes.FailedPrecondition:
		return &remoteError{kind: broker.ErrUnknownTag, msg: st.Message()}
	case codes.Unavailable:
		return &remoteError{kind: broker.ErrClosed, msg: st.Message()}
	case codes.DeadlineExceeded:
		return &remoteError{kind: context.DeadlineExceeded, msg: st.Message()}
	case codes.Canceled:
		return &remoteError{kind: context.Canceled, msg: st.Message()}
	default:
		return err
	}
}

func unaryHandler[Req any, Resp any](call func(BrokerServer, context.Context, *Req) (*Resp, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BrokerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BrokerServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func consumeHandler(srv any, stream grpc.ServerStream) error {
	in := new(ConsumeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BrokerServer).Consume(in, stream)
}

var consumeStreamDesc = grpc.StreamDesc{
	StreamName:    "Consume",
	Handler:       consumeHandler,
	ServerStreams: true,
}

var brokerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Declare", Handler: unaryHandler(BrokerServer.Declare, "Declare")},
		{MethodName: "Delete", Handler: unaryHandler(BrokerServer.Delete, "Delete")},
		{MethodName: "Publish", Handler: unaryHandler(BrokerServer.Publish, "Publish")},
		{MethodName: "Settle", Handler: unaryHandler(BrokerServer.Settle, "Settle")},
	},
	Streams:  []grpc.StreamDesc{consumeStreamDesc},
	Metadata: "grantfed/broker",
}

func RegisterBrokerServer(s grpc.ServiceRegistrar, srv BrokerServer) {
	s.RegisterService(&brokerServiceDesc, srv)
}
