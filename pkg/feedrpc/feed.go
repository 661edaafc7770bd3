package feedrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
)

const (
	ServiceName     = "snapsync.feed.v1.Feed"
	SubscribeMethod = "/" + ServiceName + "/Subscribe"
)

// Kind is the type of a feed Event.
type Kind string

const (
	KindAdded   Kind = "added"
	KindChanged Kind = "changed"
	KindRemoved Kind = "removed"
	KindMoved   Kind = "moved"
	KindSynced  Kind = "synced"
)

// SubscribeRequest opens a stream over one named collection.
type SubscribeRequest struct {
	Collection string `json:"collection"`
}

// Event is one child event of a collection.
type Event struct {
	Kind    Kind            `json:"kind"`
	Key     string          `json:"key,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	PrevKey string          `json:"prev_key,omitempty"`
}

// FeedServer is the server API for the Feed service.
type FeedServer interface {
	Subscribe(req *SubscribeRequest, stream EventSender) error
}

// EventSender is the server side of a Subscribe stream.
type EventSender interface {
	Send(ev *Event) error
	Context() context.Context
}

type eventSender struct {
	grpc.ServerStream
}

func (s *eventSender) Send(ev *Event) error {
	return s.ServerStream.SendMsg(ev)
}

// ServiceDesc describes the Feed service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "snapsync/feed/v1/feed.proto",
}

// RegisterFeedServer registers srv with s.
func RegisterFeedServer(s grpc.ServiceRegistrar, srv FeedServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(FeedServer).Subscribe(req, &eventSender{stream})
}

// EventStream is the client side of a Subscribe stream.
type EventStream interface {
	Recv() (*Event, error)
	grpc.ClientStream
}

type eventStream struct {
	grpc.ClientStream
}

func (s *eventStream) Recv() (*Event, error) {
	ev := new(Event)
	if err := s.ClientStream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Subscribe opens a Subscribe stream on cc. The returned stream ends with
// io.EOF when the server finishes, or with a status error.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, req *SubscribeRequest, opts ...grpc.CallOption) (EventStream, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], SubscribeMethod, opts...)
	if err != nil {
		return nil, fmt.Errorf("feedrpc: open stream: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("feedrpc: send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("feedrpc: close send: %w", err)
	}
	return &eventStream{stream}, nil
}
