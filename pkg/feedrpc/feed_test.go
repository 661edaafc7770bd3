package feedrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// scriptedServer replays a fixed list of events for the "notes" collection.
type scriptedServer struct {
	events []*Event
}

func (s *scriptedServer) Subscribe(req *SubscribeRequest, stream EventSender) error {
	if req.Collection != "notes" {
		return status.Errorf(codes.NotFound, "collection %q", req.Collection)
	}
	for _, ev := range s.events {
		if err := stream.Send(ev); err != nil {
			return err
		}
	}
	return nil
}

func dialTestServer(t *testing.T, srv FeedServer) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	gs := grpc.NewServer()
	RegisterFeedServer(gs, srv)
	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)

	conn, err := grpc.DialContext(context.Background(), lis.Addr().String(), //nolint:staticcheck
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscribe_ReceivesEventsInOrder(t *testing.T) {
	want := []*Event{
		{Kind: KindAdded, Key: "a", Value: json.RawMessage(`{"n":1}`)},
		{Kind: KindAdded, Key: "b", Value: json.RawMessage(`{"n":2}`), PrevKey: "a"},
		{Kind: KindSynced},
		{Kind: KindMoved, Key: "b"},
	}
	conn := dialTestServer(t, &scriptedServer{events: want})

	stream, err := Subscribe(context.Background(), conn, &SubscribeRequest{Collection: "notes"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	var got []*Event
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		got = append(got, ev)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSubscribe_StatusErrorPropagates(t *testing.T) {
	conn := dialTestServer(t, &scriptedServer{})

	stream, err := Subscribe(context.Background(), conn, &SubscribeRequest{Collection: "missing"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	_, err = stream.Recv()
	if code := status.Code(err); code != codes.NotFound {
		t.Errorf("code: got %v, want NotFound", code)
	}
}

func TestCodec_RoundTripsRawValue(t *testing.T) {
	c := jsonCodec{}
	b, err := c.Marshal(&Event{Kind: KindChanged, Key: "k", Value: json.RawMessage(`[1,2,3]`)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"kind":"changed","key":"k","value":[1,2,3]}` {
		t.Errorf("wire form: got %s", b)
	}
	if c.Name() != "json" {
		t.Errorf("Name: got %q, want json", c.Name())
	}
}
