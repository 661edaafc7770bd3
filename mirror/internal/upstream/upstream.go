package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/obsidianstack/snapsync/mirror/internal/config"
	"github.com/obsidianstack/snapsync/mirror/internal/mux"
	"github.com/obsidianstack/snapsync/pkg/feedrpc"
)

var (
	// ErrStreamEnded is reported when the feed closes a stream without error.
	ErrStreamEnded = errors.New("upstream: feed closed the stream")

	// ErrUnknownHandle is returned by Unsubscribe for a handle that is not open.
	ErrUnknownHandle = errors.New("upstream: unknown handle")
)

// ProtocolError wraps a handler's rejection of a feed event.
type ProtocolError struct {
	Event feedrpc.Event
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("upstream: %s %q rejected: %v", e.Event.Kind, e.Event.Key, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Source is a mux.Source backed by one gRPC connection to the feed.
type Source struct {
	conn       grpc.ClientConnInterface
	collection string
	auth       config.AuthConfig

	mu      sync.Mutex
	streams map[mux.Handle]context.CancelFunc
}

// New creates a Source subscribing to cfg.Collection over conn.
func New(conn grpc.ClientConnInterface, cfg config.UpstreamConfig) *Source {
	return &Source{
		conn:       conn,
		collection: cfg.Collection,
		auth:       cfg.Auth,
		streams:    make(map[mux.Handle]context.CancelFunc),
	}
}

// Subscribe opens a stream and feeds its events to h from a new goroutine.
func (s *Source) Subscribe(h mux.Handler) (mux.Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	if s.auth.Mode == "apikey" && s.auth.KeyEnv != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, s.auth.EffectiveHeader(), s.auth.Key())
	}

	stream, err := feedrpc.Subscribe(ctx, s.conn, &feedrpc.SubscribeRequest{Collection: s.collection})
	if err != nil {
		cancel()
		return "", fmt.Errorf("upstream: subscribe %q: %w", s.collection, err)
	}

	id := mux.Handle(uuid.NewString())
	s.mu.Lock()
	s.streams[id] = cancel
	s.mu.Unlock()

	slog.Info("upstream: stream opened", "handle", id, "collection", s.collection)
	go s.run(ctx, id, stream, h)
	return id, nil
}

// Unsubscribe cancels the stream behind id.
func (s *Source) Unsubscribe(id mux.Handle) error {
	s.mu.Lock()
	cancel, ok := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, id)
	}
	cancel()
	slog.Info("upstream: stream closed", "handle", id)
	return nil
}

// Open returns the number of open streams.
func (s *Source) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *Source) run(ctx context.Context, id mux.Handle, stream feedrpc.EventStream, h mux.Handler) {
	log := slog.With("handle", id, "collection", s.collection)
	for {
		ev, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				// Unsubscribed.
				return
			}
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			log.Warn("upstream: stream failed", "err", err)
			s.end(id, h, err)
			return
		}

		if ctx.Err() != nil {
			return
		}
		if err := apply(h, ev); err != nil {
			if errors.Is(err, mux.ErrSessionClosed) {
				return
			}
			perr := &ProtocolError{Event: *ev, Err: err}
			log.Error("upstream: protocol violation, closing stream", "err", perr)
			s.end(id, h, perr)
			return
		}
	}
}

// end forgets id, cancels its stream and reports err unless the stream was
// unsubscribed in the meantime.
func (s *Source) end(id mux.Handle, h mux.Handler, err error) {
	s.mu.Lock()
	cancel, ok := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	cancel()
	h.OnCancelled(err)
}

func apply(h mux.Handler, ev *feedrpc.Event) error {
	switch ev.Kind {
	case feedrpc.KindAdded:
		return h.OnChildAdded(ev.Key, ev.Value, ev.PrevKey)
	case feedrpc.KindChanged:
		return h.OnChildChanged(ev.Key, ev.Value)
	case feedrpc.KindRemoved:
		return h.OnChildRemoved(ev.Key)
	case feedrpc.KindMoved:
		return h.OnChildMoved(ev.Key, ev.PrevKey)
	case feedrpc.KindSynced:
		h.OnInitialSyncComplete()
		return nil
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}
