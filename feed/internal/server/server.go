package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/snapsync/feed/internal/collection"
	"github.com/obsidianstack/snapsync/pkg/feedrpc"
)

// Server implements feedrpc.FeedServer.
type Server struct {
	collections map[string]*collection.Collection
	sendBuffer  int

	mu   sync.Mutex
	subs map[string]string // subscriber id -> collection
}

// New creates a Server over cs. sendBuffer bounds the events queued per
// subscriber.
func New(sendBuffer int, cs ...*collection.Collection) *Server {
	s := &Server{
		collections: make(map[string]*collection.Collection, len(cs)),
		sendBuffer:  sendBuffer,
		subs:        make(map[string]string),
	}
	for _, c := range cs {
		s.collections[c.Name()] = c
	}
	return s
}

// Subscribers returns the number of connected subscribers.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Subscribe streams req.Collection until the client goes away or falls behind.
func (s *Server) Subscribe(req *feedrpc.SubscribeRequest, stream feedrpc.EventSender) error {
	if req.Collection == "" {
		return status.Error(codes.InvalidArgument, "collection is required")
	}
	c, ok := s.collections[req.Collection]
	if !ok {
		return status.Errorf(codes.NotFound, "collection %q not found", req.Collection)
	}

	sub := newSubscriber(uuid.NewString(), s.sendBuffer)
	snapshot, cancel := c.Subscribe(sub.enqueue)
	defer cancel()

	s.track(sub.id, c.Name())
	defer s.untrack(sub.id)

	log := slog.With("subscriber", sub.id, "collection", c.Name())
	log.Info("server: subscriber connected", "items", len(snapshot)-1)

	for i := range snapshot {
		if err := stream.Send(&snapshot[i]); err != nil {
			log.Warn("server: send snapshot failed", "err", err)
			return err
		}
	}

	ctx := stream.Context()
	for {
		// Overflow wins over queued events.
		select {
		case <-sub.overflow:
			return s.tooSlow(log)
		default:
		}

		select {
		case <-ctx.Done():
			log.Info("server: subscriber disconnected")
			return status.FromContextError(ctx.Err()).Err()

		case <-sub.overflow:
			return s.tooSlow(log)

		case ev := <-sub.queue:
			if err := stream.Send(&ev); err != nil {
				log.Warn("server: send failed", "err", err)
				return err
			}
		}
	}
}

func (s *Server) tooSlow(log *slog.Logger) error {
	log.Warn("server: subscriber too slow, dropping", "buffer", s.sendBuffer)
	return status.Errorf(codes.ResourceExhausted,
		"subscriber fell more than %d events behind", s.sendBuffer)
}

func (s *Server) track(id, name string) {
	s.mu.Lock()
	s.subs[id] = name
	s.mu.Unlock()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// subscriber queues published events for one stream.
type subscriber struct {
	id       string
	queue    chan feedrpc.Event
	overflow chan struct{}
	once     sync.Once
}

func newSubscriber(id string, size int) *subscriber {
	return &subscriber{
		id:       id,
		queue:    make(chan feedrpc.Event, size),
		overflow: make(chan struct{}),
	}
}

// enqueue never blocks; it runs under the collection lock.
func (sub *subscriber) enqueue(evs []feedrpc.Event) {
	for _, ev := range evs {
		select {
		case sub.queue <- ev:
		default:
			sub.once.Do(func() { close(sub.overflow) })
			return
		}
	}
}
