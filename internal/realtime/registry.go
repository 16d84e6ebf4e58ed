package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DirectDestination labels events addressed to one connection rather than a room.
const DirectDestination = "direct"

const defaultBuffer = 64

var ErrRegistryClosed = errors.New("connection registry closed")

// Event is one outbound frame: the destination it was addressed to and its
// encoded payload.
type Event struct {
	Destination string
	Data        []byte
}

// CloseReason says why a connection ended.
type CloseReason string

const (
	ReasonClientGone   CloseReason = "client_gone"
	ReasonWriteFailed  CloseReason = "write_failed"
	ReasonSlowConsumer CloseReason = "slow_consumer"
	ReasonClosed       CloseReason = "closed"
	ReasonShutdown     CloseReason = "shutdown"
)

// Disconnect is raised once per connection when its stream ends. Groups is the
// snapshot of the connection's groups taken at that moment.
type Disconnect struct {
	ConnectionID string
	Groups       []string
	Reason       CloseReason
}

// GroupLister is the reverse membership lookup used for disconnect snapshots.
type GroupLister interface {
	GetGroupsOf(ctx context.Context, memberID string) ([]string, error)
}

// Connection is one open push stream.
type Connection struct {
	id       string
	events   chan Event
	done     chan struct{}
	once     sync.Once
	reason   CloseReason
	finished atomic.Bool
}

func (c *Connection) ID() string { return c.id }

// Done is closed when the connection has been closed by the registry.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) close(reason CloseReason) bool {
	closed := false
	c.once.Do(func() {
		c.reason = reason
		close(c.done)
		closed = true
	})
	return closed
}

type RegistryConfig struct {
	// Buffer is the per-connection outbound queue length.
	Buffer int
	// Groups resolves a connection's groups when it disconnects. Optional.
	Groups GroupLister
	// NotifyTimeout bounds the group snapshot and disconnect handlers.
	NotifyTimeout time.Duration
}

// Registry owns the set of open connections.
type Registry struct {
	buffer        int
	groups        GroupLister
	notifyTimeout time.Duration

	mu       sync.RWMutex
	conns    map[string]*Connection
	closed   bool
	handlers []func(context.Context, Disconnect)
	pending  sync.WaitGroup
}

func NewRegistry(cfg RegistryConfig) *Registry {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	notifyTimeout := cfg.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = 10 * time.Second
	}
	return &Registry{
		buffer:        buffer,
		groups:        cfg.Groups,
		notifyTimeout: notifyTimeout,
		conns:         make(map[string]*Connection),
	}
}

// OnDisconnect subscribes fn to disconnect notifications. Handlers run on the
// goroutine that ended the stream, in registration order.
func (r *Registry) OnDisconnect(fn func(context.Context, Disconnect)) {
	r.mu.Lock()
	r.handlers = append(r.handlers, fn)
	r.mu.Unlock()
}

// Open allocates a connection with a fresh id.
func (r *Registry) Open() (*Connection, error) {
	conn := &Connection{
		id:     uuid.NewString(),
		events: make(chan Event, r.buffer),
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	r.conns[conn.id] = conn
	r.pending.Add(1)
	slog.Debug("connection opened", "connection_id", conn.id)
	return conn, nil
}

// Deliver queues ev for the connection without blocking. It reports false when
// the connection is unknown or already closed. A connection whose queue is
// full is closed as a slow consumer.
func (r *Registry) Deliver(id string, ev Event) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case <-conn.done:
		return false
	default:
	}
	select {
	case conn.events <- ev:
		return true
	default:
		slog.Warn("dropping slow consumer", "connection_id", id, "buffer", r.buffer)
		r.Close(id, ReasonSlowConsumer)
		return false
	}
}

// Stream writes the connection's events in order until ctx is cancelled, the
// connection is closed, or write fails. It always finishes the connection, so
// the disconnect notification has fired by the time Stream returns.
func (r *Registry) Stream(ctx context.Context, conn *Connection, write func(Event) error) error {
	reason := ReasonClientGone
	defer func() { r.finish(conn, reason) }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.done:
			reason = conn.reason
			return nil
		case ev := <-conn.events:
			if err := write(ev); err != nil {
				reason = ReasonWriteFailed
				return err
			}
		}
	}
}

// Close terminates a connection's stream. Its Stream call performs the
// disconnect notification. Unknown ids are ignored.
func (r *Registry) Close(id string, reason CloseReason) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if ok {
		conn.close(reason)
	}
}

// Has reports whether id is registered and not yet closed.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case <-conn.done:
		return false
	default:
		return true
	}
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown rejects new connections, ends every open stream and waits until
// their disconnect notifications have completed or ctx expires. Every opened
// connection must be passed to Stream for the wait to finish.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.close(ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) finish(conn *Connection, reason CloseReason) {
	if !conn.close(reason) {
		reason = conn.reason
	}
	if !conn.finished.CompareAndSwap(false, true) {
		return
	}
	defer r.pending.Done()
	r.mu.RLock()
	handlers := append([]func(context.Context, Disconnect){}, r.handlers...)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
	defer cancel()

	// Unregister before the snapshot: a group add that lands after the
	// snapshot can then see the connection is gone.
	r.mu.Lock()
	delete(r.conns, conn.id)
	r.mu.Unlock()

	var groups []string
	if r.groups != nil {
		var err error
		groups, err = r.groups.GetGroupsOf(ctx, conn.id)
		if err != nil {
			slog.Warn("snapshot groups on disconnect", "connection_id", conn.id, "err", err)
		}
	}

	slog.Info("connection closed", "connection_id", conn.id, "reason", string(reason), "groups", len(groups))
	d := Disconnect{ConnectionID: conn.id, Groups: groups, Reason: reason}
	for _, fn := range handlers {
		fn(ctx, d)
	}
}
