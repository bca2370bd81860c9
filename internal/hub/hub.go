// Package hub fans committed poll events out to live subscribers.
//
// Events are sequenced per poll by the poll's version so subscribers see
// mutations of one poll in commit order. Each subscriber owns a bounded
// queue drained by its own writer goroutine; a slow or broken subscriber
// is dropped without stalling the others.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"opinion-poll/internal/core/metrics"
	"opinion-poll/internal/domain"
)

// Conn is one live connection. WriteMessage must honour the context
// deadline; Close may be called more than once.
type Conn interface {
	WriteMessage(ctx context.Context, msg []byte) error
	Close() error
}

var ErrStopped = errors.New("hub stopped")

type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	// GapWait bounds how long an event is held back waiting for an
	// earlier version of the same poll.
	GapWait time.Duration
	// IdleTTL evicts sequencer state of polls with no recent events.
	IdleTTL time.Duration
	// Redis, when set, relays every event through Channel so all
	// instances deliver it.
	Redis   *redis.Client
	Channel string
}

type Hub struct {
	opts Options
	log  *zap.Logger

	subMu  sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64

	seqMu sync.Mutex
	seqs  map[uint64]*pollSeq

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
	relay    *redis.PubSub
}

func New(o Options, l *zap.Logger) *Hub {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.GapWait <= 0 {
		o.GapWait = 100 * time.Millisecond
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 10 * time.Minute
	}
	if o.Channel == "" {
		o.Channel = "opinion-poll:events"
	}
	return &Hub{
		opts:    o,
		log:     l,
		subs:    make(map[uint64]*subscriber),
		seqs:    make(map[uint64]*pollSeq),
		stopped: make(chan struct{}),
	}
}

// Start runs the sequencer janitor and, when configured, the relay
// receiver. It returns once the relay subscription is confirmed.
func (h *Hub) Start(ctx context.Context) error {
	if h.opts.Redis != nil {
		ps := h.opts.Redis.Subscribe(ctx, h.opts.Channel)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return err
		}
		h.relay = ps
		h.wg.Add(1)
		go h.receive(ps.Channel())
	}
	h.wg.Add(1)
	go h.janitor()
	return nil
}

// Stop disconnects every subscriber and waits for hub goroutines.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopped)
		if h.relay != nil {
			_ = h.relay.Close()
		}
		h.subMu.Lock()
		all := make([]*subscriber, 0, len(h.subs))
		for _, s := range h.subs {
			all = append(all, s)
		}
		h.subMu.Unlock()
		for _, s := range all {
			h.remove(s, "")
		}
		h.seqMu.Lock()
		for _, q := range h.seqs {
			if q.timer != nil {
				q.timer.Stop()
			}
		}
		h.seqs = map[uint64]*pollSeq{}
		h.seqMu.Unlock()
		h.wg.Wait()
	})
}

// Subscribe registers conn until it fails, overflows, is closed through
// the returned Subscription, or the hub stops.
func (h *Hub) Subscribe(conn Conn) (*Subscription, error) {
	select {
	case <-h.stopped:
		_ = conn.Close()
		return nil, ErrStopped
	default:
	}
	h.subMu.Lock()
	h.nextID++
	s := &subscriber{
		id:     h.nextID,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	h.subs[s.id] = s
	h.subMu.Unlock()
	metrics.Subscribers.Inc()

	h.wg.Add(1)
	go h.writer(s)
	return &Subscription{h: h, s: s}, nil
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	return len(h.subs)
}

// Publish hands a committed event to the hub. It never fails the caller:
// relay errors fall back to local delivery.
func (h *Hub) Publish(ctx context.Context, ev domain.Event) {
	select {
	case <-h.stopped:
		return
	default:
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if h.relay != nil {
		b, _ := json.Marshal(relayMsg{PollID: ev.PollID, Version: ev.Version, Payload: payload})
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		err := h.opts.Redis.Publish(rctx, h.opts.Channel, b).Err()
		cancel()
		if err == nil {
			return
		}
		h.log.Warn("relay publish failed, delivering locally", zap.Uint64("poll_id", ev.PollID), zap.Error(err))
	}
	h.dispatch(ev.PollID, ev.Version, payload)
}

type relayMsg struct {
	PollID  uint64          `json:"poll_id"`
	Version uint64          `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Hub) receive(ch <-chan *redis.Message) {
	defer h.wg.Done()
	for msg := range ch {
		var m relayMsg
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			h.log.Warn("bad relay message", zap.Error(err))
			continue
		}
		h.dispatch(m.PollID, m.Version, m.Payload)
	}
}

func (h *Hub) janitor() {
	defer h.wg.Done()
	t := time.NewTicker(h.opts.IdleTTL / 2)
	defer t.Stop()
	for {
		select {
		case <-h.stopped:
			return
		case now := <-t.C:
			h.prune(now)
		}
	}
}

// fanout enqueues msg on every subscriber without blocking.
func (h *Hub) fanout(msg []byte) {
	h.subMu.RLock()
	snap := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		snap = append(snap, s)
	}
	h.subMu.RUnlock()

	for _, s := range snap {
		select {
		case s.send <- msg:
			metrics.Delivered.Inc()
		case <-s.done:
		default:
			h.log.Debug("subscriber queue full", zap.Uint64("sub", s.id))
			h.remove(s, "overflow")
		}
	}
}

func (h *Hub) remove(s *subscriber, why string) {
	h.subMu.Lock()
	_, ok := h.subs[s.id]
	delete(h.subs, s.id)
	h.subMu.Unlock()
	if !ok {
		return
	}
	close(s.done)
	_ = s.conn.Close()
	metrics.Subscribers.Dec()
	if why != "" {
		metrics.Dropped.WithLabelValues(why).Inc()
	}
}

func (h *Hub) writer(s *subscriber) {
	defer h.wg.Done()
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
			err := s.conn.WriteMessage(ctx, msg)
			cancel()
			if err != nil {
				h.log.Debug("subscriber write failed", zap.Uint64("sub", s.id), zap.Error(err))
				h.remove(s, "write_error")
				return
			}
		}
	}
}

type subscriber struct {
	id     uint64
	conn   Conn
	send   chan []byte
	done   chan struct{}
	exited chan struct{}
}

// Subscription is the caller's handle on a registered connection.
type Subscription struct {
	h *Hub
	s *subscriber
}

// Done is closed once the hub has dropped the connection.
func (s *Subscription) Done() <-chan struct{} { return s.s.done }

// Close unregisters the connection and waits until its writer has
// returned, so the caller may release the underlying transport.
func (s *Subscription) Close() {
	s.h.remove(s.s, "")
	<-s.s.exited
}
