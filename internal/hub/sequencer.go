package hub

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"opinion-poll/internal/core/metrics"
)

// pollSeq tracks delivery order for one poll.
type pollSeq struct {
	last    uint64 // highest delivered version, 0 before the first delivery
	pending map[uint64][]byte
	timer   *time.Timer
	gen     uint64 // identifies the armed timer; a fired timer with an older gen is ignored
	seen    time.Time
}

// dispatch delivers payload in version order for pollID. Version 1 is
// the creation event; any other first sighting of a poll is held like a
// gap since its predecessor may still be in flight.
//
// An event older than what was already delivered is still delivered.
// Every event is a committed mutation and carries its version, so a
// client keeps the newest state by comparing versions.
func (h *Hub) dispatch(pollID, version uint64, payload []byte) {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()

	q := h.seqs[pollID]
	if q == nil {
		q = &pollSeq{pending: map[uint64][]byte{}}
		h.seqs[pollID] = q
	}
	q.seen = time.Now()

	switch {
	case version <= q.last:
		metrics.LateEvents.Inc()
		h.log.Debug("late event delivered", zap.Uint64("poll_id", pollID),
			zap.Uint64("version", version), zap.Uint64("last", q.last))
		h.fanout(payload)
	case version == q.last+1:
		h.deliver(q, version, payload)
		h.drain(q)
	default:
		q.pending[version] = payload
		if q.timer == nil {
			q.gen++
			gen := q.gen
			q.timer = time.AfterFunc(h.opts.GapWait, func() { h.flush(pollID, gen) })
		}
	}
}

func (h *Hub) deliver(q *pollSeq, version uint64, payload []byte) {
	q.last = version
	h.fanout(payload)
}

// drain delivers consecutive pending versions after q.last.
func (h *Hub) drain(q *pollSeq) {
	for {
		p, ok := q.pending[q.last+1]
		if !ok {
			break
		}
		delete(q.pending, q.last+1)
		h.deliver(q, q.last+1, p)
	}
	if len(q.pending) == 0 && q.timer != nil {
		q.timer.Stop()
		q.timer = nil
		q.gen++
	}
}

// flush gives up on missing versions and delivers what is held, in
// order. gen must match the timer that is currently armed.
func (h *Hub) flush(pollID, gen uint64) {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	q := h.seqs[pollID]
	if q == nil || q.timer == nil || q.gen != gen {
		return
	}
	q.timer = nil
	q.gen++
	versions := make([]uint64, 0, len(q.pending))
	for v := range q.pending {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	for _, v := range versions {
		h.deliver(q, v, q.pending[v])
		delete(q.pending, v)
	}
	if len(versions) > 0 {
		h.log.Debug("sequencer gap flushed", zap.Uint64("poll_id", pollID), zap.Int("events", len(versions)))
	}
}

func (h *Hub) prune(now time.Time) {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	for id, q := range h.seqs {
		if len(q.pending) == 0 && now.Sub(q.seen) > h.opts.IdleTTL {
			delete(h.seqs, id)
		}
	}
}
