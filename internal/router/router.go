package router

import (
	"log"
	"sync"

	"liveclass/internal/websocket"
	"liveclass/pkg/types"
)

// Router fans committed state changes out to a room's connections. Each
// room gets a FIFO queue drained by one dispatcher goroutine, so clients
// observe broadcasts in commit order and the per-room state lock is never
// held during socket I/O: the session manager enqueues under its lock and
// the dispatcher does the sending.
//
// Broadcasts carry the session epoch. Once a session ends its epoch is
// fenced and any job from that epoch still in flight is silently dropped
// instead of delivered.
type Router struct {
	registry *websocket.Registry
	mu       sync.Mutex
	rooms    map[string]*roomQueue
	closed   bool
}

type broadcastJob struct {
	epoch    uint64
	frame    types.Frame
	exclude  string
	terminal bool // SESSION_ENDED is delivered even for a fenced epoch
}

type roomQueue struct {
	roomID string
	jobs   chan broadcastJob
	mu     sync.Mutex
	fenced uint64 // epochs <= fenced are dropped
}

const queueDepth = 256

// NewRouter creates a broadcast router over the given registry.
func NewRouter(registry *websocket.Registry) *Router {
	return &Router{
		registry: registry,
		rooms:    make(map[string]*roomQueue),
	}
}

// Broadcast enqueues a frame for all current members of a room. Enqueueing
// is cheap and non-blocking; it is safe to call while holding the room's
// state lock, which is what preserves commit order.
func (r *Router) Broadcast(roomID string, epoch uint64, frame types.Frame) {
	r.enqueue(roomID, broadcastJob{epoch: epoch, frame: frame})
}

// BroadcastTerminal enqueues a frame and then fences the epoch, so the
// terminal frame itself is delivered but nothing else from that epoch is.
func (r *Router) BroadcastTerminal(roomID string, epoch uint64, frame types.Frame) {
	r.enqueue(roomID, broadcastJob{epoch: epoch, frame: frame, terminal: true})
	r.Fence(roomID, epoch)
}

// Fence marks every broadcast at or below epoch as stale for the room.
func (r *Router) Fence(roomID string, epoch uint64) {
	q := r.queueFor(roomID)
	if q == nil {
		return
	}
	q.mu.Lock()
	if epoch > q.fenced {
		q.fenced = epoch
	}
	q.mu.Unlock()
}

// SendTo delivers a frame to a single (room, user) connection, bypassing
// the room queue. Used for point-to-point replies; failures evict.
func (r *Router) SendTo(roomID, userID string, frame types.Frame) error {
	return r.registry.Send(roomID, userID, frame)
}

// Close stops all room dispatchers. Pending jobs are dropped.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, q := range r.rooms {
		close(q.jobs)
	}
}

func (r *Router) enqueue(roomID string, job broadcastJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	q, ok := r.rooms[roomID]
	if !ok {
		q = &roomQueue{roomID: roomID, jobs: make(chan broadcastJob, queueDepth)}
		r.rooms[roomID] = q
		go r.dispatch(q)
	}

	// The send stays under r.mu: Close closes q.jobs under the same lock,
	// so a broadcast racing shutdown can never send on a closed channel.
	// The send never blocks, so holding the lock here is cheap.
	select {
	case q.jobs <- job:
	default:
		// Queue overflow means the room is far behind; dropping here is
		// safe because reconnecting clients resynchronize via STATE_RESTORE.
		log.Printf("Broadcast queue full, dropping frame: room=%s type=%s", roomID, job.frame.Type)
	}
}

func (r *Router) queueFor(roomID string) *roomQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}

// dispatch drains one room's queue. Stale-epoch jobs are dropped at
// dequeue time, which catches jobs that were already queued when the
// epoch was fenced.
func (r *Router) dispatch(q *roomQueue) {
	for job := range q.jobs {
		q.mu.Lock()
		stale := !job.terminal && job.epoch <= q.fenced
		q.mu.Unlock()

		if stale {
			log.Printf("Dropping stale broadcast: room=%s type=%s epoch=%d", q.roomID, job.frame.Type, job.epoch)
			continue
		}

		failures := r.registry.Broadcast(q.roomID, job.frame, job.exclude)
		for _, failure := range failures {
			log.Printf("Evicted member after failed send: room=%s user=%s err=%v", q.roomID, failure.UserID, failure.Err)
			// Follow-up room notification for the eviction, fenced by the
			// same epoch as the broadcast that exposed it.
			r.enqueue(q.roomID, broadcastJob{
				epoch:   job.epoch,
				frame:   types.UserLeftFrame(failure.UserID),
				exclude: failure.UserID,
			})
		}
	}
}
