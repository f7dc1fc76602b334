package midi

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/GeoffreyPlitt/debuggo"
	gomidi "gitlab.com/gomidi/midi/v2"
)

var queueDebug = debuggo.Debug("qmidiarp:queue")

// Sender is the output side the queue releases events to. *Output
// implements it; tests substitute an in-memory recorder.
type Sender interface {
	Send(msg gomidi.Message) error
}

// qentry is one scheduled event waiting in the queue.
type qentry struct {
	at      int64 // release time, ns since queue start
	ev      Event
	port    int
	dur     int64 // note duration in ns; a note-off is scheduled on release
	noteOff bool
	seq     uint64 // FIFO tiebreak for equal timestamps
}

type entryHeap []*qentry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*qentry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// SeqQueue is the realtime scheduling queue of the engine. It accepts
// events stamped in nanoseconds relative to the queue start, releases
// them to their output port at that instant, and loops self-addressed
// echo events back onto the input event channel. Incoming events from
// the MIDI input listener are stamped and merged onto the same channel,
// so the driver consumes a single stream.
type SeqQueue struct {
	outs []Sender

	events chan Event

	mu      sync.Mutex
	pending entryHeap
	anchor  time.Time
	seqno   uint64

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewSeqQueue creates a queue over the given output ports and starts
// its release goroutine. bufSize is the capacity of the input event
// channel; events arriving while it is full are dropped.
func NewSeqQueue(outs []Sender, bufSize int) *SeqQueue {
	if bufSize <= 0 {
		bufSize = 512
	}
	q := &SeqQueue{
		outs:   outs,
		events: make(chan Event, bufSize),
		anchor: time.Now(),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Events returns the merged stream of input and echo events.
func (q *SeqQueue) Events() <-chan Event {
	return q.events
}

// Now returns the current queue time in nanoseconds.
func (q *SeqQueue) Now() int64 {
	q.mu.Lock()
	anchor := q.anchor
	q.mu.Unlock()
	return time.Since(anchor).Nanoseconds()
}

// StartQueue re-anchors queue time at zero.
func (q *SeqQueue) StartQueue() {
	q.mu.Lock()
	q.anchor = time.Now()
	q.mu.Unlock()
	queueDebug("queue started")
}

// RemoveScheduled drops pending output events while preserving
// scheduled note-offs, so sounding notes still get released. This is
// the only flush the engine performs on queue stop.
func (q *SeqQueue) RemoveScheduled() {
	q.mu.Lock()
	kept := q.pending[:0]
	for _, e := range q.pending {
		if e.noteOff {
			kept = append(kept, e)
		}
	}
	q.pending = kept
	heap.Init(&q.pending)
	q.mu.Unlock()
}

// Deliver stamps an input event with the current queue time and merges
// it onto the event channel. Called from the MIDI input listener
// goroutine. A full channel drops the event.
func (q *SeqQueue) Deliver(ev Event) {
	ev.RealTime = q.Now()
	select {
	case q.events <- ev:
	default:
		queueDebug("input overflow, dropping %v", ev.Type)
	}
}

// ScheduleEvent queues ev for release at atNs on the given output port.
// Note events with durNs > 0 get a matching note-off scheduled when the
// note-on is released.
func (q *SeqQueue) ScheduleEvent(ev Event, atNs int64, port int, durNs int64) error {
	if port < 0 || port >= len(q.outs) {
		return fmt.Errorf("no such output port %d", port)
	}
	q.push(&qentry{at: atNs, ev: ev, port: port, dur: durNs})
	return nil
}

// ScheduleEcho queues a self-addressed echo event that comes back on
// the input channel at atNs, carrying infotag in its Data field.
func (q *SeqQueue) ScheduleEcho(atNs int64, infotag int) error {
	q.push(&qentry{at: atNs, ev: Event{Type: Echo, Data: infotag}})
	return nil
}

// SendDirect bypasses the queue and transmits ev immediately. Used for
// forwarding unmatched input events.
func (q *SeqQueue) SendDirect(ev Event, port int) error {
	if port < 0 || port >= len(q.outs) {
		return fmt.Errorf("no such output port %d", port)
	}
	return q.outs[port].Send(eventMessage(ev))
}

// Close terminates the release goroutine.
func (q *SeqQueue) Close() {
	close(q.quit)
	<-q.done
}

func (q *SeqQueue) push(e *qentry) {
	q.mu.Lock()
	q.seqno++
	e.seq = q.seqno
	heap.Push(&q.pending, e)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *SeqQueue) run() {
	defer close(q.done)
	for {
		var due []*qentry
		wait := 200 * time.Millisecond

		q.mu.Lock()
		now := time.Since(q.anchor).Nanoseconds()
		for len(q.pending) > 0 && q.pending[0].at <= now {
			due = append(due, heap.Pop(&q.pending).(*qentry))
		}
		if len(q.pending) > 0 {
			if d := time.Duration(q.pending[0].at - now); d < wait {
				wait = d
			}
		}
		q.mu.Unlock()

		for _, e := range due {
			q.release(e)
		}

		select {
		case <-q.quit:
			return
		case <-q.wake:
		case <-time.After(wait):
		}
	}
}

func (q *SeqQueue) release(e *qentry) {
	if e.ev.Type == Echo {
		ev := e.ev
		ev.RealTime = e.at
		select {
		case q.events <- ev:
		default:
			queueDebug("echo overflow, dropping echo at %d", e.at)
		}
		return
	}
	if err := q.outs[e.port].Send(eventMessage(e.ev)); err != nil {
		queueDebug("output error on port %d: %v", e.port, err)
	}
	if e.ev.Type == NoteOn && e.dur > 0 {
		off := Event{Type: NoteOff, Channel: e.ev.Channel, Data: e.ev.Data}
		q.push(&qentry{at: e.at + e.dur, ev: off, port: e.port, noteOff: true})
	}
}

// eventMessage converts an engine event to a wire message.
func eventMessage(ev Event) gomidi.Message {
	ch := uint8(ev.Channel & 0x0f)
	switch ev.Type {
	case NoteOn:
		return gomidi.NoteOn(ch, uint8(ev.Data&0x7f), uint8(ev.Value&0x7f))
	case NoteOff:
		return gomidi.NoteOff(ch, uint8(ev.Data&0x7f))
	case Controller:
		return gomidi.ControlChange(ch, uint8(ev.Data&0x7f), uint8(ev.Value&0x7f))
	case Start:
		return gomidi.Start()
	case Stop:
		return gomidi.Stop()
	}
	return gomidi.Reset()
}
