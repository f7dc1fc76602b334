package midi

import (
	"sync"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// recorder captures released wire messages.
type recorder struct {
	mu   sync.Mutex
	msgs []gomidi.Message
}

func (r *recorder) Send(msg gomidi.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) messages() []gomidi.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]gomidi.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recorder) waitFor(t *testing.T, n int) []gomidi.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := r.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", n, len(r.messages()))
	return nil
}

func newTestQueue() (*SeqQueue, *recorder) {
	rec := &recorder{}
	q := NewSeqQueue([]Sender{rec}, 16)
	q.StartQueue()
	return q, rec
}

func TestQueueReleasesInOrder(t *testing.T) {
	q, rec := newTestQueue()
	defer q.Close()

	// scheduled out of order, released in timestamp order
	base := q.Now()
	q.ScheduleEvent(Event{Type: NoteOn, Data: 62, Value: 100}, base+30e6, 0, 0)
	q.ScheduleEvent(Event{Type: NoteOn, Data: 60, Value: 100}, base+10e6, 0, 0)

	msgs := rec.waitFor(t, 2)
	var ch, key, vel uint8
	if !msgs[0].GetNoteStart(&ch, &key, &vel) || key != 60 {
		t.Errorf("first released message = %v, want note 60", msgs[0])
	}
	if !msgs[1].GetNoteStart(&ch, &key, &vel) || key != 62 {
		t.Errorf("second released message = %v, want note 62", msgs[1])
	}
}

func TestQueueEchoDelivery(t *testing.T) {
	q, _ := newTestQueue()
	defer q.Close()

	at := q.Now() + 5e6
	q.ScheduleEcho(at, 2)

	select {
	case ev := <-q.Events():
		if ev.Type != Echo || ev.Data != 2 {
			t.Errorf("delivered %v infotag %d, want echo infotag 2", ev.Type, ev.Data)
		}
		if ev.RealTime != at {
			t.Errorf("echo stamped %d, want %d", ev.RealTime, at)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("echo was not delivered")
	}
}

func TestQueueNoteDuration(t *testing.T) {
	q, rec := newTestQueue()
	defer q.Close()

	q.ScheduleEvent(Event{Type: NoteOn, Data: 60, Value: 100}, q.Now(), 0, 20e6)

	msgs := rec.waitFor(t, 2)
	var ch, key, vel uint8
	if !msgs[0].GetNoteStart(&ch, &key, &vel) {
		t.Errorf("first message = %v, want note-on", msgs[0])
	}
	if !msgs[1].GetNoteEnd(&ch, &key) || key != 60 {
		t.Errorf("second message = %v, want note-off 60", msgs[1])
	}
}

// Removing pending output preserves scheduled note-offs so sounding
// notes are still released.
func TestQueueRemovePreservesNoteOffs(t *testing.T) {
	q, rec := newTestQueue()
	defer q.Close()

	// a short note whose note-off is pending once the note-on is out
	q.ScheduleEvent(Event{Type: NoteOn, Data: 60, Value: 100}, q.Now(), 0, 50e6)
	rec.waitFor(t, 1)

	// far-future events that must be dropped
	q.ScheduleEvent(Event{Type: NoteOn, Data: 64, Value: 100}, q.Now()+10e9, 0, 0)
	q.ScheduleEcho(q.Now()+10e9, 0)

	q.RemoveScheduled()

	msgs := rec.waitFor(t, 2)
	var ch, key uint8
	if !msgs[1].GetNoteEnd(&ch, &key) || key != 60 {
		t.Errorf("post-remove message = %v, want note-off 60", msgs[1])
	}
	// nothing else comes out
	time.Sleep(50 * time.Millisecond)
	if len(rec.messages()) != 2 {
		t.Errorf("released %d messages, want 2", len(rec.messages()))
	}
}

func TestQueueDirectSend(t *testing.T) {
	q, rec := newTestQueue()
	defer q.Close()

	if err := q.SendDirect(Event{Type: Controller, Data: 74, Value: 10}, 0); err != nil {
		t.Fatalf("SendDirect: %v", err)
	}
	msgs := rec.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	var ch, cc, val uint8
	if !msgs[0].GetControlChange(&ch, &cc, &val) || cc != 74 || val != 10 {
		t.Errorf("direct message = %v, want cc74 val10", msgs[0])
	}

	if err := q.SendDirect(Event{Type: Controller}, 5); err == nil {
		t.Error("SendDirect on missing port should error")
	}
}

func TestQueueInputStamping(t *testing.T) {
	q, _ := newTestQueue()
	defer q.Close()

	q.Deliver(Event{Type: NoteOn, Data: 60, Value: 100})

	select {
	case ev := <-q.Events():
		if ev.Type != NoteOn || ev.RealTime < 0 {
			t.Errorf("delivered %v at %d, want stamped note-on", ev.Type, ev.RealTime)
		}
	case <-time.After(time.Second):
		t.Fatal("input event not delivered")
	}
}

func TestQueueScheduleOnMissingPort(t *testing.T) {
	q, _ := newTestQueue()
	defer q.Close()

	if err := q.ScheduleEvent(Event{Type: NoteOn, Data: 60}, q.Now(), 3, 0); err == nil {
		t.Error("scheduling on a missing port should error")
	}
}
