package driver

import (
	"github.com/gwilherm/qmidiarp/midi"
)

// Worker is the surface every module family shares with the scheduler.
type Worker interface {
	// WantEvent reports whether the module consumes the input event.
	WantEvent(ev midi.Event) bool
	ChannelOut() int
	PortOut() int
	IsMuted() bool
}

// SeqWorker is a step sequencer module as seen by the scheduler.
// *seq.MidiSeq implements it.
type SeqWorker interface {
	Worker
	// HandleNote processes a consumed keyboard note; velocity zero is
	// a note-off.
	HandleNote(note, velocity, tick int)
	// WantTrigByKbd reports whether the first held note retriggers
	// scheduling immediately.
	WantTrigByKbd() bool
	// TrigByKbd reports whether keyboard triggering is enabled at all;
	// it suppresses the scheduler's step-grid quantisation.
	TrigByKbd() bool
	// GetNextNote returns the sample to emit, stamped with its
	// scheduling tick, and advances the module cursor.
	GetNextNote(tick int) midi.Sample
	SetCurrentIndex(ix int)
	// FrameTicks is the tick duration of one step.
	FrameTicks() int
	Velocity() int
	NoteLength() int
}

// LfoWorker produces frames of controller samples. The concrete LFO
// engine lives outside this repository; the scheduler only depends on
// this contract.
type LfoWorker interface {
	Worker
	CCNumber() int
	// Record captures an incoming controller value into the waveform.
	Record(value int)
	// GetNextFrame returns the samples of one frame terminated by a
	// sample with value -1 whose tick is the frame length.
	GetNextFrame() []midi.Sample
	// ResetFramePtr rewinds the frame cursor on transport reset.
	ResetFramePtr()
}

// ArpFrame is one scheduling slice of an arpeggiator: the chord to
// emit, its tick, the note length and whether the notes are new or a
// continuation.
type ArpFrame struct {
	Notes      []int
	Velocities []int
	Tick       int
	Length     int
	IsNew      bool
}

// ArpWorker consumes keyboard state and produces scheduled note lists.
// The concrete arpeggiator engine lives outside this repository.
type ArpWorker interface {
	Worker
	HandleNoteOn(note, velocity, tick int)
	HandleNoteOff(note, tick int, keepRelease bool)
	SetSustain(on bool, tick int)
	WantTrigByKbd() bool
	NewRandomValues()
	UpdateQueueTempo(bpm float64)
	PrepareCurrentNote(tick int) ArpFrame
	// NextNoteTick is the absolute tick the module wants to be asked
	// again.
	NextNoteTick() int
	InitArpTick(tick int)
	// FoldReleaseTicks rebases pending release times on transport
	// reset.
	FoldReleaseTicks(tick int)
	ClearNoteBuffer()
}

// Registry owns the ordered worker lists by family. Module order is
// stable and visible to the session layer.
type Registry struct {
	Arps []ArpWorker
	Lfos []LfoWorker
	Seqs []SeqWorker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}
