package seq

import (
	"github.com/gwilherm/qmidiarp/midi"
)

// Default pattern geometry for a new module.
const (
	DefaultRes        = 4
	DefaultSize       = 4
	DefaultNOctaves   = 4
	DefaultBaseOctave = 3
)

// Resolutions are the valid steps-per-quarter settings.
var Resolutions = []int{1, 2, 3, 4, 6, 8, 16}

// MidiSeq is a monophonic step sequencer module. It owns a custom
// waveform of one sample per step, a mute mask mirroring it, and the
// playback cursor state: direction, ping-pong, loop marker and record
// position.
//
// All methods assume single-goroutine access: the driver run loop owns
// every module, and control-surface mutations are posted into it.
type MidiSeq struct {
	ppqn int

	enableNoteIn  bool
	enableNoteOff bool
	enableVelIn   bool
	recordMode    bool
	trigByKbd     bool
	restartByKbd  bool
	enableLoop    bool
	pingpong      bool
	reverse       bool
	seqFinished   bool
	restartFlag   bool
	curLoopMode   int
	noteCount     int

	chIn       int
	channelOut int
	portOut    int
	muted      bool

	res        int
	size       int
	vel        int
	transp     int
	noteLength int
	nOctaves   int
	baseOctave int

	loopMarker     int
	currentIndex   int
	currentRecStep int
	nextTick       int

	queueTempo    float64
	grooveTick    int
	newGrooveTick int
	grooveVel     int
	grooveLength  int

	customWave []midi.Sample
	muteMask   []bool

	// OnNoteEvent fires for every consumed note-on, OnNextStep for
	// every emitted step. Both are invoked from the driver goroutine.
	OnNoteEvent func(note, velocity int)
	OnNextStep  func(index int)
}

// NewMidiSeq creates a module with the default four-quarter pattern of
// middle C at sixteenth resolution.
func NewMidiSeq(ppqn int) *MidiSeq {
	s := &MidiSeq{
		ppqn:         ppqn,
		enableNoteIn: true,
		enableVelIn:  true,
		enableLoop:   true,
		res:          DefaultRes,
		size:         DefaultSize,
		vel:          64,
		noteLength:   74,
		nOctaves:     DefaultNOctaves,
		baseOctave:   DefaultBaseOctave,
		queueTempo:   100.0,
	}
	step := ppqn / s.res
	npoints := s.res * s.size
	s.customWave = make([]midi.Sample, npoints)
	s.muteMask = make([]bool, npoints)
	for i := 0; i < npoints; i++ {
		s.customWave[i] = midi.Sample{Value: 60, Tick: i * step}
	}
	return s
}

// WantEvent reports whether the module consumes the given input event:
// note-ons inside the keyboard range on its input channel, and any
// controller on that channel.
func (s *MidiSeq) WantEvent(ev midi.Event) bool {
	if ev.Type != midi.NoteOn && ev.Type != midi.Controller {
		return false
	}
	if ev.Channel != s.chIn {
		return false
	}
	if ev.Type == midi.NoteOn && (ev.Data < 36 || ev.Data >= 84) {
		return false
	}
	return true
}

// HandleNote processes a consumed keyboard note. A velocity of zero is
// a note-off. In record mode the note is written into the pattern at
// the record cursor instead.
func (s *MidiSeq) HandleNote(note, velocity, tick int) {
	_ = tick

	if s.recordMode {
		s.RecordNote(note)
	} else if velocity > 0 {
		if s.enableNoteIn {
			s.transp = note - 60
		}
		if s.restartByKbd && s.noteCount == 0 {
			s.restartFlag = true
		}
		if s.enableVelIn {
			s.vel = velocity
		}
		s.seqFinished = false
		s.noteCount++
	} else {
		if s.enableNoteOff && s.noteCount == 1 {
			s.seqFinished = true
		}
		if s.noteCount > 0 {
			s.noteCount--
		}
	}

	if velocity > 0 && s.OnNoteEvent != nil {
		s.OnNoteEvent(note, velocity)
	}
}

// WantTrigByKbd reports whether the first held note should retrigger
// scheduling immediately.
func (s *MidiSeq) WantTrigByKbd() bool {
	return s.trigByKbd && s.noteCount == 1
}

// GetNextNote returns the sample to emit for the current step, stamped
// with the module's scheduling tick, then advances the play cursor and
// the next tick. tick is the scheduler's current position and is only
// used to catch up after skew.
func (s *MidiSeq) GetNextNote(tick int) midi.Sample {
	frame := s.ppqn / s.res
	npoints := s.res * s.size

	if s.restartFlag {
		s.SetCurrentIndex(0)
	}
	if s.currentIndex == 0 {
		s.grooveTick = s.newGrooveTick
	}
	sample := s.customWave[s.currentIndex]
	if !s.seqFinished && s.OnNextStep != nil {
		s.OnNextStep(s.currentIndex)
	}

	s.advancePatternIndex(npoints)

	if s.seqFinished {
		sample.Muted = true
	}

	if s.nextTick < tick-frame {
		s.nextTick = tick
	}

	sample.Value += s.transp
	sample.Tick = s.nextTick

	shift := int(0.01 * float64(s.grooveTick*frame))

	// pairwise application of new groove shift
	if s.currentIndex%2 == 0 {
		shift = -shift
		s.grooveTick = s.newGrooveTick
	}
	s.nextTick += frame + shift

	if !s.trigByKbd && s.currentIndex%2 == 0 {
		// round down to current resolution (quantize)
		s.nextTick /= frame
		s.nextTick *= frame
	}

	return sample
}

// advancePatternIndex computes the next currentIndex from the play
// direction, ping-pong state and loop marker.
func (s *MidiSeq) advancePatternIndex(npoints int) {
	pivot := s.loopMarker
	if pivot < 0 {
		pivot = -pivot
	}

	if s.reverse {
		s.currentIndex--
		switch {
		case s.currentIndex == -1:
			if s.pingpong {
				s.reverse = false
				s.currentIndex = 0
			} else {
				s.currentIndex = npoints - 1
			}
		case pivot > 0 && s.currentIndex == pivot-1:
			if !s.enableLoop {
				s.seqFinished = true
			}
			s.pingpong = s.loopMarker < 0
			if s.pingpong {
				s.reverse = false
				s.currentIndex = pivot
			} else {
				s.currentIndex = npoints - 1
			}
		}
		return
	}

	s.currentIndex++
	end := pivot
	if end == 0 {
		end = npoints
	}
	switch {
	case s.currentIndex == npoints:
		if end == npoints && !s.enableLoop {
			s.seqFinished = true
		}
		if s.pingpong {
			s.reverse = true
			s.currentIndex = npoints - 1
		} else {
			s.currentIndex = 0
		}
	case s.currentIndex == end:
		if !s.enableLoop {
			s.seqFinished = true
		}
		s.pingpong = s.loopMarker > 0
		if s.pingpong {
			s.reverse = true
			s.currentIndex = pivot - 1
		} else {
			s.currentIndex = 0
		}
	}
}

// SetCurrentIndex positions the play cursor. Resetting to zero also
// restores the direction from the loop mode, clears the restart flag
// and re-derives the finished state from held notes.
func (s *MidiSeq) SetCurrentIndex(ix int) {
	s.currentIndex = ix

	if ix == 0 {
		s.reverse = s.curLoopMode&1 != 0
		s.seqFinished = s.enableNoteOff && s.noteCount == 0
		s.restartFlag = false
		if s.reverse {
			s.currentIndex = s.res*s.size - 1
		}
	}
}

// GetData returns a copy of the waveform terminated by a sample with
// value -1 whose tick carries the total frame length.
func (s *MidiSeq) GetData() []midi.Sample {
	step := s.ppqn / s.res
	npoints := s.res * s.size
	data := make([]midi.Sample, 0, npoints+1)
	data = append(data, s.customWave[:npoints]...)
	data = append(data, midi.Sample{Value: -1, Tick: step * npoints})
	return data
}

// RecordNote writes a note at the record cursor and advances it.
func (s *MidiSeq) RecordNote(note int) {
	s.setRecordedNote(note)
	s.currentRecStep++
	s.currentRecStep %= s.res * s.size
}

func (s *MidiSeq) setRecordedNote(note int) {
	note, _ = clip(note, 0, 127)
	s.customWave[s.currentRecStep] = midi.Sample{
		Value: note,
		Tick:  s.currentRecStep * s.ppqn / s.res,
		Muted: s.muteMask[s.currentRecStep],
	}
}

// SetCustomWavePoint sets one waveform point from normalised screen
// coordinates: mouseX selects the step, mouseY the note within the
// vertical record range.
func (s *MidiSeq) SetCustomWavePoint(mouseX, mouseY float64) {
	s.currentRecStep = s.stepAt(mouseX)
	s.setRecordedNote(int(12 * (mouseY*float64(s.nOctaves) + float64(s.baseOctave))))
}

// SetMutePoint sets the mute state of the step under mouseX.
func (s *MidiSeq) SetMutePoint(mouseX float64, on bool) {
	s.SetStepMute(s.stepAt(mouseX), on)
}

// ToggleMutePoint flips the mute state of the step under mouseX and
// returns the new state.
func (s *MidiSeq) ToggleMutePoint(mouseX float64) bool {
	return s.ToggleStepMute(s.stepAt(mouseX))
}

// SetLoopMarkerMouse places the loop marker from a signed normalised
// position: negative values act to the left, zero removes the marker.
func (s *MidiSeq) SetLoopMarkerMouse(mouseX float64) {
	npoints := s.res * s.size
	if mouseX > 0 {
		s.loopMarker = int(mouseX*float64(npoints) + 0.5)
	} else {
		s.loopMarker = int(mouseX*float64(npoints) - 0.5)
	}
	if abs(s.loopMarker) >= npoints {
		s.loopMarker = 0
	}
}

// SetLoopMarker places the loop marker at an absolute step index; out
// of range values remove it.
func (s *MidiSeq) SetLoopMarker(ix int) {
	if abs(ix) >= s.res*s.size {
		ix = 0
	}
	s.loopMarker = ix
}

// ResizeAll rebuilds the waveform and mute mask for the current res
// and size, repeating the previous content periodically when growing
// and truncating when shrinking. Tick stamps are recomputed and the
// cursors clamped into the new range.
func (s *MidiSeq) ResizeAll() {
	step := s.ppqn / s.res
	npoints := s.res * s.size

	s.currentIndex %= npoints
	s.currentRecStep %= npoints
	if abs(s.loopMarker) >= npoints {
		s.loopMarker = 0
	}

	old := len(s.customWave)
	wave := make([]midi.Sample, npoints)
	mask := make([]bool, npoints)
	for i := 0; i < npoints; i++ {
		if old > 0 {
			wave[i] = s.customWave[i%old]
			mask[i] = s.muteMask[i%old]
		} else {
			wave[i] = midi.Sample{Value: 60}
		}
		wave[i].Tick = i * step
		wave[i].Muted = mask[i]
	}
	s.customWave = wave
	s.muteMask = mask
}

// UpdateLoop applies a loop mode bitmask: bit 0 reverse, bit 1
// ping-pong, bit 2 disables looping.
func (s *MidiSeq) UpdateLoop(val int) {
	s.reverse = val&1 != 0
	s.pingpong = val&2 != 0
	s.enableLoop = val&4 == 0
	s.curLoopMode = val
}

// NewGrooveValues stages new groove settings. The live groove tick is
// only refreshed on even step indices to preserve the even-odd pair
// quantisation.
func (s *MidiSeq) NewGrooveValues(tick, velocity, length int) {
	s.newGrooveTick = tick
	s.grooveVel = velocity
	s.grooveLength = length
}

func (s *MidiSeq) stepAt(mouseX float64) int {
	npoints := s.res * s.size
	loc := int(mouseX * float64(npoints))
	loc, _ = clip(loc, 0, npoints-1)
	return loc
}

// clip bounds value into [min, max] and reports whether it was out of
// range.
func clip(value, min, max int) (int, bool) {
	if value > max {
		return max, true
	}
	if value < min {
		return min, true
	}
	return value, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
