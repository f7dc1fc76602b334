package seq

import "github.com/gwilherm/qmidiarp/midi"

// Parameter accessors used by the driver, the control surface and the
// session layer. Setters are total: they clamp or ignore rather than
// error, validation happens at the command surface.

// SetStep writes a note value at a step index, the non-mouse
// equivalent of SetCustomWavePoint.
func (s *MidiSeq) SetStep(index, note int) {
	if index < 0 || index >= s.res*s.size {
		return
	}
	note, _ = clip(note, 0, 127)
	s.customWave[index] = midi.Sample{
		Value: note,
		Tick:  index * s.ppqn / s.res,
		Muted: s.muteMask[index],
	}
}

// SetStepMute sets the mute state of a step index.
func (s *MidiSeq) SetStepMute(index int, on bool) {
	if index < 0 || index >= s.res*s.size {
		return
	}
	s.muteMask[index] = on
	s.customWave[index].Muted = on
}

// ToggleStepMute flips the mute state of a step index and returns the
// new state.
func (s *MidiSeq) ToggleStepMute(index int) bool {
	if index < 0 || index >= s.res*s.size {
		return false
	}
	on := !s.muteMask[index]
	s.muteMask[index] = on
	s.customWave[index].Muted = on
	return on
}

// UpdateResolution sets the steps-per-quarter resolution and rebuilds
// the pattern.
func (s *MidiSeq) UpdateResolution(res int) {
	valid := false
	for _, r := range Resolutions {
		if r == res {
			valid = true
			break
		}
	}
	if !valid {
		return
	}
	s.res = res
	s.ResizeAll()
}

// UpdateSize sets the pattern length in quarters and rebuilds the
// pattern.
func (s *MidiSeq) UpdateSize(size int) {
	size, _ = clip(size, 1, 16)
	s.size = size
	s.ResizeAll()
}

// UpdateVelocity sets the output velocity.
func (s *MidiSeq) UpdateVelocity(val int) {
	s.vel, _ = clip(val, 0, 127)
}

// UpdateTranspose sets the semitone transposition applied to every
// emitted step.
func (s *MidiSeq) UpdateTranspose(val int) {
	s.transp = val
}

// UpdateNoteLength sets the emitted note length in ticks.
func (s *MidiSeq) UpdateNoteLength(val int) {
	if val > 0 {
		s.noteLength = val
	}
}

// UpdateQueueTempo records the queue tempo the module plays at.
func (s *MidiSeq) UpdateQueueTempo(bpm float64) {
	if bpm > 0 {
		s.queueTempo = bpm
	}
}

func (s *MidiSeq) SetRecordMode(on bool)    { s.recordMode = on }
func (s *MidiSeq) SetMuted(on bool)         { s.muted = on }
func (s *MidiSeq) SetTrigByKbd(on bool)     { s.trigByKbd = on }
func (s *MidiSeq) SetRestartByKbd(on bool)  { s.restartByKbd = on }
func (s *MidiSeq) SetEnableNoteIn(on bool)  { s.enableNoteIn = on }
func (s *MidiSeq) SetEnableVelIn(on bool)   { s.enableVelIn = on }
func (s *MidiSeq) SetEnableNoteOff(on bool) { s.enableNoteOff = on }

// SetChannelIn selects the input channel filter.
func (s *MidiSeq) SetChannelIn(ch int) {
	s.chIn, _ = clip(ch, 0, 15)
}

// SetChannelOut selects the output channel.
func (s *MidiSeq) SetChannelOut(ch int) {
	s.channelOut, _ = clip(ch, 0, 15)
}

// SetPortOut selects the output port index.
func (s *MidiSeq) SetPortOut(port int) {
	if port >= 0 {
		s.portOut = port
	}
}

// SetNOctaves sets the height of the vertical record range.
func (s *MidiSeq) SetNOctaves(n int) {
	s.nOctaves, _ = clip(n, 1, 8)
}

// SetBaseOctave sets the bottom of the vertical record range.
func (s *MidiSeq) SetBaseOctave(n int) {
	s.baseOctave, _ = clip(n, 0, 8)
}

func (s *MidiSeq) Res() int            { return s.res }
func (s *MidiSeq) Size() int           { return s.size }
func (s *MidiSeq) LoopMarker() int     { return s.loopMarker }
func (s *MidiSeq) LoopMode() int       { return s.curLoopMode }
func (s *MidiSeq) NOctaves() int       { return s.nOctaves }
func (s *MidiSeq) BaseOctave() int     { return s.baseOctave }
func (s *MidiSeq) Transpose() int      { return s.transp }
func (s *MidiSeq) Velocity() int       { return s.vel }
func (s *MidiSeq) NoteLength() int     { return s.noteLength }
func (s *MidiSeq) ChannelIn() int      { return s.chIn }
func (s *MidiSeq) ChannelOut() int     { return s.channelOut }
func (s *MidiSeq) PortOut() int        { return s.portOut }
func (s *MidiSeq) IsMuted() bool       { return s.muted }
func (s *MidiSeq) RecordMode() bool    { return s.recordMode }
func (s *MidiSeq) TrigByKbd() bool     { return s.trigByKbd }
func (s *MidiSeq) RestartByKbd() bool  { return s.restartByKbd }
func (s *MidiSeq) CurrentIndex() int   { return s.currentIndex }
func (s *MidiSeq) CurrentRecStep() int { return s.currentRecStep }
func (s *MidiSeq) NoteCount() int      { return s.noteCount }
func (s *MidiSeq) Finished() bool      { return s.seqFinished }
func (s *MidiSeq) Reverse() bool       { return s.reverse }
func (s *MidiSeq) PingPong() bool      { return s.pingpong }

// FrameTicks returns the scheduling slice of one step in ticks.
func (s *MidiSeq) FrameTicks() int { return s.ppqn / s.res }

// MuteMask returns a copy of the mute mask.
func (s *MidiSeq) MuteMask() []bool {
	mask := make([]bool, len(s.muteMask))
	copy(mask, s.muteMask)
	return mask
}

// WaveValues returns the note values of the waveform in step order.
func (s *MidiSeq) WaveValues() []int {
	vals := make([]int, len(s.customWave))
	for i, sm := range s.customWave {
		vals[i] = sm.Value
	}
	return vals
}

// SetWaveValues restores a waveform from note values, keeping the
// current geometry. Used by the session layer.
func (s *MidiSeq) SetWaveValues(vals []int) {
	step := s.ppqn / s.res
	for i := range s.customWave {
		if i < len(vals) {
			v, _ := clip(vals[i], 0, 127)
			s.customWave[i].Value = v
		}
		s.customWave[i].Tick = i * step
	}
}

// SetMuteMask restores the mute mask, keeping the current geometry.
func (s *MidiSeq) SetMuteMask(mask []bool) {
	for i := range s.muteMask {
		on := i < len(mask) && mask[i]
		s.muteMask[i] = on
		s.customWave[i].Muted = on
	}
}
