package seq

import (
	"fmt"
	"strings"
)

// MidiToNoteName converts a MIDI note number to a name (e.g. 60 -> "C4").
func MidiToNoteName(note int) string {
	noteNames := []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	octave := note/12 - 1
	return fmt.Sprintf("%s%d", noteNames[note%12], octave)
}

// NoteNameToMIDI converts a note name to a MIDI number (e.g. "C4" -> 60).
func NoteNameToMIDI(name string) (int, error) {
	noteMap := map[string]int{
		"C": 0, "C#": 1, "Db": 1,
		"D": 2, "D#": 3, "Eb": 3,
		"E": 4,
		"F": 5, "F#": 6, "Gb": 6,
		"G": 7, "G#": 8, "Ab": 8,
		"A": 9, "A#": 10, "Bb": 10,
		"B": 11,
	}

	if len(name) < 2 {
		return 0, fmt.Errorf("invalid note name: %s", name)
	}

	var notePart string
	var octave int

	switch len(name) {
	case 2:
		notePart = name[0:1]
		if _, err := fmt.Sscanf(name[1:2], "%d", &octave); err != nil {
			return 0, fmt.Errorf("invalid note name: %s", name)
		}
	case 3:
		notePart = name[0:2]
		if _, err := fmt.Sscanf(name[2:3], "%d", &octave); err != nil {
			return 0, fmt.Errorf("invalid note name: %s", name)
		}
	default:
		return 0, fmt.Errorf("invalid note name: %s", name)
	}

	noteValue, ok := noteMap[notePart]
	if !ok {
		return 0, fmt.Errorf("invalid note name: %s", name)
	}

	midiNote := (octave+1)*12 + noteValue
	if midiNote < 0 || midiNote > 127 {
		return 0, fmt.Errorf("note out of range: %s", name)
	}

	return midiNote, nil
}

// String renders the pattern for the control surface.
func (s *MidiSeq) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("res: %d steps/quarter, size: %d quarters, transpose: %+d, velocity: %d\n",
		s.res, s.size, s.transp, s.vel))
	if s.loopMarker != 0 {
		sb.WriteString(fmt.Sprintf("loop marker: %d\n", s.loopMarker))
	}
	sb.WriteString("steps:\n")
	for i, sample := range s.customWave {
		marker := "  "
		if i == s.currentIndex {
			marker = "> "
		}
		state := ""
		if sample.Muted {
			state = " (muted)"
		}
		sb.WriteString(fmt.Sprintf("%s%2d: %s%s\n", marker, i+1, MidiToNoteName(sample.Value), state))
	}
	return sb.String()
}
