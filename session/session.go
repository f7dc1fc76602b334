// Package session saves and loads the module registry as a JSON
// session file. The engine treats the format as opaque through-put:
// every persisted field maps onto a worker getter/setter, in module
// declaration order.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gwilherm/qmidiarp/driver"
	"github.com/gwilherm/qmidiarp/seq"
)

// Module is the persisted state of one worker.
type Module struct {
	Kind       string `json:"kind"`
	ChannelIn  int    `json:"channel_in"`
	ChannelOut int    `json:"channel_out"`
	PortOut    int    `json:"port_out"`
	Res        int    `json:"res"`
	Size       int    `json:"size"`
	LoopMarker int    `json:"loop_marker"`
	LoopMode   int    `json:"loop_mode"`
	NOctaves   int    `json:"n_octaves"`
	BaseOctave int    `json:"base_octave"`
	Transp     int    `json:"transp"`
	Vel        int    `json:"vel"`
	NoteLength int    `json:"note_length"`
	MuteMask   []bool `json:"mute_mask"`
	CustomWave []int  `json:"custom_wave"`
}

// File is the JSON structure of a session.
type File struct {
	Name      string   `json:"name"`
	Tempo     float64  `json:"tempo"`
	Modules   []Module `json:"modules"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// Snapshot captures the sequencer modules of a registry. Call from the
// driver goroutine.
func Snapshot(name string, tempo float64, reg *driver.Registry) *File {
	f := &File{
		Name:      name,
		Tempo:     tempo,
		CreatedAt: time.Now().Format(time.RFC3339),
	}
	for _, w := range reg.Seqs {
		m, ok := w.(*seq.MidiSeq)
		if !ok {
			continue
		}
		f.Modules = append(f.Modules, Module{
			Kind:       "seq",
			ChannelIn:  m.ChannelIn(),
			ChannelOut: m.ChannelOut(),
			PortOut:    m.PortOut(),
			Res:        m.Res(),
			Size:       m.Size(),
			LoopMarker: m.LoopMarker(),
			LoopMode:   m.LoopMode(),
			NOctaves:   m.NOctaves(),
			BaseOctave: m.BaseOctave(),
			Transp:     m.Transpose(),
			Vel:        m.Velocity(),
			NoteLength: m.NoteLength(),
			MuteMask:   m.MuteMask(),
			CustomWave: m.WaveValues(),
		})
	}
	return f
}

// Restore builds workers from a session file. ppqn is the engine
// resolution the modules are created at.
func (f *File) Restore(ppqn int) []*seq.MidiSeq {
	var modules []*seq.MidiSeq
	for _, m := range f.Modules {
		if m.Kind != "seq" {
			continue
		}
		w := seq.NewMidiSeq(ppqn)
		w.UpdateResolution(m.Res)
		w.UpdateSize(m.Size)
		w.SetLoopMarker(m.LoopMarker)
		w.UpdateLoop(m.LoopMode)
		w.SetNOctaves(m.NOctaves)
		w.SetBaseOctave(m.BaseOctave)
		w.UpdateTranspose(m.Transp)
		w.UpdateVelocity(m.Vel)
		w.UpdateNoteLength(m.NoteLength)
		w.SetChannelIn(m.ChannelIn)
		w.SetChannelOut(m.ChannelOut)
		w.SetPortOut(m.PortOut)
		w.SetWaveValues(m.CustomWave)
		w.SetMuteMask(m.MuteMask)
		modules = append(modules, w)
	}
	return modules
}

// Save writes a session file, creating the directory if needed.
func Save(path string, f *File) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Load reads a session file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &f, nil
}
