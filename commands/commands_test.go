package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gwilherm/qmidiarp/driver"
	"github.com/gwilherm/qmidiarp/midi"
	"github.com/gwilherm/qmidiarp/seq"
)

// nullBackend satisfies driver.Backend without any I/O.
type nullBackend struct {
	events chan midi.Event
}

func (b *nullBackend) Events() <-chan midi.Event { return b.events }
func (b *nullBackend) Now() int64                { return 0 }
func (b *nullBackend) StartQueue()               {}
func (b *nullBackend) RemoveScheduled()          {}
func (b *nullBackend) ScheduleEvent(ev midi.Event, atNs int64, port int, durNs int64) error {
	return nil
}
func (b *nullBackend) ScheduleEcho(atNs int64, infotag int) error { return nil }
func (b *nullBackend) SendDirect(ev midi.Event, port int) error   { return nil }

func newTestHandler(t *testing.T) (*Handler, *driver.Driver, *bytes.Buffer) {
	t.Helper()
	drv := driver.New(&nullBackend{events: make(chan midi.Event)}, driver.Config{})
	drv.Start()
	t.Cleanup(drv.Stop)

	out := &bytes.Buffer{}
	return New(drv, 192, 100, out), drv, out
}

// firstSeq fetches the first module through the driver goroutine.
func firstSeq(h *Handler, drv *driver.Driver) *seq.MidiSeq {
	var m *seq.MidiSeq
	h.exec(func() {
		if seqs := drv.Registry().Seqs; len(seqs) > 0 {
			m, _ = seqs[0].(*seq.MidiSeq)
		}
	})
	return m
}

func TestAddListRemove(t *testing.T) {
	h, drv, out := newTestHandler(t)

	if err := h.ProcessCommand("add seq"); err != nil {
		t.Fatalf("add seq: %v", err)
	}
	if !strings.Contains(out.String(), "added seq module 1") {
		t.Errorf("add output = %q", out.String())
	}
	if firstSeq(h, drv) == nil {
		t.Fatal("module not registered")
	}

	out.Reset()
	if err := h.ProcessCommand("list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "seq 1:") {
		t.Errorf("list output = %q", out.String())
	}

	if err := h.ProcessCommand("remove 1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if firstSeq(h, drv) != nil {
		t.Error("module still registered after remove")
	}

	if err := h.ProcessCommand("remove 1"); err == nil {
		t.Error("remove on empty registry should error")
	}
}

func TestWaveAndMute(t *testing.T) {
	h, drv, _ := newTestHandler(t)
	h.ProcessCommand("add seq")

	if err := h.ProcessCommand("wave 1 3 C2"); err != nil {
		t.Fatalf("wave: %v", err)
	}
	m := firstSeq(h, drv)
	if v := m.WaveValues()[2]; v != 36 {
		t.Errorf("step 3 value = %d, want 36", v)
	}

	if err := h.ProcessCommand("mute 1 3 on"); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if !m.MuteMask()[2] {
		t.Error("step 3 not muted")
	}

	// toggle without argument
	if err := h.ProcessCommand("mute 1 3"); err != nil {
		t.Fatalf("mute toggle: %v", err)
	}
	if m.MuteMask()[2] {
		t.Error("step 3 still muted after toggle")
	}

	// validation
	if err := h.ProcessCommand("wave 1 99 C2"); err == nil {
		t.Error("out of range step should error")
	}
	if err := h.ProcessCommand("wave 1 1 X9"); err == nil {
		t.Error("bad note name should error")
	}
	if err := h.ProcessCommand("wave 2 1 C2"); err == nil {
		t.Error("missing module should error")
	}
}

func TestParamValidation(t *testing.T) {
	h, drv, _ := newTestHandler(t)
	h.ProcessCommand("add seq")
	m := firstSeq(h, drv)

	tests := []struct {
		cmd     string
		wantErr bool
	}{
		{"res 1 8", false},
		{"res 1 5", true},
		{"size 1 2", false},
		{"size 1 0", true},
		{"size 1 17", true},
		{"loopmode 1 3", false},
		{"loopmode 1 9", true},
		{"vel 1 127", false},
		{"vel 1 200", true},
		{"transpose 1 -12", false},
		{"transpose 1 90", true},
		{"marker 1 4", false},
		{"channel 1 in 5", false},
		{"channel 1 in 16", true},
		{"channel 1 sideways 5", true},
		{"octaves 1 3", false},
		{"octaves 1 9", true},
		{"tempo 140", false},
		{"tempo 10", true},
		{"groove 40 0 0", false},
		{"groove 200 0 0", true},
	}
	for _, tt := range tests {
		err := h.ProcessCommand(tt.cmd)
		if (err != nil) != tt.wantErr {
			t.Errorf("ProcessCommand(%q) error = %v, wantErr %v", tt.cmd, err, tt.wantErr)
		}
	}

	if m.Res() != 8 || m.Size() != 2 {
		t.Errorf("geometry = %dx%d, want 8x2", m.Res(), m.Size())
	}
	if m.LoopMode() != 3 || m.Velocity() != 127 || m.Transpose() != -12 {
		t.Error("validated parameters not applied")
	}
	if m.LoopMarker() != 4 || m.ChannelIn() != 5 || m.NOctaves() != 3 {
		t.Error("marker/channel/octaves not applied")
	}
}

func TestFlags(t *testing.T) {
	h, drv, _ := newTestHandler(t)
	h.ProcessCommand("add seq")
	m := firstSeq(h, drv)

	for _, cmd := range []string{
		"record 1 on", "trigkbd 1 on", "restartkbd 1 on", "noteoff 1 on",
	} {
		if err := h.ProcessCommand(cmd); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
	if !m.RecordMode() || !m.TrigByKbd() || !m.RestartByKbd() {
		t.Error("flags not applied")
	}

	if err := h.ProcessCommand("record 1 maybe"); err == nil {
		t.Error("bad flag value should error")
	}
}

func TestRunCommand(t *testing.T) {
	h, drv, _ := newTestHandler(t)
	h.ProcessCommand("add seq")

	if err := h.ProcessCommand("run on"); err != nil {
		t.Fatalf("run on: %v", err)
	}
	var running bool
	h.exec(func() { running = drv.Running() })
	if !running {
		t.Error("queue not running after 'run on'")
	}

	if err := h.ProcessCommand("run off"); err != nil {
		t.Fatalf("run off: %v", err)
	}
	h.exec(func() { running = drv.Running() })
	if running {
		t.Error("queue still running after 'run off'")
	}
}

func TestSaveLoadCommands(t *testing.T) {
	h, drv, _ := newTestHandler(t)
	h.ProcessCommand("add seq")
	h.ProcessCommand("wave 1 1 D3")
	h.ProcessCommand("vel 1 111")

	path := filepath.Join(t.TempDir(), "take.json")
	if err := h.ProcessCommand("save " + path); err != nil {
		t.Fatalf("save: %v", err)
	}

	h.ProcessCommand("remove 1")
	if err := h.ProcessCommand("load " + path); err != nil {
		t.Fatalf("load: %v", err)
	}

	m := firstSeq(h, drv)
	if m == nil {
		t.Fatal("no module after load")
	}
	if m.WaveValues()[0] != 50 || m.Velocity() != 111 {
		t.Errorf("restored wave/vel = %d/%d, want 50/111", m.WaveValues()[0], m.Velocity())
	}
}

func TestUnknownCommand(t *testing.T) {
	h, _, _ := newTestHandler(t)
	if err := h.ProcessCommand("frobnicate"); err == nil {
		t.Error("unknown command should error")
	}
	if err := h.ProcessCommand(""); err != nil {
		t.Errorf("empty line should be ignored, got %v", err)
	}
}
