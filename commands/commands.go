// Package commands is the text control surface of the engine. It
// replaces GUI signal chains with explicit mutations posted into the
// driver goroutine, so worker state is only ever touched from there.
package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/gwilherm/qmidiarp/ai"
	"github.com/gwilherm/qmidiarp/driver"
	"github.com/gwilherm/qmidiarp/seq"
	"github.com/gwilherm/qmidiarp/session"
)

// Handler parses and executes control commands against a driver.
type Handler struct {
	drv      *driver.Driver
	ppqn     int
	tempo    float64
	aiClient *ai.Client
	out      io.Writer
}

// New creates a command handler. ppqn is the engine resolution new
// modules are created at; out receives command output.
func New(drv *driver.Driver, ppqn int, tempo float64, out io.Writer) *Handler {
	return &Handler{drv: drv, ppqn: ppqn, tempo: tempo, out: out}
}

// exec runs fn on the driver goroutine and waits for it. A stopped
// driver makes it a no-op instead of blocking.
func (h *Handler) exec(fn func()) {
	done := make(chan struct{})
	h.drv.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-h.drv.Done():
	}
}

// module resolves a 1-based module number to its worker.
func (h *Handler) module(arg string) (*seq.MidiSeq, int, error) {
	num, err := strconv.Atoi(arg)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid module number: %s", arg)
	}
	var m *seq.MidiSeq
	var count int
	h.exec(func() {
		seqs := h.drv.Registry().Seqs
		count = len(seqs)
		if num >= 1 && num <= count {
			m, _ = seqs[num-1].(*seq.MidiSeq)
		}
	})
	if m == nil {
		return nil, 0, fmt.Errorf("module must be 1-%d", count)
	}
	return m, num, nil
}

// ProcessCommand parses and executes a single command line.
func (h *Handler) ProcessCommand(cmdLine string) error {
	parts := strings.Fields(strings.TrimSpace(cmdLine))
	if len(parts) == 0 {
		return nil
	}

	switch strings.ToLower(parts[0]) {
	case "run":
		return h.handleRun(parts)
	case "tempo":
		return h.handleTempo(parts)
	case "clock":
		return h.handleClock(parts)
	case "add":
		return h.handleAdd(parts)
	case "remove":
		return h.handleRemove(parts)
	case "list":
		return h.handleList(parts)
	case "show":
		return h.handleShow(parts)
	case "wave":
		return h.handleWave(parts)
	case "mute":
		return h.handleMute(parts)
	case "marker":
		return h.handleMarker(parts)
	case "res":
		return h.handleIntParam(parts, "res")
	case "size":
		return h.handleIntParam(parts, "size")
	case "loopmode":
		return h.handleIntParam(parts, "loopmode")
	case "vel":
		return h.handleIntParam(parts, "vel")
	case "notelength":
		return h.handleIntParam(parts, "notelength")
	case "transpose":
		return h.handleIntParam(parts, "transpose")
	case "port":
		return h.handleIntParam(parts, "port")
	case "octaves":
		return h.handleIntParam(parts, "octaves")
	case "baseoct":
		return h.handleIntParam(parts, "baseoct")
	case "channel":
		return h.handleChannel(parts)
	case "record":
		return h.handleFlag(parts, "record")
	case "trigkbd":
		return h.handleFlag(parts, "trigkbd")
	case "restartkbd":
		return h.handleFlag(parts, "restartkbd")
	case "noteoff":
		return h.handleFlag(parts, "noteoff")
	case "groove":
		return h.handleGroove(parts)
	case "forward":
		return h.handleForward(parts)
	case "save":
		return h.handleSave(parts)
	case "load":
		return h.handleLoad(parts)
	case "generate":
		return h.handleGenerate(parts)
	case "help":
		return h.handleHelp()
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", parts[0])
	}
}

func parseOnOff(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %s", arg)
}

func (h *Handler) handleRun(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: run on|off")
	}
	on, err := parseOnOff(parts[1])
	if err != nil {
		return err
	}
	h.exec(func() { h.drv.SetQueueStatus(on) })
	if on {
		fmt.Fprintln(h.out, "queue started")
	} else {
		fmt.Fprintln(h.out, "queue stopped")
	}
	return nil
}

func (h *Handler) handleTempo(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: tempo <bpm>")
	}
	bpm, err := strconv.Atoi(parts[1])
	if err != nil || bpm < 20 || bpm > 300 {
		return fmt.Errorf("BPM must be 20-300")
	}
	h.tempo = float64(bpm)
	h.exec(func() {
		h.drv.SetQueueTempo(float64(bpm))
		for _, w := range h.drv.Registry().Seqs {
			if m, ok := w.(*seq.MidiSeq); ok {
				m.UpdateQueueTempo(float64(bpm))
			}
		}
	})
	return nil
}

func (h *Handler) handleClock(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: clock internal|midi|jack")
	}
	switch strings.ToLower(parts[1]) {
	case "internal":
		h.exec(func() {
			h.drv.SetUseMidiClock(false)
			h.drv.SetUseJackTransport(false)
		})
	case "midi":
		h.exec(func() {
			h.drv.SetUseJackTransport(false)
			h.drv.SetUseMidiClock(true)
		})
		fmt.Fprintln(h.out, "slaved to MIDI clock, waiting for start")
	case "jack":
		h.exec(func() {
			h.drv.SetUseMidiClock(false)
			h.drv.SetUseJackTransport(true)
		})
	default:
		return fmt.Errorf("clock source must be internal, midi or jack")
	}
	return nil
}

func (h *Handler) handleAdd(parts []string) error {
	if len(parts) != 2 || strings.ToLower(parts[1]) != "seq" {
		return fmt.Errorf("usage: add seq")
	}
	var index int
	h.exec(func() {
		w := seq.NewMidiSeq(h.ppqn)
		w.UpdateQueueTempo(h.tempo)
		index = h.drv.AddSeq(w)
	})
	if index < 0 {
		return fmt.Errorf("module limit reached")
	}
	fmt.Fprintf(h.out, "added seq module %d\n", index+1)
	return nil
}

func (h *Handler) handleRemove(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: remove <module>")
	}
	_, num, err := h.module(parts[1])
	if err != nil {
		return err
	}
	h.exec(func() { h.drv.RemoveSeq(num - 1) })
	fmt.Fprintf(h.out, "removed seq module %d\n", num)
	return nil
}

func (h *Handler) handleList(parts []string) error {
	if len(parts) != 1 {
		return fmt.Errorf("usage: list")
	}
	var lines []string
	h.exec(func() {
		for i, w := range h.drv.Registry().Seqs {
			m, ok := w.(*seq.MidiSeq)
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("seq %d: res %d, size %d, ch in %d, ch out %d, port %d",
				i+1, m.Res(), m.Size(), m.ChannelIn(), m.ChannelOut(), m.PortOut()))
		}
	})
	if len(lines) == 0 {
		fmt.Fprintln(h.out, "no modules")
		return nil
	}
	for _, l := range lines {
		fmt.Fprintln(h.out, l)
	}
	return nil
}

func (h *Handler) handleShow(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: show <module>")
	}
	m, _, err := h.module(parts[1])
	if err != nil {
		return err
	}
	var text string
	h.exec(func() { text = m.String() })
	fmt.Fprint(h.out, text)
	return nil
}

func (h *Handler) handleWave(parts []string) error {
	if len(parts) != 4 {
		return fmt.Errorf("usage: wave <module> <step> <note> (e.g., 'wave 1 3 C4')")
	}
	m, _, err := h.module(parts[1])
	if err != nil {
		return err
	}
	step, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("invalid step number: %s", parts[2])
	}
	note, err := seq.NoteNameToMIDI(parts[3])
	if err != nil {
		return err
	}
	var steps int
	h.exec(func() { steps = m.Res() * m.Size() })
	if step < 1 || step > steps {
		return fmt.Errorf("step must be 1-%d", steps)
	}
	h.exec(func() { m.SetStep(step-1, note) })
	return nil
}

func (h *Handler) handleMute(parts []string) error {
	if len(parts) != 3 && len(parts) != 4 {
		return fmt.Errorf("usage: mute <module> <step> [on|off]")
	}
	m, _, err := h.module(parts[1])
	if err != nil {
		return err
	}
	step, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("invalid step number: %s", parts[2])
	}
	var steps int
	h.exec(func() { steps = m.Res() * m.Size() })
	if step < 1 || step > steps {
		return fmt.Errorf("step must be 1-%d", steps)
	}
	if len(parts) == 4 {
		on, err := parseOnOff(parts[3])
		if err != nil {
			return err
		}
		h.exec(func() { m.SetStepMute(step-1, on) })
		return nil
	}
	var on bool
	h.exec(func() { on = m.ToggleStepMute(step - 1) })
	if on {
		fmt.Fprintf(h.out, "step %d muted\n", step)
	} else {
		fmt.Fprintf(h.out, "step %d unmuted\n", step)
	}
	return nil
}

func (h *Handler) handleMarker(parts []string) error {
	if len(parts) != 3 {
		return fmt.Errorf("usage: marker <module> <step> (negative acts leftward, 0 removes)")
	}
	m, _, err := h.module(parts[1])
	if err != nil {
		return err
	}
	ix, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("invalid marker position: %s", parts[2])
	}
	h.exec(func() { m.SetLoopMarker(ix) })
	return nil
}

func (h *Handler) handleIntParam(parts []string, param string) error {
	if len(parts) != 3 {
		return fmt.Errorf("usage: %s <module> <value>", param)
	}
	m, _, err := h.module(parts[1])
	if err != nil {
		return err
	}
	val, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("invalid value: %s", parts[2])
	}

	switch param {
	case "res":
		ok := false
		for _, r := range seq.Resolutions {
			if r == val {
				ok = true
			}
		}
		if !ok {
			return fmt.Errorf("res must be one of 1, 2, 3, 4, 6, 8, 16")
		}
		h.exec(func() { m.UpdateResolution(val) })
	case "size":
		if val < 1 || val > 16 {
			return fmt.Errorf("size must be 1-16")
		}
		h.exec(func() { m.UpdateSize(val) })
	case "loopmode":
		if val < 0 || val > 7 {
			return fmt.Errorf("loopmode must be 0-7")
		}
		h.exec(func() { m.UpdateLoop(val) })
	case "vel":
		if val < 0 || val > 127 {
			return fmt.Errorf("velocity must be 0-127")
		}
		h.exec(func() { m.UpdateVelocity(val) })
	case "notelength":
		if val < 1 {
			return fmt.Errorf("note length must be positive")
		}
		h.exec(func() { m.UpdateNoteLength(val) })
	case "transpose":
		if val < -64 || val > 63 {
			return fmt.Errorf("transpose must be -64 to 63")
		}
		h.exec(func() { m.UpdateTranspose(val) })
	case "port":
		if val < 0 {
			return fmt.Errorf("port must be non-negative")
		}
		h.exec(func() { m.SetPortOut(val) })
	case "octaves":
		if val < 1 || val > 8 {
			return fmt.Errorf("octaves must be 1-8")
		}
		h.exec(func() { m.SetNOctaves(val) })
	case "baseoct":
		if val < 0 || val > 8 {
			return fmt.Errorf("base octave must be 0-8")
		}
		h.exec(func() { m.SetBaseOctave(val) })
	}
	return nil
}

func (h *Handler) handleChannel(parts []string) error {
	if len(parts) != 4 {
		return fmt.Errorf("usage: channel <module> in|out <channel>")
	}
	m, _, err := h.module(parts[1])
	if err != nil {
		return err
	}
	ch, err := strconv.Atoi(parts[3])
	if err != nil || ch < 0 || ch > 15 {
		return fmt.Errorf("channel must be 0-15")
	}
	switch strings.ToLower(parts[2]) {
	case "in":
		h.exec(func() { m.SetChannelIn(ch) })
	case "out":
		h.exec(func() { m.SetChannelOut(ch) })
	default:
		return fmt.Errorf("expected in or out, got %s", parts[2])
	}
	return nil
}

func (h *Handler) handleFlag(parts []string, flag string) error {
	if len(parts) != 3 {
		return fmt.Errorf("usage: %s <module> on|off", flag)
	}
	m, _, err := h.module(parts[1])
	if err != nil {
		return err
	}
	on, err := parseOnOff(parts[2])
	if err != nil {
		return err
	}
	switch flag {
	case "record":
		h.exec(func() { m.SetRecordMode(on) })
	case "trigkbd":
		h.exec(func() { m.SetTrigByKbd(on) })
	case "restartkbd":
		h.exec(func() { m.SetRestartByKbd(on) })
	case "noteoff":
		h.exec(func() { m.SetEnableNoteOff(on) })
	}
	return nil
}

func (h *Handler) handleGroove(parts []string) error {
	if len(parts) != 4 {
		return fmt.Errorf("usage: groove <tick> <velocity> <length>")
	}
	vals := make([]int, 3)
	for i := 0; i < 3; i++ {
		v, err := strconv.Atoi(parts[i+1])
		if err != nil || v < -100 || v > 100 {
			return fmt.Errorf("groove values must be -100 to 100")
		}
		vals[i] = v
	}
	h.exec(func() {
		for _, w := range h.drv.Registry().Seqs {
			if m, ok := w.(*seq.MidiSeq); ok {
				m.NewGrooveValues(vals[0], vals[1], vals[2])
			}
		}
	})
	return nil
}

func (h *Handler) handleForward(parts []string) error {
	if len(parts) != 2 && len(parts) != 3 {
		return fmt.Errorf("usage: forward on|off [port]")
	}
	on, err := parseOnOff(parts[1])
	if err != nil {
		return err
	}
	port := 0
	if len(parts) == 3 {
		port, err = strconv.Atoi(parts[2])
		if err != nil || port < 0 {
			return fmt.Errorf("invalid port: %s", parts[2])
		}
	}
	h.exec(func() {
		h.drv.SetForwardUnmatched(on)
		if len(parts) == 3 {
			h.drv.SetPortUnmatched(port)
		}
	})
	return nil
}

func (h *Handler) handleSave(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: save <file>")
	}
	var f *session.File
	h.exec(func() {
		f = session.Snapshot(parts[1], h.tempo, h.drv.Registry())
	})
	if err := session.Save(parts[1], f); err != nil {
		return err
	}
	fmt.Fprintf(h.out, "saved %d module(s) to %s\n", len(f.Modules), parts[1])
	return nil
}

func (h *Handler) handleLoad(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: load <file>")
	}
	f, err := session.Load(parts[1])
	if err != nil {
		return err
	}
	if f.Tempo >= 20 && f.Tempo <= 300 {
		h.tempo = f.Tempo
	}
	h.exec(func() {
		h.drv.SetQueueStatus(false)
		for i := len(h.drv.Registry().Seqs) - 1; i >= 0; i-- {
			h.drv.RemoveSeq(i)
		}
		for _, m := range f.Restore(h.ppqn) {
			m.UpdateQueueTempo(h.tempo)
			h.drv.AddSeq(m)
		}
		h.drv.SetQueueTempo(h.tempo)
	})
	fmt.Fprintf(h.out, "loaded %d module(s) from %s\n", len(f.Modules), parts[1])
	return nil
}

func (h *Handler) handleGenerate(parts []string) error {
	if len(parts) < 3 {
		return fmt.Errorf("usage: generate <module> <prompt>")
	}
	m, num, err := h.module(parts[1])
	if err != nil {
		return err
	}
	if h.aiClient == nil {
		h.aiClient, err = ai.NewFromEnv()
		if err != nil {
			return err
		}
	}

	var state string
	var steps int
	h.exec(func() {
		state = m.String()
		steps = m.Res() * m.Size()
	})

	prompt := strings.Join(parts[2:], " ")
	cmds, err := h.aiClient.GenerateCommands(context.Background(), prompt, state, num, steps)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		fmt.Fprintln(h.out, ">", cmd)
		if err := h.ProcessCommand(cmd); err != nil {
			fmt.Fprintf(h.out, "error: %v\n", err)
		}
	}
	return nil
}

func (h *Handler) handleHelp() error {
	fmt.Fprint(h.out, `commands:
  run on|off                     start or stop the queue
  tempo <bpm>                    set internal tempo (20-300)
  clock internal|midi|jack       select the time base
  add seq                        add a sequencer module
  remove <module>                remove a module
  list                           list modules
  show <module>                  display a module pattern
  wave <module> <step> <note>    set a step note (e.g. wave 1 3 C4)
  mute <module> <step> [on|off]  mute, unmute or toggle a step
  marker <module> <step>         loop marker (negative = leftward, 0 = off)
  res <module> <value>           steps per quarter (1,2,3,4,6,8,16)
  size <module> <value>          pattern length in quarters (1-16)
  loopmode <module> <0-7>        bit0 reverse, bit1 ping-pong, bit2 no-loop
  vel <module> <0-127>           output velocity
  notelength <module> <ticks>    note length in ticks
  transpose <module> <value>     semitone transposition
  channel <module> in|out <ch>   input filter / output channel
  port <module> <port>           output port
  octaves <module> <1-8>         record range height
  baseoct <module> <0-8>         record range base octave
  record <module> on|off         step record mode
  trigkbd <module> on|off        keyboard trigger
  restartkbd <module> on|off     keyboard restart
  noteoff <module> on|off        finish on note release
  groove <tick> <vel> <length>   pairwise shuffle (-100..100 each)
  forward on|off [port]          forward unmatched events
  save <file> / load <file>      session persistence
  generate <module> <prompt>     AI pattern generation
  help                           this text
  exit | quit                    leave
`)
	return nil
}

// ReadLoop runs the interactive prompt until EOF or an exit command.
func (h *Handler) ReadLoop() error {
	rl, err := readline.New("qmidiarp> ")
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or interrupt
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if lower == "exit" || lower == "quit" {
			return nil
		}
		if err := h.ProcessCommand(line); err != nil {
			fmt.Fprintf(h.out, "error: %v\n", err)
		}
	}
}
