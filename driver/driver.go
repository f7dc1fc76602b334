package driver

import (
	"time"

	"github.com/GeoffreyPlitt/debuggo"

	"github.com/gwilherm/qmidiarp/midi"
)

var debug = debuggo.Debug("qmidiarp:driver")

// Footswitch controller routed to arpeggiator sustain.
const footswitchCC = 64

// lookAheadTicks widens the due-tick comparison to cope with initial
// sync imperfections.
const lookAheadTicks = 8

// maxModules bounds each worker family, matching the per-module tick
// storage of the scheduler.
const maxModules = 20

// Config carries the scheduler constants. Zero values are replaced by
// the defaults.
type Config struct {
	PPQN            int     // ticks per quarter note
	MidiClockPPQ    int     // pulses per quarter of an incoming MIDI clock
	SchedDelayTicks int     // dispatch latency absorbed by arp scheduling
	Tempo           float64 // internal tempo in BPM
}

func (c Config) withDefaults() Config {
	if c.PPQN == 0 {
		c.PPQN = 192
	}
	if c.MidiClockPPQ == 0 {
		c.MidiClockPPQ = 24
	}
	if c.SchedDelayTicks == 0 {
		c.SchedDelayTicks = 2
	}
	if c.Tempo == 0 {
		c.Tempo = 100
	}
	return c
}

// Backend is the MIDI back-end contract the scheduler needs: a merged
// input stream, a realtime queue with echo events, direct send for
// forwarding, and conditional removal of pending output.
// *midi.SeqQueue implements it.
type Backend interface {
	Events() <-chan midi.Event
	Now() int64
	StartQueue()
	RemoveScheduled()
	ScheduleEvent(ev midi.Event, atNs int64, port int, durNs int64) error
	ScheduleEcho(atNs int64, infotag int) error
	SendDirect(ev midi.Event, port int) error
}

// Driver is the look-ahead dispatcher of the engine. A single goroutine
// owns every worker and all scheduling state; incoming MIDI, echo
// wake-ups and posted control mutations are serviced from the same
// loop.
type Driver struct {
	cfg     Config
	backend Backend
	clock   *TickClock
	reg     *Registry

	inbox chan func()
	quit  chan struct{}
	done  chan struct{}

	running          bool
	startQueue       bool
	fallback         bool
	useMidiClock     bool
	useJackSync      bool
	midiControllable bool
	forwardUnmatched bool
	portUnmatched    int

	tick           int
	midiTick       int
	lastSchedTick  int
	jackOffsetTick int
	internalTempo  float64
	realTime       int64

	nextArpTick []int
	nextLfoTick []int
	nextSeqTick []int

	nextMinArpTick int
	nextMinLfoTick int
	nextMinSeqTick int

	gotArpKbdTrig bool
	gotSeqKbdTrig bool

	transport Transport

	// Observers, fired from the driver goroutine.
	OnMidiEvent         func(typ midi.EventType, data, channel, value int)
	OnControlEvent      func(cc, channel, value int)
	OnTransportShutdown func(running bool)
}

// New creates a driver over the given back-end. The registry starts
// empty; modules are added through the Add methods, posted into the
// run loop.
func New(backend Backend, cfg Config) *Driver {
	cfg = cfg.withDefaults()
	return &Driver{
		cfg:              cfg,
		backend:          backend,
		clock:            NewTickClock(cfg.PPQN, cfg.Tempo),
		reg:              NewRegistry(),
		inbox:            make(chan func(), 64),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
		midiControllable: true,
		internalTempo:    cfg.Tempo,
	}
}

// Registry exposes the worker lists for the session layer. Access only
// from the driver goroutine via Post.
func (d *Driver) Registry() *Registry { return d.reg }

// Clock exposes the tick clock. Access only from the driver goroutine.
func (d *Driver) Clock() *TickClock { return d.clock }

// Start launches the run loop.
func (d *Driver) Start() {
	go d.run()
}

// Stop aborts the run loop and waits for it to exit.
func (d *Driver) Stop() {
	close(d.quit)
	<-d.done
	if d.transport != nil {
		d.transport.Close()
		d.transport = nil
	}
}

// Post hands a mutation to the run loop. All worker and driver state
// changes from other goroutines go through here.
func (d *Driver) Post(fn func()) {
	select {
	case d.inbox <- fn:
	case <-d.quit:
	}
}

// Done returns a channel that is closed when the run loop has exited.
func (d *Driver) Done() <-chan struct{} { return d.done }

// run is the driver loop: it services input and echo events, drains
// posted mutations, and checks the abort flag on a 200 ms poll cycle.
func (d *Driver) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		case fn := <-d.inbox:
			fn()
		case ev := <-d.backend.Events():
			d.handleInput(ev)
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// handleInput classifies one event from the back-end stream.
func (d *Driver) handleInput(ev midi.Event) {
	if ev.Type == midi.Clock && d.useMidiClock {
		d.midiTick++
		d.tick = d.midiTick * d.cfg.PPQN / d.cfg.MidiClockPPQ
		if d.tick > d.nextMinLfoTick && len(d.reg.Lfos) > 0 {
			d.fallback = true
		}
		if d.tick > d.nextMinSeqTick && len(d.reg.Seqs) > 0 {
			d.fallback = true
		}
	}

	if (ev.Type == midi.Echo || d.startQueue || d.fallback) && d.running {
		d.fallback = false
		d.realTime = ev.RealTime
		d.handleEcho(ev)
	} else {
		if ev.Type == midi.NoteOff {
			ev.Type = midi.NoteOn
			ev.Value = 0
		}
		unmatched := d.handleEvent(ev)
		if d.forwardUnmatched && unmatched && ev.Type != midi.Echo {
			if err := d.backend.SendDirect(ev, d.portUnmatched); err != nil {
				debug("forward failed: %v", err)
			}
		}
		if d.OnMidiEvent != nil {
			d.OnMidiEvent(ev.Type, ev.Data, ev.Channel, ev.Value)
		}
	}
	if !d.running {
		// some events still come in after queue stop
		d.tick = 0
	}
}

// handleEcho recomputes the transport tick and services every module
// family whose next tick is due, then re-arms the next echo.
func (d *Driver) handleEcho(in midi.Event) {
	switch {
	case d.useMidiClock:
		d.tick = d.midiTick * d.cfg.PPQN / d.cfg.MidiClockPPQ
		d.clock.Recalibrate(float64(d.realTime), d.tick)
	case d.useJackSync:
		if d.transport != nil && d.transport.Running() {
			if !d.transport.Rolling() {
				d.SetQueueStatus(false)
			}
			pos := d.transport.Position()
			if pos.BPM > 0 {
				d.clock.tempo = pos.BPM
			}
			d.tick = int(float64(pos.Frame)*float64(d.cfg.PPQN)/
				pos.FrameRate*d.clock.tempo/60) - d.jackOffsetTick
			d.clock.Recalibrate(float64(d.realTime), d.tick)
		}
	default:
		d.clock.resetRatio()
		d.tick = d.clock.NsToTicks(float64(d.realTime))
	}

	if d.tick < 0 {
		return
	}
	d.startQueue = false

	d.echoLfos()
	d.echoSeqs(in)
	d.echoArps(in)
}

// echoLfos requests and queues one controller frame per due LFO.
func (d *Driver) echoLfos() {
	if (d.tick+lookAheadTicks) < d.nextMinLfoTick || len(d.reg.Lfos) == 0 {
		return
	}
	for i, w := range d.reg.Lfos {
		if (d.tick + lookAheadTicks) >= d.nextLfoTick[i] {
			frame := w.GetNextFrame()
			frameTicks := 0
			if len(frame) > 0 {
				frameTicks = frame[len(frame)-1].Tick
			}
			if !w.IsMuted() {
				for _, sample := range frame {
					if sample.Value < 0 {
						break
					}
					if sample.Muted {
						continue
					}
					ev := midi.Event{
						Type:    midi.Controller,
						Channel: w.ChannelOut(),
						Data:    w.CCNumber(),
						Value:   sample.Value,
					}
					d.schedEvent(ev, d.nextLfoTick[i]+sample.Tick, w.PortOut(), 0)
				}
			}
			if frameTicks > 0 {
				d.nextLfoTick[i] += frameTicks
				// round down to current resolution (quantize)
				d.nextLfoTick[i] /= frameTicks
				d.nextLfoTick[i] *= frameTicks
			}
		}
		if i == 0 || d.nextLfoTick[i] < d.nextMinLfoTick {
			d.nextMinLfoTick = d.nextLfoTick[i]
		}
	}
	d.requestEchoAt(d.nextMinLfoTick, 0)
}

// echoSeqs requests and queues one step per due sequencer module.
func (d *Driver) echoSeqs(in midi.Event) {
	if (d.tick+lookAheadTicks) < d.nextMinSeqTick || len(d.reg.Seqs) == 0 {
		return
	}
	for i, w := range d.reg.Seqs {
		if (d.gotSeqKbdTrig && in.Data == echoTrigKbd && w.WantTrigByKbd()) ||
			(!d.gotSeqKbdTrig && in.Data == echoNormal) {
			d.gotSeqKbdTrig = false
			if (d.tick + lookAheadTicks) >= d.nextSeqTick[i] {
				sample := w.GetNextNote(d.tick)
				frame := w.FrameTicks()
				if !w.IsMuted() && !sample.Muted {
					ev := midi.Event{
						Type:    midi.NoteOn,
						Channel: w.ChannelOut(),
						Data:    sample.Value,
						Value:   w.Velocity(),
					}
					d.schedEvent(ev, d.nextSeqTick[i], w.PortOut(), w.NoteLength())
				}
				d.nextSeqTick[i] += frame
				if !w.TrigByKbd() {
					// round down to current resolution (quantize)
					d.nextSeqTick[i] /= frame
					d.nextSeqTick[i] *= frame
				}
			}
		}
		if i == 0 || d.nextSeqTick[i] < d.nextMinSeqTick {
			d.nextMinSeqTick = d.nextSeqTick[i]
		}
	}
	d.requestEchoAt(d.nextMinSeqTick, 0)
}

// echoArps requests and queues the prepared chord per due arpeggiator.
func (d *Driver) echoArps(in midi.Event) {
	if (d.tick+lookAheadTicks) < d.nextMinArpTick || len(d.reg.Arps) == 0 {
		return
	}
	for i, w := range d.reg.Arps {
		if (d.gotArpKbdTrig && in.Data == echoTrigKbd && w.WantTrigByKbd()) ||
			(!d.gotArpKbdTrig && in.Data == echoNormal) {
			d.gotArpKbdTrig = false
			if d.tick+d.cfg.SchedDelayTicks >= d.nextArpTick[i] {
				w.NewRandomValues()
				w.UpdateQueueTempo(d.clock.Tempo())
				frame := w.PrepareCurrentNote(d.tick)
				if frame.IsNew && len(frame.Velocities) > 0 && frame.Velocities[0] > 0 {
					for n, note := range frame.Notes {
						if note < 0 {
							break
						}
						ev := midi.Event{
							Type:    midi.NoteOn,
							Channel: w.ChannelOut(),
							Data:    note,
							Value:   frame.Velocities[n],
						}
						d.schedEvent(ev, frame.Tick, w.PortOut(), frame.Length*4)
					}
				}
				d.nextArpTick[i] = w.NextNoteTick()
			}
		}
		if i == 0 || d.nextArpTick[i] < d.nextMinArpTick+d.cfg.SchedDelayTicks {
			d.nextMinArpTick = d.nextArpTick[i] - d.cfg.SchedDelayTicks
		}
	}
	if d.nextMinArpTick < 0 {
		d.nextMinArpTick = 0
	}
	d.requestEchoAt(d.nextMinArpTick, 0)
}

// handleEvent routes an input event to every worker that wants it and
// reports whether it stayed unmatched.
func (d *Driver) handleEvent(ev midi.Event) bool {
	unmatched := true

	if ev.Type == midi.Controller {
		if ev.Data == footswitchCC {
			for _, w := range d.reg.Arps {
				if w.WantEvent(ev) {
					w.SetSustain(ev.Value == 127, d.tick)
					unmatched = false
				}
			}
			return unmatched
		}
		for _, w := range d.reg.Lfos {
			if w.WantEvent(ev) {
				w.Record(ev.Value)
				unmatched = false
			}
		}
		for _, w := range d.reg.Seqs {
			if w.WantEvent(ev) {
				unmatched = false
			}
		}
		if d.midiControllable && unmatched {
			if d.OnControlEvent != nil {
				d.OnControlEvent(ev.Data, ev.Channel, ev.Value)
			}
			unmatched = false
		}
		return unmatched
	}

	if ev.Type == midi.NoteOn {
		for i, w := range d.reg.Seqs {
			if !w.WantEvent(ev) {
				continue
			}
			unmatched = false
			d.tick = d.clock.NsToTicks(float64(d.backend.Now()))
			w.HandleNote(ev.Data, ev.Value, d.tick)

			if ev.Value > 0 && w.WantTrigByKbd() {
				d.nextMinSeqTick = d.tick
				d.nextSeqTick[i] = d.nextMinSeqTick + d.cfg.SchedDelayTicks
				d.gotSeqKbdTrig = true
				d.requestEchoAt(d.nextMinSeqTick, echoTrigKbd)
			}
		}
		for i, w := range d.reg.Arps {
			if !w.WantEvent(ev) {
				continue
			}
			unmatched = false
			if ev.Value > 0 {
				d.tick = d.clock.NsToTicks(float64(d.backend.Now()))
				w.HandleNoteOn(ev.Data, ev.Value, d.tick)

				if w.WantTrigByKbd() {
					d.nextMinArpTick = d.tick
					d.nextArpTick[i] = d.nextMinArpTick + d.cfg.SchedDelayTicks
					d.gotArpKbdTrig = true
					d.requestEchoAt(d.nextMinArpTick, echoTrigKbd)
				}
			} else {
				w.HandleNoteOff(ev.Data, d.tick, true)
			}
		}
		return unmatched
	}

	if d.useMidiClock {
		switch ev.Type {
		case midi.Start:
			d.SetQueueStatus(true)
		case midi.Stop:
			d.SetQueueStatus(false)
		}
	}
	return unmatched
}

// Echo infotags: a normal look-ahead wake-up, or a keyboard retrigger
// that only services the module that asked for it.
const (
	echoNormal  = 0
	echoTrigKbd = 2
)

// schedEvent stamps an event in queue time and hands it to the
// back-end. Failures are logged and ignored; the run loop never aborts
// on output errors.
func (d *Driver) schedEvent(ev midi.Event, nTick, outport, length int) {
	at := int64(d.clock.TicksToNs(nTick))
	dur := int64(d.clock.TicksToNs(length))
	if err := d.backend.ScheduleEvent(ev, at, outport, dur); err != nil {
		debug("schedule failed at tick %d: %v", nTick, err)
	}
}

// requestEchoAt arms the next wake-up. Repeated requests for the same
// non-zero tick are dropped.
func (d *Driver) requestEchoAt(echoTick, infotag int) bool {
	if echoTick == d.lastSchedTick && echoTick != 0 {
		return false
	}
	d.lastSchedTick = echoTick
	if err := d.backend.ScheduleEcho(int64(d.clock.TicksToNs(echoTick)), infotag); err != nil {
		debug("echo request failed at tick %d: %v", echoTick, err)
	}
	return true
}

// resetTicks zeroes every per-module and family tick, rewinds all
// workers, and re-derives the clock state for the active source.
func (d *Driver) resetTicks() {
	for _, w := range d.reg.Arps {
		w.FoldReleaseTicks(d.tick)
		w.InitArpTick(0)
	}
	for _, w := range d.reg.Lfos {
		w.ResetFramePtr()
	}
	for _, w := range d.reg.Seqs {
		w.SetCurrentIndex(0)
	}
	for i := range d.nextArpTick {
		d.nextArpTick[i] = 0
	}
	for i := range d.nextLfoTick {
		d.nextLfoTick[i] = 0
	}
	for i := range d.nextSeqTick {
		d.nextSeqTick[i] = 0
	}
	d.nextMinArpTick = 0
	d.nextMinLfoTick = 0
	d.nextMinSeqTick = 0
	d.lastSchedTick = 0
	d.jackOffsetTick = 0

	switch {
	case d.useMidiClock:
		d.midiTick = 0
	case d.useJackSync:
		if d.transport != nil && d.transport.Running() {
			pos := d.transport.Position()
			// some hosts do not publish a tempo
			if pos.BPM > 0 {
				d.clock.tempo = pos.BPM
			} else {
				d.clock.tempo = d.internalTempo
			}
			d.jackOffsetTick = int(float64(pos.Frame) * float64(d.cfg.PPQN) /
				pos.FrameRate * d.clock.tempo / 60)
			d.clock.resetRatio()
		}
	default:
		d.clock.SetTempo(d.internalTempo)
	}

	d.tick = 0
}

// SetQueueStatus starts or stops scheduling. Starting resets all tick
// state and arms an echo at zero; stopping clears arpeggiator buffers
// and flushes pending output while preserving scheduled note-offs.
// Must run on the driver goroutine.
func (d *Driver) SetQueueStatus(run bool) {
	if run {
		d.running = true
		d.startQueue = true
		d.resetTicks()
		d.backend.StartQueue()
		d.requestEchoAt(0, echoNormal)
		debug("queue started")
		return
	}

	d.running = false
	for _, w := range d.reg.Arps {
		w.ClearNoteBuffer()
	}
	d.backend.RemoveScheduled()
	d.tick = 0
	debug("queue stopped")
}

// Running reports whether the queue is scheduling.
func (d *Driver) Running() bool { return d.running }

// SetQueueTempo sets the internal tempo. Must run on the driver
// goroutine.
func (d *Driver) SetQueueTempo(bpm float64) {
	d.internalTempo = bpm
	d.clock.SetTempo(bpm)
}

// SetUseMidiClock selects or deselects the incoming MIDI clock as time
// base. The queue is stopped either way; an incoming Start re-enables
// it. Must run on the driver goroutine.
func (d *Driver) SetUseMidiClock(on bool) {
	d.clock.resetRatio()
	d.SetQueueStatus(false)
	d.useMidiClock = on
}

// SetUseJackTransport connects or disconnects the host transport. An
// unavailable host demotes to the internal source and reports shutdown
// upward. Must run on the driver goroutine.
func (d *Driver) SetUseJackTransport(on bool) {
	if on {
		t, err := newJackSync("qmidiarp",
			func(rolling bool) {
				d.Post(func() { d.SetQueueStatus(rolling) })
			},
			func() {
				d.Post(func() { d.jackShutdown() })
			})
		if err != nil {
			debug("host transport unavailable: %v", err)
			if d.OnTransportShutdown != nil {
				d.OnTransportShutdown(false)
			}
			return
		}
		d.transport = t
		d.useJackSync = true
		return
	}
	if d.useJackSync {
		d.transport.Close()
		d.transport = nil
		d.useJackSync = false
	}
}

func (d *Driver) jackShutdown() {
	d.SetQueueStatus(false)
	d.SetUseJackTransport(false)
	if d.OnTransportShutdown != nil {
		d.OnTransportShutdown(false)
	}
}

// SetMidiControllable toggles surfacing of unconsumed controllers.
func (d *Driver) SetMidiControllable(on bool) { d.midiControllable = on }

// SetForwardUnmatched toggles retransmission of unmatched events.
func (d *Driver) SetForwardUnmatched(on bool) { d.forwardUnmatched = on }

// SetPortUnmatched selects the port unmatched events are forwarded to.
func (d *Driver) SetPortUnmatched(port int) { d.portUnmatched = port }

// AddSeq appends a sequencer module and returns its index, or -1 when
// the family is full. Must run on the driver goroutine.
func (d *Driver) AddSeq(w SeqWorker) int {
	if len(d.reg.Seqs) >= maxModules {
		return -1
	}
	d.reg.Seqs = append(d.reg.Seqs, w)
	d.nextSeqTick = append(d.nextSeqTick, 0)
	return len(d.reg.Seqs) - 1
}

// RemoveSeq removes the sequencer module at index. Must run on the
// driver goroutine.
func (d *Driver) RemoveSeq(index int) {
	if index < 0 || index >= len(d.reg.Seqs) {
		return
	}
	d.reg.Seqs = append(d.reg.Seqs[:index], d.reg.Seqs[index+1:]...)
	d.nextSeqTick = append(d.nextSeqTick[:index], d.nextSeqTick[index+1:]...)
}

// AddLfo appends an LFO module and returns its index, or -1 when the
// family is full. Must run on the driver goroutine.
func (d *Driver) AddLfo(w LfoWorker) int {
	if len(d.reg.Lfos) >= maxModules {
		return -1
	}
	d.reg.Lfos = append(d.reg.Lfos, w)
	d.nextLfoTick = append(d.nextLfoTick, 0)
	return len(d.reg.Lfos) - 1
}

// RemoveLfo removes the LFO module at index. Must run on the driver
// goroutine.
func (d *Driver) RemoveLfo(index int) {
	if index < 0 || index >= len(d.reg.Lfos) {
		return
	}
	d.reg.Lfos = append(d.reg.Lfos[:index], d.reg.Lfos[index+1:]...)
	d.nextLfoTick = append(d.nextLfoTick[:index], d.nextLfoTick[index+1:]...)
}

// AddArp appends an arpeggiator module and returns its index, or -1
// when the family is full. Must run on the driver goroutine.
func (d *Driver) AddArp(w ArpWorker) int {
	if len(d.reg.Arps) >= maxModules {
		return -1
	}
	d.reg.Arps = append(d.reg.Arps, w)
	d.nextArpTick = append(d.nextArpTick, 0)
	return len(d.reg.Arps) - 1
}

// RemoveArp removes the arpeggiator module at index. Must run on the
// driver goroutine.
func (d *Driver) RemoveArp(index int) {
	if index < 0 || index >= len(d.reg.Arps) {
		return
	}
	d.reg.Arps = append(d.reg.Arps[:index], d.reg.Arps[index+1:]...)
	d.nextArpTick = append(d.nextArpTick[:index], d.nextArpTick[index+1:]...)
}
