package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // auto-register RtMIDI driver
)

// Output represents one MIDI output port connection.
type Output struct {
	port drivers.Out
	send func(msg gomidi.Message) error
}

// ListOutPorts returns the names of the available MIDI output ports.
func ListOutPorts() []string {
	ports := gomidi.GetOutPorts()
	names := make([]string, len(ports))
	for i, port := range ports {
		names[i] = port.String()
	}
	return names
}

// ListInPorts returns the names of the available MIDI input ports.
func ListInPorts() []string {
	ports := gomidi.GetInPorts()
	names := make([]string, len(ports))
	for i, port := range ports {
		names[i] = port.String()
	}
	return names
}

// OpenOut opens a MIDI output port by index.
func OpenOut(portIndex int) (*Output, error) {
	port, err := gomidi.OutPort(portIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI port %d: %w", portIndex, err)
	}

	send, err := gomidi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	return &Output{
		port: port,
		send: send,
	}, nil
}

// Send transmits a raw MIDI message on the port.
func (o *Output) Send(msg gomidi.Message) error {
	return o.send(msg)
}

// Close closes the MIDI output port.
func (o *Output) Close() error {
	return o.port.Close()
}

// Input represents a MIDI input port with an active listener.
type Input struct {
	port drivers.In
	stop func()
}

// OpenIn opens a MIDI input port by index and starts listening. Note,
// controller, clock, start and stop messages are translated into an
// Event and handed to deliver; other messages are ignored. Realtime
// clock, start and stop messages are passed through so the engine can
// slave to an external MIDI clock.
func OpenIn(portIndex int, deliver func(Event)) (*Input, error) {
	port, err := gomidi.InPort(portIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI input port %d: %w", portIndex, err)
	}

	stop, err := gomidi.ListenTo(port, func(msg gomidi.Message, timestampms int32) {
		var channel, key, velocity uint8
		var param, value uint8

		switch {
		case msg.GetNoteStart(&channel, &key, &velocity):
			deliver(Event{Type: NoteOn, Channel: int(channel), Data: int(key), Value: int(velocity)})
		case msg.GetNoteEnd(&channel, &key):
			deliver(Event{Type: NoteOff, Channel: int(channel), Data: int(key)})
		case msg.GetControlChange(&channel, &param, &value):
			deliver(Event{Type: Controller, Channel: int(channel), Data: int(param), Value: int(value)})
		case msg.Is(gomidi.TimingClockMsg):
			deliver(Event{Type: Clock})
		case msg.Is(gomidi.StartMsg):
			deliver(Event{Type: Start})
		case msg.Is(gomidi.StopMsg):
			deliver(Event{Type: Stop})
		}
	}, gomidi.UseTimeCode())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on MIDI input port %d: %w", portIndex, err)
	}

	return &Input{port: port, stop: stop}, nil
}

// Close stops the listener and closes the input port.
func (i *Input) Close() error {
	i.stop()
	return i.port.Close()
}
