//go:build jack
// +build jack

package driver

import (
	"fmt"
	"sync"

	"github.com/xthexder/go-jack"
)

// jackSync connects to a JACK server and mirrors its transport state.
// The process callback runs on the JACK thread; position snapshots are
// taken under the mutex and state changes are reported through the
// callbacks handed to newJackSync, which post into the driver loop.
type jackSync struct {
	client     *jack.Client
	onState    func(rolling bool)
	onShutdown func()

	mu      sync.Mutex
	rolling bool
	pos     TransportPos
	closed  bool
}

func newJackSync(name string, onState func(bool), onShutdown func()) (Transport, error) {
	client, err := jack.ClientOpen(name, jack.NoStartServer)
	if err != nil {
		return nil, fmt.Errorf("failed to open JACK client: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("could not connect to JACK server")
	}

	s := &jackSync{
		client:     client,
		onState:    onState,
		onShutdown: onShutdown,
	}
	client.SetProcessCallback(s.process)
	client.OnShutdown(s.shutdown)

	if code := client.Activate(); code != 0 {
		client.Close()
		return nil, fmt.Errorf("failed to activate JACK client (status %d)", code)
	}
	return s, nil
}

func (s *jackSync) process(nframes uint32) int {
	var pos jack.TransportPosition
	state := s.client.TransportQuery(&pos)
	rolling := state == jack.TransportRolling

	s.mu.Lock()
	changed := rolling != s.rolling
	s.rolling = rolling
	s.pos = TransportPos{
		Frame:     int(pos.Frame),
		FrameRate: float64(pos.FrameRate),
		BPM:       pos.BeatsPerMinute,
	}
	s.mu.Unlock()

	if changed && s.onState != nil {
		s.onState(rolling)
	}
	return 0
}

func (s *jackSync) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.onShutdown != nil {
		s.onShutdown()
	}
}

func (s *jackSync) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *jackSync) Rolling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rolling
}

func (s *jackSync) Position() TransportPos {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *jackSync) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.client.Deactivate()
	s.client.Close()
	return nil
}
