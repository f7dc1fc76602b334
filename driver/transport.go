package driver

// TransportPos is a snapshot of the host transport position.
type TransportPos struct {
	Frame     int
	FrameRate float64
	BPM       float64
}

// Transport is the host-transport connector. The driver reads
// positions; the host callback thread writes them and reports state
// changes through the callbacks given at construction.
type Transport interface {
	// Running reports whether the connector is attached to a host.
	Running() bool
	// Rolling reports whether the host transport is playing.
	Rolling() bool
	// Position returns the current position snapshot.
	Position() TransportPos
	Close() error
}
