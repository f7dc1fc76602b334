//go:build !jack
// +build !jack

package driver

import "fmt"

// Builds without the jack tag have no host-transport connector; asking
// for one demotes the driver to the internal time base.
func newJackSync(name string, onState func(bool), onShutdown func()) (Transport, error) {
	return nil, fmt.Errorf("built without JACK transport support")
}
