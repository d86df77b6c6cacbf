package bridge

import "github.com/orchestra-mcp/wearlink/src/types"

// Bridge mirrors connection state to an external broker so that other
// processes can observe the watch without talking to it directly.
type Bridge interface {
	// Publish sends a single state event through the bridge.
	Publish(e types.StateEvent) error

	// Start connects and begins relaying events from the source.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// StateSource is implemented by the state hub.
type StateSource interface {
	Subscribe(id string) (<-chan types.StateEvent, func())
}
