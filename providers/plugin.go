package providers

import (
	"sync/atomic"

	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
)

// Client is the view of the wearable client the status surface needs.
// service.Service implements it.
type Client interface {
	Status() types.Status
	Latest() (types.StateEvent, bool)
	Subscribe(id string) (<-chan types.StateEvent, func())
	Stop()
}

// StatusProvider exposes the client's connection state over HTTP and
// WebSocket for local dashboards.
type StatusProvider struct {
	client   Client
	logger   zerolog.Logger
	watchers atomic.Int64
}

// NewStatusProvider creates a status surface backed by client.
func NewStatusProvider(client Client, logger zerolog.Logger) *StatusProvider {
	return &StatusProvider{
		client: client,
		logger: logger.With().Str("component", "status").Logger(),
	}
}

// Watchers returns the number of open WebSocket watchers.
func (p *StatusProvider) Watchers() int { return int(p.watchers.Load()) }
