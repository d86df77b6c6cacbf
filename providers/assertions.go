package providers

import (
	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/wearlink/src/bridge"
	"github.com/orchestra-mcp/wearlink/src/discovery"
	"github.com/orchestra-mcp/wearlink/src/hub"
	"github.com/orchestra-mcp/wearlink/src/service"
	"github.com/orchestra-mcp/wearlink/src/session"
	"github.com/orchestra-mcp/wearlink/src/supervisor"
)

// Compile-time interface assertions.
var (
	_ Client              = (*service.Service)(nil)
	_ Conn                = (*websocket.Conn)(nil)
	_ bridge.Bridge       = (*bridge.RedisBridge)(nil)
	_ bridge.StateSource  = (*hub.Hub)(nil)
	_ supervisor.Resolver = (*discovery.Prober)(nil)
	_ supervisor.Runner   = (*session.Session)(nil)
)
