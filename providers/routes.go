package providers

import (
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// WebSocketPath is where FastHTTPHandler is mounted by Handler.
const WebSocketPath = "/ws"

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// RegisterRoutes registers the JSON status routes via Fiber.
// The WebSocket upgrade uses FastHTTPHandler, registered at the server
// level since Fiber v3 does not expose *fasthttp.RequestCtx.
func (p *StatusProvider) RegisterRoutes(group fiber.Router) {
	group.Get("/status", p.handleStatus)
	group.Get("/ws/info", p.handleInfo)
	group.Post("/stop", p.handleStop)
}

func (p *StatusProvider) handleStatus(c fiber.Ctx) error {
	return c.JSON(p.client.Status())
}

func (p *StatusProvider) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  WebSocketPath,
		"watchers":  p.Watchers(),
	})
}

func (p *StatusProvider) handleStop(c fiber.Ctx) error {
	p.client.Stop()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"stopped": true})
}

// FastHTTPHandler returns a raw fasthttp handler that streams state
// events to WebSocket watchers.
func (p *StatusProvider) FastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		id := uuid.New().String()
		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			p.serveWatcher(id, conn)
		})
		if err != nil {
			p.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// Handler combines the WebSocket endpoint and the Fiber app into one
// handler for a single fasthttp.Server.
func (p *StatusProvider) Handler(app *fiber.App) fasthttp.RequestHandler {
	ws := p.FastHTTPHandler()
	rest := app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == WebSocketPath {
			ws(ctx)
			return
		}
		rest(ctx)
	}
}
