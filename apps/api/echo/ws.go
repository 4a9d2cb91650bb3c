package echoapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/auth"
	"github.com/mpkschool/backend/core/realtime"
)

const (
	defaultWriteWait    = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultPushBuffer   = 64
	defaultMaxFrameSize = 16 << 10
)

type wsApi struct {
	hub      *realtime.Hub
	resolver *auth.Resolver
	logger   core.Logger
	upgrader websocket.Upgrader

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	pushBuffer int
	maxFrame   int64
}

func registerWebsocketAPI(
	g *echo.Group,
	hub *realtime.Hub,
	resolver *auth.Resolver,
	conf *core.Config,
	logger core.Logger,
) {
	api := newWsApi(hub, resolver, conf, logger)
	g.GET("/ws", api.connect)
}

func newWsApi(hub *realtime.Hub, resolver *auth.Resolver, conf *core.Config, logger core.Logger) *wsApi {
	api := &wsApi{
		hub:        hub,
		resolver:   resolver,
		logger:     logger,
		writeWait:  conf.Chat.WriteWait,
		pongWait:   conf.Chat.PongWait,
		pingPeriod: conf.Chat.PingPeriod,
		pushBuffer: conf.Chat.PushBuffer,
		maxFrame:   conf.Chat.MaxFrameSize,
	}
	if api.writeWait <= 0 {
		api.writeWait = defaultWriteWait
	}
	if api.pongWait <= 0 {
		api.pongWait = defaultPongWait
	}
	if api.pingPeriod <= 0 || api.pingPeriod >= api.pongWait {
		api.pingPeriod = api.pongWait * 9 / 10
	}
	if api.pushBuffer <= 0 {
		api.pushBuffer = defaultPushBuffer
	}
	if api.maxFrame <= 0 {
		api.maxFrame = defaultMaxFrameSize
	}

	origins := make(map[string]bool, len(conf.Server.AllowedOrigins))
	for _, o := range conf.Server.AllowedOrigins {
		origins[o] = true
	}
	api.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origins["*"] || origins[origin]
		},
	}
	return api
}

// connect authenticates the request, upgrades it and runs the session until either side hangs up.
// Unauthenticated requests are refused before the upgrade.
func (api *wsApi) connect(ctx echo.Context) error {
	identity, err := api.resolver.Resolve(ctx.Request().Context(), requestToken(ctx))
	if err != nil {
		return err
	}

	ws, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already replied to the client
		api.logger.Debug("websocket upgrade failed", err, identity)
		return nil
	}

	conn := newWsClient(ws, api.pushBuffer)
	session := api.hub.Connect(identity, conn)
	api.logger.Debug(fmt.Sprintf("session %s opened", session.ID), identity)

	go api.writePump(conn)
	api.readPump(conn, session)
	return nil
}

func (api *wsApi) readPump(conn *wsClient, session *realtime.Session) {
	defer func() {
		api.hub.Disconnect(session)
		api.logger.Debug(fmt.Sprintf("session %s closed", session.ID), session.Identity)
	}()

	ws := conn.ws
	ws.SetReadLimit(api.maxFrame)
	_ = ws.SetReadDeadline(time.Now().Add(api.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(api.pongWait))
	})

	for {
		msgType, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				api.logger.Debug("websocket read failed", err, session.Identity)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		session.HandleFrame(context.Background(), frame)
		if session.Closed() {
			return
		}
	}
}

func (api *wsApi) writePump(conn *wsClient) {
	ticker := time.NewTicker(api.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.ws.Close()
	}()

	for {
		select {
		case ev := <-conn.send:
			if err := api.write(conn.ws, ev); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(api.writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.done:
			// flush what was queued before the close, e.g. a sessionReplaced notice
			for {
				select {
				case ev := <-conn.send:
					if err := api.write(conn.ws, ev); err != nil {
						return
					}
				default:
					_ = conn.ws.SetWriteDeadline(time.Now().Add(api.writeWait))
					_ = conn.ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (api *wsApi) write(ws *websocket.Conn, ev realtime.OutEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		api.logger.Error("encoding event", errors.Wrap(err, ev.Event))
		return nil
	}
	_ = ws.SetWriteDeadline(time.Now().Add(api.writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// wsClient queues the pushes of a session for its write pump.
type wsClient struct {
	ws   *websocket.Conn
	send chan realtime.OutEvent

	mu        sync.RWMutex
	done      chan struct{}
	closed    bool
	closeOnce sync.Once
}

var _ realtime.Conn = (*wsClient)(nil) // interface compliance check

func newWsClient(ws *websocket.Conn, buffer int) *wsClient {
	return &wsClient{
		ws:   ws,
		send: make(chan realtime.OutEvent, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) Push(ev realtime.OutEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *wsClient) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}
