package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/richardjypark/maskmytext.com/internal/host"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/page"
	"github.com/richardjypark/maskmytext.com/internal/protocol"
	"github.com/richardjypark/maskmytext.com/internal/shared/paths"
)

// Outbound message types.
const (
	TypeRegistered      = "registered"
	TypeUpdateAvailable = "update_available"
	TypeReload          = "reload"
	TypePong            = "pong"
	TypeError           = "error"
)

const (
	outboxSize   = 32
	readLimit    = 4096
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin filtering is left to the CORS layer
	},
}

// Inbound is a client command.
type Inbound struct {
	Action  string `json:"action"`
	Version string `json:"version,omitempty"`
}

// Outbound is a server push.
type Outbound struct {
	Type      string `json:"type"`
	Version   string `json:"version,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Handler manages WebSocket connections
type Handler struct {
	host       *host.Host
	deployment paths.Deployment
	log        *logging.Logger
	metrics    *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler
func NewHandler(h *host.Host, deployment paths.Deployment, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		host:       h,
		deployment: deployment,
		log:        logging.OrNop(logger).Component("ws"),
		metrics:    metrics,
	}
}

// connection is one attached remote page.
type connection struct {
	conn *websocket.Conn
	out  chan Outbound
	log  *logging.Logger
	m    *monitoring.Metrics
}

// push queues msg without blocking; a page that stops reading loses pushes.
func (c *connection) push(msg Outbound) {
	msg.Timestamp = time.Now().Unix()
	select {
	case c.out <- msg:
	default:
		c.log.Warn("outbox full, dropping message", zap.String("type", msg.Type))
	}
}

func (c *connection) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			data, err := sonic.Marshal(msg)
			if err != nil {
				c.log.Error("encode failed", zap.Error(err))
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
			c.m.RecordWSMessage("out", msg.Type)
		}
	}
}

// HandleConnection upgrades the request and runs the page until the socket
// closes. The page URL comes from the "url" query parameter and defaults to
// the root of the deployment.
func (h *Handler) HandleConnection(c *gin.Context) {
	pageURL := c.DefaultQuery("url", "/")
	loc, err := page.ParseLocation(pageURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(readLimit)

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := h.host.Attach(pageURL)
	defer h.host.Detach(p)

	cc := &connection{
		conn: conn,
		out:  make(chan Outbound, outboxSize),
		log:  h.log.WithClient(string(p.ID())),
		m:    h.metrics,
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		cc.writeLoop(ctx, cancel)
	}()

	handle := page.Register(ctx, p, loc, page.Options{
		OnUpdateAvailable: func() {
			msg := Outbound{Type: TypeUpdateAvailable}
			if w := h.host.Registration().Waiting(); w != nil {
				msg.Version = string(w.Version())
			}
			cc.push(msg)
		},
		OnControllerChange: func() {
			cc.push(Outbound{Type: TypeReload})
		},
		OnCacheUpdated: func(version string) {
			cc.push(Outbound{Type: protocol.TypeCacheUpdated, Version: version})
		},
		Deployment: h.deployment,
		Logger:     cc.log,
	})
	if handle == nil {
		cc.push(Outbound{Type: TypeError, Message: "registration failed"})
	} else {
		registered := Outbound{Type: TypeRegistered, ClientID: string(p.ID())}
		if w := p.Controller(); w != nil {
			registered.Version = string(w.Version())
		}
		cc.push(registered)
	}

	go func() {
		<-ctx.Done()
		// unblock ReadMessage once the writer has given up
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			cc.log.Debug("websocket closed", zap.Error(err))
			break
		}
		var msg Inbound
		if err := sonic.Unmarshal(data, &msg); err != nil {
			cc.push(Outbound{Type: TypeError, Message: "malformed message"})
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Action)
		h.dispatch(cc, handle, msg)
	}

	cancel()
	<-writerDone
}

func (h *Handler) dispatch(cc *connection, handle *page.Handle, msg Inbound) {
	switch msg.Action {
	case protocol.ActionSkipWaiting:
		var sent bool
		switch {
		case msg.Version != "":
			sent = h.host.SkipWaiting(msg.Version)
		case handle != nil:
			sent = handle.ApplyUpdate()
		}
		if !sent {
			cc.push(Outbound{Type: TypeError, Message: "no update waiting"})
		}
	case "ping":
		cc.push(Outbound{Type: TypePong})
	default:
		cc.push(Outbound{Type: TypeError, Message: "unknown action"})
	}
}
