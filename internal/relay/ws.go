package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/signal"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait         = 5 * time.Second
	defaultPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller terminates client websockets and bridges them to the hub.
type Controller struct {
	Hub     *Hub
	Policy  Policy
	Limiter *SubscribeLimiter

	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(hub *Hub, policy Policy, limiter *SubscribeLimiter, readLimit int64, pingPeriod time.Duration) *Controller {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	return &Controller{Hub: hub, Policy: policy, Limiter: limiter, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and runs the pumps until the
// socket dies or ctx is canceled.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "relay.ws").Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	ctl.readPump(ctx, cancel, token, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "relay.ws").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "relay.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, token string, c *wsConn) {
	defer func() {
		log.Info().Str("module", "relay.ws").Str("token", token).Msg("readPump closing")
		ctl.Hub.DropClient(token)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Warn().Err(err).Str("module", "relay.ws").Str("token", token).Msg("readPump read error")
				return
			}
			ctl.handleFrame(token, c, data)
		}
	}
}

func (ctl *Controller) handleFrame(token string, c *wsConn, data []byte) {
	var f signal.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "relay.ws").Msg("bad frame json")
		return
	}

	switch f.Op {
	case signal.OpSubscribe:
		if ctl.Limiter != nil && !ctl.Limiter.Allow(token) {
			log.Warn().Str("module", "relay.ws").Str("token", token).Msg("subscribe rate limited")
			return
		}
		ctl.Hub.Subscribe(f.Topic, token, c)
	case signal.OpUnsubscribe:
		ctl.Hub.Unsubscribe(f.Topic, token)
	case signal.OpPublish:
		ctl.handlePublish(f)
	case signal.OpPing:
		ctl.sendFrame(c, signal.Frame{Op: signal.OpPong})
	default:
		log.Warn().Str("module", "relay.ws").Str("op", f.Op).Msg("unknown frame op")
	}
}

func (ctl *Controller) handlePublish(f signal.Frame) {
	if f.Env == nil || f.Topic == "" {
		return
	}
	out, err := json.Marshal(signal.Frame{Op: signal.OpMessage, Topic: f.Topic, Env: f.Env})
	if err != nil {
		log.Error().Err(err).Str("module", "relay.ws").Msg("encode message frame")
		return
	}
	res := ctl.Hub.Publish(f.Topic, out)
	if ctl.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch ctl.Policy.OnBackpressure(f.Topic, slow) {
		case KickSubscriber:
			ctl.Hub.DropClient(slow)
		case DropFrame, NoAction:
		}
	}
}

func (ctl *Controller) sendFrame(c *wsConn, f signal.Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.ws").Msg("encode frame")
		return
	}
	_ = c.TrySend(b)
}
