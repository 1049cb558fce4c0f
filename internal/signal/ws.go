package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
)

const (
	writeWait     = 5 * time.Second
	sendQueueSize = 32
)

// WSChannel is a Channel backed by one websocket connection to the
// relay. Frames are written from a single pump goroutine so per-sender
// FIFO is preserved end to end.
type WSChannel struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool

	cancel context.CancelFunc
}

// DialWS connects to the relay's signal endpoint and starts the pumps.
func DialWS(ctx context.Context, url string) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrRelayUnavailable, url, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &WSChannel{
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		subs:   make(map[string]map[int]Handler),
		cancel: cancel,
	}
	go c.writePump(ctx)
	go c.readPump(ctx)
	return c, nil
}

func (c *WSChannel) Publish(topic string, env Envelope) error {
	return c.trySend(Frame{Op: OpPublish, Topic: topic, Env: &env})
}

func (c *WSChannel) Subscribe(topic string, h Handler) (Unsubscribe, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	first := c.subs[topic] == nil
	if first {
		c.subs[topic] = make(map[int]Handler)
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = h
	c.mu.Unlock()

	if first {
		if err := c.trySend(Frame{Op: OpSubscribe, Topic: topic}); err != nil {
			// Drop the topic key too, or a retry would see an existing
			// map and never re-send the subscribe frame.
			c.mu.Lock()
			delete(c.subs[topic], id)
			if len(c.subs[topic]) == 0 {
				delete(c.subs, topic)
			}
			c.mu.Unlock()
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs[topic], id)
			last := len(c.subs[topic]) == 0
			if last {
				delete(c.subs, topic)
			}
			c.mu.Unlock()
			if last {
				_ = c.trySend(Frame{Op: OpUnsubscribe, Topic: topic})
			}
		})
	}, nil
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.cancel()
	return c.conn.Close()
}

func (c *WSChannel) trySend(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", domain.ErrRelayUnavailable)
	}
}

func (c *WSChannel) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *WSChannel) readPump(ctx context.Context) {
	defer func() {
		_ = c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Warn().Err(err).Str("module", "signal.ws").Msg("readPump read error")
				return
			}
			c.dispatch(data)
		}
	}
}

func (c *WSChannel) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "signal.ws").Msg("bad frame json")
		return
	}
	if f.Op != OpMessage || f.Env == nil {
		return
	}

	c.mu.RLock()
	subs := c.subs[f.Topic]
	snapshot := make([]Handler, 0, len(subs))
	for _, h := range subs {
		snapshot = append(snapshot, h)
	}
	c.mu.RUnlock()

	for _, h := range snapshot {
		h(*f.Env)
	}
}
