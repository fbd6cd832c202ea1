package uiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crabstack.local/projects/crab-stk/internal/slots"
	"crabstack.local/projects/crab-stk/internal/stk"
	"crabstack.local/projects/crab-stk/internal/uihub"
)

const ioTimeout = 10 * time.Second

var ErrNotConnected = errors.New("client is not connected")

// Client is a websocket peer of the UI hub. Frames read from the daemon are
// delivered on Frames; transport problems are reported on Errors.
type Client struct {
	url string

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool

	frames chan uihub.ServerFrame
	errs   chan error
	done   chan struct{}
}

func New(rawURL string) (*Client, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("ui websocket url is required")
	}
	if !strings.HasPrefix(rawURL, "ws://") && !strings.HasPrefix(rawURL, "wss://") {
		return nil, fmt.Errorf("ui websocket url must use ws:// or wss://")
	}
	return &Client{
		url:    rawURL,
		frames: make(chan uihub.ServerFrame, 64),
		errs:   make(chan error, 16),
		done:   make(chan struct{}),
	}, nil
}

// WebSocketURL derives the UI endpoint from a daemon base address such as
// http://127.0.0.1:8090.
func WebSocketURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
	default:
		base = "ws://" + base
	}
	return base + "/v1/ui"
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: ioTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial ui websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop()
	return nil
}

func (c *Client) Frames() <-chan uihub.ServerFrame {
	return c.frames
}

func (c *Client) Errors() <-chan error {
	return c.errs
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) SendResponse(ctx context.Context, slot stk.SlotID, resp stk.UserResponse) error {
	if !resp.Kind.Valid() {
		return fmt.Errorf("invalid response kind %q", resp.Kind)
	}
	return c.Send(ctx, uihub.ClientFrame{Type: uihub.FrameResponse, Slot: slot, Response: &resp})
}

func (c *Client) SetMenuVisible(ctx context.Context, slot stk.SlotID, visible bool) error {
	return c.Send(ctx, uihub.ClientFrame{Type: uihub.FrameVisibility, Slot: slot, MenuVisible: &visible})
}

func (c *Client) ControlTimer(ctx context.Context, slot stk.SlotID, action slots.TimerAction) error {
	return c.Send(ctx, uihub.ClientFrame{Type: uihub.FrameTimer, Slot: slot, Action: string(action)})
}

func (c *Client) Send(ctx context.Context, frame uihub.ClientFrame) error {
	c.mu.RLock()
	conn := c.conn
	closed := c.closed
	c.mu.RUnlock()
	if conn == nil || closed {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(ioTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(500*time.Millisecond))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	close(c.done)
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		c.mu.RLock()
		conn := c.conn
		closed := c.closed
		c.mu.RUnlock()
		if conn == nil || closed {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				c.pushErr(fmt.Errorf("read websocket message: %w", err))
			}
			return
		}

		var frame uihub.ServerFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.pushErr(fmt.Errorf("decode ui frame: %w", err))
			continue
		}
		if frame.Type == "" {
			continue
		}
		if frame.Type == uihub.FrameError {
			c.pushErr(fmt.Errorf("daemon rejected frame for slot %s: %s", frame.Slot, frame.Error))
			continue
		}

		select {
		case c.frames <- frame:
		default:
			c.pushErr(fmt.Errorf("dropping %s frame for slot %s because the UI channel is full", frame.Type, frame.Slot))
		}
	}
}

func (c *Client) pushErr(err error) {
	if err == nil {
		return
	}
	select {
	case c.errs <- err:
	default:
	}
}
