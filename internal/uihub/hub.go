package uihub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crabstack.local/projects/crab-stk/internal/dispatch"
	"crabstack.local/projects/crab-stk/internal/ids"
	"crabstack.local/projects/crab-stk/internal/slots"
	"crabstack.local/projects/crab-stk/internal/stk"
)

var ErrNoClient = errors.New("no ui client connected")

const (
	maxClientFrameBytes int64 = 1 << 20
	clientBufferSize          = 64
	writeTimeout              = 10 * time.Second
	pongWait                  = 60 * time.Second
	pingPeriod                = pongWait * 9 / 10
)

// Controller receives what UI clients report back.
type Controller interface {
	SubmitResponse(context.Context, stk.SlotID, stk.UserResponse) error
	SetMenuVisible(context.Context, stk.SlotID, bool) error
	ControlTimer(context.Context, stk.SlotID, slots.TimerAction) error
}

// Hub is the websocket Presenter. Presenter calls come from the slot loop,
// so they only enqueue frames; each client has its own writer goroutine.
// Surfaces still open are replayed to clients that connect later.
type Hub struct {
	logger *log.Logger

	mu       sync.Mutex
	ctrl     Controller
	clients  map[*client]struct{}
	active   map[stk.Handle]activeSurface
	idle     map[stk.SlotID]stk.TextMessage
	sequence int64
	closed   bool
}

type activeSurface struct {
	seq   int64
	frame ServerFrame
}

type client struct {
	conn *websocket.Conn
	send chan ServerFrame
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func New(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		active:  make(map[stk.Handle]activeSurface),
		idle:    make(map[stk.SlotID]stk.TextMessage),
	}
}

// Bind sets the controller inbound frames are routed to.
func (h *Hub) Bind(ctrl Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctrl = ctrl
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ShowText(ctx context.Context, req dispatch.Request) (stk.Handle, error) {
	return h.show(req)
}

func (h *Hub) ShowMenu(ctx context.Context, req dispatch.Request) (stk.Handle, error) {
	return h.show(req)
}

func (h *Hub) ShowInput(ctx context.Context, req dispatch.Request) (stk.Handle, error) {
	return h.show(req)
}

func (h *Hub) ShowConfirmation(ctx context.Context, req dispatch.Request) (stk.Handle, error) {
	return h.show(req)
}

func (h *Hub) PlayTone(ctx context.Context, req dispatch.Request) (stk.Handle, error) {
	return h.show(req)
}

func (h *Hub) ShowOpenChannelChoice(ctx context.Context, req dispatch.Request) (stk.Handle, error) {
	return h.show(req)
}

func (h *Hub) StopTone(_ context.Context, slot stk.SlotID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(ServerFrame{Type: FrameToneStop, Slot: slot})
	return nil
}

func (h *Hub) ShowEvent(_ context.Context, slot stk.SlotID, msg stk.TextMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return ErrNoClient
	}
	h.broadcastLocked(ServerFrame{Type: FrameEvent, Slot: slot, Text: &msg})
	return nil
}

// Launch hands a confirmed LAUNCH BROWSER to the connected clients.
func (h *Hub) Launch(_ context.Context, slot stk.SlotID, settings stk.BrowserSettings) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return ErrNoClient
	}
	h.broadcastLocked(ServerFrame{Type: FrameBrowser, Slot: slot, Browser: &settings})
	return nil
}

func (h *Hub) ShowIdleText(_ context.Context, slot stk.SlotID, msg stk.TextMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.idle[slot] = msg
	h.broadcastLocked(ServerFrame{Type: FrameIdleText, Slot: slot, Text: &msg})
	return nil
}

func (h *Hub) ClearIdleText(_ context.Context, slot stk.SlotID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.idle, slot)
	h.broadcastLocked(ServerFrame{Type: FrameIdleText, Slot: slot})
	return nil
}

func (h *Hub) Finish(_ context.Context, slot stk.SlotID, handle stk.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[handle]; !ok {
		return nil
	}
	delete(h.active, handle)
	h.broadcastLocked(ServerFrame{Type: FrameFinish, Slot: slot, Handle: handle})
	return nil
}

func (h *Hub) show(req dispatch.Request) (stk.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return "", ErrNoClient
	}
	handle := stk.Handle(ids.New())
	frame := ServerFrame{
		Type:    FrameShow,
		Slot:    req.Slot,
		Handle:  handle,
		Request: &ShowRequest{Handle: handle, Request: req},
	}
	h.sequence++
	h.active[handle] = activeSurface{seq: h.sequence, frame: frame}
	h.broadcastLocked(frame)
	return handle, nil
}

func (h *Hub) broadcastLocked(frame ServerFrame) {
	for c := range h.clients {
		h.enqueueLocked(c, frame)
	}
}

// enqueueLocked drops a client whose buffer is full instead of blocking
// the caller.
func (h *Hub) enqueueLocked(c *client, frame ServerFrame) {
	select {
	case c.send <- frame:
	default:
		h.logger.Printf("ui client dropped reason=slow_consumer remote=%s", c.conn.RemoteAddr())
		delete(h.clients, c)
		c.close()
	}
}

// replayLocked brings a new client up to date with open surfaces and idle
// texts.
func (h *Hub) replayLocked(c *client) {
	slotsWithIdle := make([]stk.SlotID, 0, len(h.idle))
	for slot := range h.idle {
		slotsWithIdle = append(slotsWithIdle, slot)
	}
	sort.Slice(slotsWithIdle, func(i, j int) bool { return slotsWithIdle[i] < slotsWithIdle[j] })
	for _, slot := range slotsWithIdle {
		msg := h.idle[slot]
		h.enqueueLocked(c, ServerFrame{Type: FrameIdleText, Slot: slot, Text: &msg})
	}

	surfaces := make([]activeSurface, 0, len(h.active))
	for _, s := range h.active {
		surfaces = append(surfaces, s)
	}
	sort.Slice(surfaces, func(i, j int) bool { return surfaces[i].seq < surfaces[j].seq })
	for _, s := range surfaces {
		h.enqueueLocked(c, s.frame)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ui ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxClientFrameBytes)

	c := &client{
		conn: conn,
		send: make(chan ServerFrame, clientBufferSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.clients[c] = struct{}{}
	h.replayLocked(c)
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Printf("ui client connected remote=%s clients=%d", conn.RemoteAddr(), count)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(c)
	}()

	h.readLoop(r.Context(), c)

	h.mu.Lock()
	delete(h.clients, c)
	count = len(h.clients)
	h.mu.Unlock()
	c.close()
	<-writerDone
	h.logger.Printf("ui client disconnected remote=%s clients=%d", conn.RemoteAddr(), count)
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = c.conn.Close()
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				h.logger.Printf("ui client write failed remote=%s err=%v", c.conn.RemoteAddr(), err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Printf("ui client read ended remote=%s err=%v", c.conn.RemoteAddr(), err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := h.handleFrame(ctx, frame); err != nil {
			h.logger.Printf("ui frame rejected type=%s slot=%s err=%v", frame.Type, frame.Slot, err)
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.enqueueLocked(c, ServerFrame{Type: FrameError, Slot: frame.Slot, Error: err.Error()})
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) handleFrame(ctx context.Context, frame ClientFrame) error {
	h.mu.Lock()
	ctrl := h.ctrl
	h.mu.Unlock()
	if ctrl == nil {
		return errors.New("hub is not bound to a controller")
	}

	switch frame.Type {
	case FrameResponse:
		if frame.Response == nil {
			return errors.New("response is required")
		}
		return ctrl.SubmitResponse(ctx, frame.Slot, *frame.Response)
	case FrameVisibility:
		if frame.MenuVisible == nil {
			return errors.New("menu_visible is required")
		}
		return ctrl.SetMenuVisible(ctx, frame.Slot, *frame.MenuVisible)
	case FrameTimer:
		return ctrl.ControlTimer(ctx, frame.Slot, slots.TimerAction(strings.TrimSpace(frame.Action)))
	default:
		return fmt.Errorf("unsupported frame type %q", frame.Type)
	}
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
