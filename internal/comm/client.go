package comm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldcycler/runtime/internal/valuetree"
)

// clientState is the client-side connection lifecycle of spec.md 4.C10,
// grounded on
// _examples/original_source/crates/communication/src/client/connector.rs's
// ConnectionState enum (Disconnected/Connecting/Connected). Go has no sum
// type, so the three states are represented as a tag plus the fields each
// one actually uses, rather than a trio of structs behind an interface —
// there is exactly one transition function and no per-state behavior
// polymorphism to justify the extra indirection.
type clientState int

const (
	clientDisconnected clientState = iota
	clientConnecting
	clientConnected
)

func (s clientState) String() string {
	switch s {
	case clientConnecting:
		return "Connecting"
	case clientConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

const reconnectInterval = time.Second

// Client is a reconnecting WebSocket client for the C10 protocol: once
// started it keeps a connection to address alive, retrying once a second
// after any drop, until Close is called. Outstanding requests are matched
// to their Response by ID; a pending call whose connection drops fails
// with ErrDisconnected rather than silently hanging.
type Client struct {
	address string

	mu    sync.Mutex
	state clientState
	ws    *websocket.Conn

	writeMu sync.Mutex

	nextID  atomic.Uint64
	pending sync.Map // uint64 -> chan Response

	updates chan Response

	cancel context.CancelFunc
	done   chan struct{}
}

// ErrDisconnected is returned to any pending call whose connection drops
// before a response arrives.
var ErrDisconnected = fmt.Errorf("comm: connection closed before response")

// NewClient constructs a Client targeting address (e.g. "ws://host:port/").
// Dial does not happen until Start.
func NewClient(address string) *Client {
	return &Client{
		address: address,
		updates: make(chan Response, 64),
	}
}

// Updates returns the channel Subscribe-initiated Update responses arrive
// on — every Response whose ID matches no pending call is assumed to be
// an unsolicited subscription push and routed here instead.
func (c *Client) Updates() <-chan Response { return c.updates }

// Start launches the reconnect loop in the background. Call Close to stop
// it.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Close stops the reconnect loop and closes any live connection.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
}

func (c *Client) setState(s clientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) State() clientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// run drives Disconnected -> Connecting -> Connected -> (on failure)
// Disconnected, retrying after reconnectInterval, until ctx is cancelled.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		if ctx.Err() != nil {
			c.setState(clientDisconnected)
			return
		}

		c.setState(clientConnecting)
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.address, nil)
		if err != nil {
			c.setState(clientDisconnected)
			if !sleepOrDone(ctx, reconnectInterval) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.setState(clientConnected)

		c.readLoop(ctx, ws)
		c.failPending()

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		c.setState(clientDisconnected)

		if !sleepOrDone(ctx, reconnectInterval) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// readLoop pumps frames off ws until it errors or ctx is cancelled,
// routing each decoded Response either to a pending caller or to Updates.
func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) {
	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()
	for {
		messageType, payload, err := ws.ReadMessage()
		if err != nil {
			return
		}
		resp, _, err := DecodeResponse(messageType, payload)
		if err != nil {
			continue
		}
		if ch, ok := c.pending.LoadAndDelete(resp.ID); ok {
			ch.(chan Response) <- resp
			continue
		}
		select {
		case c.updates <- resp:
		default:
		}
	}
}

func (c *Client) failPending() {
	c.pending.Range(func(key, value any) bool {
		c.pending.Delete(key)
		value.(chan Response) <- ErrResponse(key.(uint64), ErrDisconnected)
		return true
	})
}

// call sends req and blocks for its matching Response, or until ctx is
// cancelled.
func (c *Client) call(ctx context.Context, req Request, format Format) (Response, error) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return Response{}, ErrDisconnected
	}

	ch := make(chan Response, 1)
	c.pending.Store(req.ID, ch)

	messageType, payload, err := EncodeRequest(req, format)
	if err != nil {
		c.pending.Delete(req.ID)
		return Response{}, err
	}

	c.writeMu.Lock()
	err = ws.WriteMessage(messageType, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.pending.Delete(req.ID)
		return Response{}, err
	}

	select {
	case resp := <-ch:
		if resp.Kind == RespErr {
			if resp.Err == ErrDisconnected.Error() {
				return resp, ErrDisconnected
			}
			return resp, fmt.Errorf("comm: server error: %s", resp.Err)
		}
		return resp, nil
	case <-ctx.Done():
		c.pending.Delete(req.ID)
		return Response{}, ctx.Err()
	}
}

func (c *Client) newID() uint64 { return c.nextID.Add(1) }

// GetPaths requests the full set of addressable output paths.
func (c *Client) GetPaths(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, Request{ID: c.newID(), Kind: KindGetPaths}, FormatText)
	if err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

// Read performs a single-shot read of path.
func (c *Client) Read(ctx context.Context, path string, format Format) (Response, error) {
	return c.call(ctx, Request{ID: c.newID(), Kind: KindRead, Path: path, Format: format}, format)
}

// Subscribe requests updates for path; the initial value is returned
// immediately, subsequent Updates arrive on Updates() tagged with the same
// request ID (used as SubID for Unsubscribe).
func (c *Client) Subscribe(ctx context.Context, path string, format Format) (Response, error) {
	return c.call(ctx, Request{ID: c.newID(), Kind: KindSubscribe, Path: path, Format: format}, format)
}

// Unsubscribe cancels a prior Subscribe identified by its request ID.
func (c *Client) Unsubscribe(ctx context.Context, subID uint64) error {
	_, err := c.call(ctx, Request{ID: c.newID(), Kind: KindUnsubscribe, SubID: subID}, FormatText)
	return err
}

// Write deep-merges value into the parameter tree at path (which must
// begin with "/").
func (c *Client) Write(ctx context.Context, path string, value valuetree.Value) error {
	_, err := c.call(ctx, Request{ID: c.newID(), Kind: KindWrite, Path: path, Value: value}, FormatText)
	return err
}
