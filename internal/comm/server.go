package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldcycler/runtime/internal/outputs"
	"github.com/fieldcycler/runtime/internal/paramtree"
	"github.com/fieldcycler/runtime/internal/ratelimit"
	"github.com/fieldcycler/runtime/internal/telemetry/logging"
	"github.com/fieldcycler/runtime/internal/valuetree"
)

// connState is one connection's lifecycle, per spec.md 4.C10:
// Connected -> handling (repeatedly) -> Closing -> Closed. A connection
// never leaves Closed.
type connState int

const (
	connConnected connState = iota
	connHandling
	connClosing
	connClosed
)

func (s connState) String() string {
	switch s {
	case connConnected:
		return "Connected"
	case connHandling:
		return "handling"
	case connClosing:
		return "Closing"
	default:
		return "Closed"
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The communication server has no browser-origin constraints of its
	// own; it is one leg of a robot-local control loop, not a public API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the C10 communication server: it upgrades HTTP connections to
// WebSocket, dispatches each Request to the outputs router (C11) or the
// parameter tree (C9), and pushes Router Updates back to their owning
// connection. A path addresses the outputs namespace unless it begins
// with "/", in which case it addresses the parameter tree — the two
// namespaces are disjoint by construction (outputs.Router instance names
// never contain "/", parameter paths always do).
type Server struct {
	router  *outputs.Router
	params  *paramtree.Tree
	logger  logging.Logger
	limiter ratelimit.Limiter

	mu     sync.Mutex
	nextID uint64
	conns  map[outputs.Client]*conn

	ready atomic.Bool
}

// NewServer constructs a communication server over params; call BindRouter
// once the outputs.Router exists. The Router must be constructed with
// outputs.NewRouter(server.DispatchUpdate), so the Server necessarily
// exists first. Per-client request throttling is disabled until
// SetLimiter is called.
func NewServer(params *paramtree.Tree, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.New(nil)
	}
	return &Server{params: params, logger: logger, conns: make(map[outputs.Client]*conn)}
}

// SetLimiter attaches a per-client request limiter; every request is
// gated through limiter.Acquire before dispatch, and its outcome reported
// back through limiter.Feedback so a client that keeps erroring gets
// backed off.
func (s *Server) SetLimiter(l ratelimit.Limiter) { s.limiter = l }

// BindRouter attaches the outputs router this server dispatches against.
// Called once at scheduler startup after both Server and Router exist,
// since Router's constructor needs a sink closing over the Server.
func (s *Server) BindRouter(router *outputs.Router) { s.router = router }

// DispatchUpdate is the outputs.Router sink: it looks up the owning
// connection and enqueues the Update as a Response, dropping it silently
// if the connection has since closed.
func (s *Server) DispatchUpdate(u outputs.Update) {
	s.mu.Lock()
	c := s.conns[u.Client]
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.enqueue(Response{
		ID:        u.RequestID,
		Kind:      RespUpdate,
		Timestamp: u.Timestamp,
		Value:     u.Value,
	}, commFormat(u.Format))
}

// ServeHTTP upgrades the request to a WebSocket and runs its connection
// loop until the client disconnects or the server shuts down.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.ErrorCtx(r.Context(), "comm: upgrade failed", "err", err)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := outputs.Client(s.nextID)
	c := &conn{
		id:     id,
		ws:     ws,
		server: s,
		state:  connConnected,
		outCh:  make(chan wireResponse, 64),
	}
	s.conns[id] = c
	s.mu.Unlock()

	c.run()

	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func commFormat(f outputs.Format) Format {
	if f == outputs.FormatBinary {
		return FormatBinary
	}
	return FormatText
}

func outputsFormat(f Format) outputs.Format {
	if f == FormatBinary {
		return outputs.FormatBinary
	}
	return outputs.FormatText
}

type wireResponse struct {
	resp   Response
	format Format
}

// conn holds one WebSocket connection's state machine and serializes
// writes under writeMu, since gorilla/websocket supports only one
// concurrent writer (and one concurrent reader) per connection.
type conn struct {
	id     outputs.Client
	ws     *websocket.Conn
	server *Server

	stateMu sync.Mutex
	state   connState

	writeMu sync.Mutex
	outCh   chan wireResponse
	closed  atomic.Bool
}

func (c *conn) setState(s connState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *conn) enqueue(r Response, format Format) {
	if c.closed.Load() {
		return
	}
	select {
	case c.outCh <- wireResponse{resp: r, format: format}:
	default:
		c.server.logger.ErrorCtx(context.Background(), "comm: dropping update for a slow connection", "client", c.id)
	}
}

func (c *conn) run() {
	defer c.close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for w := range c.outCh {
			if err := c.write(w.resp, w.format); err != nil {
				return
			}
		}
	}()

	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		c.setState(connHandling)
		req, format, err := DecodeRequest(messageType, payload)
		if err != nil {
			c.enqueue(ErrResponse(0, err), FormatText)
			c.setState(connConnected)
			continue
		}
		resp := c.dispatch(req)
		c.enqueue(resp, format)
		c.setState(connConnected)
	}

	c.setState(connClosing)
	close(c.outCh)
	<-writerDone
	c.setState(connClosed)
}

// dispatch gates req through the server's rate limiter, if any, before
// handing it to Server.handle, and reports the outcome back as feedback.
func (c *conn) dispatch(req Request) Response {
	if c.server.limiter == nil {
		return c.server.handle(c.id, req)
	}
	clientID := fmt.Sprintf("%d", c.id)
	if _, err := c.server.limiter.Acquire(context.Background(), clientID); err != nil {
		return ErrResponse(req.ID, fmt.Errorf("comm: rate limited: %w", err))
	}
	resp := c.server.handle(c.id, req)
	var fbErr error
	if resp.Kind == RespErr {
		fbErr = errors.New(resp.Err)
	}
	c.server.limiter.Feedback(clientID, ratelimit.Feedback{Err: fbErr})
	return resp
}

func (c *conn) write(r Response, format Format) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	messageType, payload, err := EncodeResponse(r, format)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

func (c *conn) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.server.router != nil {
		c.server.router.UnsubscribeEverything(c.id)
	}
	_ = c.ws.Close()
}

// handle dispatches one decoded Request to the outputs router or the
// parameter tree and builds its Response. It never blocks on I/O beyond
// the router/tree calls themselves, which are in-memory.
func (s *Server) handle(client outputs.Client, req Request) Response {
	switch req.Kind {
	case KindGetPaths:
		return s.handleGetPaths(req)
	case KindRead:
		return s.handleRead(req)
	case KindSubscribe:
		return s.handleSubscribe(client, req)
	case KindUnsubscribe:
		return s.handleUnsubscribe(client, req)
	case KindWrite:
		return s.handleWrite(req)
	default:
		return ErrResponse(req.ID, fmt.Errorf("comm: unknown request kind %q", req.Kind))
	}
}

func (s *Server) handleGetPaths(req Request) Response {
	fields := s.router.GetFields()
	paths := make([]string, 0, len(fields))
	for instance, names := range fields {
		for _, name := range names {
			paths = append(paths, instance+"."+name)
		}
	}
	return Response{ID: req.ID, Kind: RespPaths, Paths: paths}
}

func isParameterPath(path string) bool { return strings.HasPrefix(path, "/") }

func (s *Server) handleRead(req Request) Response {
	if isParameterPath(req.Path) {
		v, ok := valuetree.ParsePath(req.Path).Resolve(s.params.Read(), "")
		if !ok {
			return ErrResponse(req.ID, fmt.Errorf("comm: no parameter at %q", req.Path))
		}
		return Response{ID: req.ID, Kind: RespRead, Timestamp: nowFunc(), Value: v}
	}
	v, ts, err := s.router.Read(req.Path, outputsFormat(req.Format))
	if err != nil {
		return ErrResponse(req.ID, err)
	}
	return Response{ID: req.ID, Kind: RespRead, Timestamp: ts, Value: v}
}

func (s *Server) handleSubscribe(client outputs.Client, req Request) Response {
	if isParameterPath(req.Path) {
		return ErrResponse(req.ID, errors.New("comm: subscribing to parameter paths is not supported, read and poll instead"))
	}
	v, ts, err := s.router.Subscribe(client, req.ID, req.Path, outputsFormat(req.Format))
	if err != nil {
		return ErrResponse(req.ID, err)
	}
	return Response{ID: req.ID, Kind: RespSubscribe, Timestamp: ts, Value: v}
}

func (s *Server) handleUnsubscribe(client outputs.Client, req Request) Response {
	if err := s.router.Unsubscribe(client, req.SubID); err != nil {
		return ErrResponse(req.ID, err)
	}
	return Response{ID: req.ID, Kind: RespUnsubscribe}
}

func (s *Server) handleWrite(req Request) Response {
	if !isParameterPath(req.Path) {
		return ErrResponse(req.ID, fmt.Errorf("comm: write path %q must start with \"/\"", req.Path))
	}
	s.params.Write(valuetree.ParsePath(req.Path), "", req.Value)
	return Response{ID: req.ID, Kind: RespWrite}
}

// Ready reports whether Run has successfully bound its listener and is
// currently serving, for a health.Probe.
func (s *Server) Ready() bool { return s.ready.Load() }

// nowFunc is a seam for tests; production always reads the wall clock.
var nowFunc = time.Now

// Run starts an http.Server on addr serving this Server's ServeHTTP and
// blocks until ctx is cancelled, then shuts the listener down gracefully
// — the same ctx-gated shutdown idiom the scheduler's other long-running
// components use.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("comm: listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", s)
	httpSrv := &http.Server{Handler: mux}

	s.ready.Store(true)
	defer s.ready.Store(false)

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
