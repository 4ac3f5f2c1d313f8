// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/syncroom/syncroom/lib/clock"
	"github.com/syncroom/syncroom/lib/config"
	"github.com/syncroom/syncroom/lib/netutil"
	"github.com/syncroom/syncroom/protocol"
	"github.com/syncroom/syncroom/transport"
)

// Compile-time interface check.
var _ transport.Signaler = (*Client)(nil)

var (
	// ErrNotInitialized is returned by operations issued before
	// Initialize has connected.
	ErrNotInitialized = errors.New("mediator client not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("mediator client already initialized")
)

// Keepalive on the control connection.
const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// sendQueueSize bounds frames waiting for the write pump.
const sendQueueSize = 256

// Config configures a Client.
type Config struct {
	// URL is the mediator websocket endpoint.
	URL string

	// ConnectRetries is how many failed dials are retried. Initialize
	// makes 1+ConnectRetries attempts.
	ConnectRetries int

	// DialTimeout bounds one dial including the connect greeting.
	DialTimeout time.Duration

	// Backoff is the wait before the first retry; each further retry
	// waits one Backoff longer. Default: 500ms.
	Backoff time.Duration

	// Clock drives the retry backoff. Defaults to the real clock.
	Clock clock.Clock
}

// ConfigFromFile builds a Config from the mediator section of the
// configuration file.
func ConfigFromFile(mediator config.MediatorConfig) Config {
	return Config{
		URL:            mediator.URL,
		ConnectRetries: mediator.ConnectRetries,
		DialTimeout:    mediator.DialTimeout,
	}
}

// TransportBuilder returns the factory for peer transports that signal
// through the client. It is called once, after the client connects and
// knows its connection id.
type TransportBuilder func(signaler transport.Signaler) (protocol.Factory, error)

// PeerObserver is notified about peer transports. Calls are serialized
// and made without the client's lock held.
type PeerObserver interface {
	// PeerConnected is called once a peer's transport is established.
	PeerConnected(peer protocol.Transport)

	// PeerClosed is called when an established peer's transport has
	// reached a terminal state and left the peer map.
	PeerClosed(peerID string)
}

type clientState int

const (
	stateUninitialized clientState = iota
	stateConnecting
	stateConnected
	stateClosed
)

// Client is a connection to the signaling mediator.
type Client struct {
	config Config
	build  TransportBuilder
	logger *slog.Logger

	mailboxes *transport.Mailboxes

	// notifyMu serializes observer calls so PeerConnected and
	// PeerClosed for one peer are never reordered.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     clientState
	conn      *websocket.Conn
	localID   string
	room      string
	factory   protocol.Factory
	peers     map[string]protocol.Transport
	announced map[string]bool
	observers []PeerObserver

	// waiters holds the pending calls of each ack event, oldest first.
	waiters map[string][]chan Frame

	// callMu keeps waiter order equal to write order.
	callMu sync.Mutex

	outbound chan []byte

	// ctx bounds negotiations started by memberJoined. Cancelled on
	// shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client. No connection is made until Initialize.
func New(cfg Config, build TransportBuilder, logger *slog.Logger) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ConnectRetries < 0 {
		cfg.ConnectRetries = 0
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:    cfg,
		build:     build,
		logger:    logger,
		mailboxes: transport.NewMailboxes(),
		peers:     make(map[string]protocol.Transport),
		announced: make(map[string]bool),
		waiters:   make(map[string][]chan Frame),
		outbound:  make(chan []byte, sendQueueSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Initialize connects to the mediator, retrying failed dials with a
// growing backoff. When every attempt fails it returns an error wrapping
// protocol.ErrConnectionFailed.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case stateUninitialized:
		c.state = stateConnecting
	case stateClosed:
		c.mu.Unlock()
		return protocol.ErrTransportClosed
	default:
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.mu.Unlock()

	attempts := 1 + c.config.ConnectRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, localID, err := c.dial(ctx)
		if err == nil {
			if err := c.connected(conn, localID); err != nil {
				conn.Close()
				c.mu.Lock()
				c.state = stateUninitialized
				c.conn = nil
				c.localID = ""
				c.mu.Unlock()
				return fmt.Errorf("building peer transports: %w", err)
			}
			c.logger.Info("connected to mediator", "url", c.config.URL, "peer_id", localID, "attempt", attempt)
			return nil
		}
		lastErr = err
		c.logger.Warn("mediator connect failed", "url", c.config.URL, "attempt", attempt, "of", attempts, "error", err)

		if attempt == attempts || ctx.Err() != nil {
			break
		}
		select {
		case <-c.config.Clock.After(time.Duration(attempt) * c.config.Backoff):
		case <-ctx.Done():
		}
	}

	c.mu.Lock()
	c.state = stateUninitialized
	c.mu.Unlock()
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", protocol.ErrConnectionFailed, ctx.Err())
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", protocol.ErrConnectionFailed, c.config.URL, attempts, lastErr)
}

// dial opens the websocket and reads the connect greeting.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.config.DialTimeout}
	conn, response, err := dialer.DialContext(dialCtx, c.config.URL, nil)
	if err != nil {
		if response != nil {
			return nil, "", fmt.Errorf("dialing mediator: %w (status %d)", err, response.StatusCode)
		}
		return nil, "", fmt.Errorf("dialing mediator: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.config.DialTimeout))
	var greeting Frame
	if err := conn.ReadJSON(&greeting); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("reading connect greeting: %w", err)
	}
	var localID string
	if greeting.Event != eventConnect {
		conn.Close()
		return nil, "", fmt.Errorf("expected %s greeting, got %q", eventConnect, greeting.Event)
	}
	if err := greeting.Arg(0, &localID); err != nil || localID == "" {
		conn.Close()
		return nil, "", fmt.Errorf("connect greeting carries no connection id: %v", err)
	}
	return conn, localID, nil
}

func (c *Client) connected(conn *websocket.Conn, localID string) error {
	c.mu.Lock()
	c.localID = localID
	c.mu.Unlock()

	factory, err := c.build(c)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.factory = factory
	c.state = stateConnected
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump(conn)
	go c.writePump(conn)
	return nil
}

func (c *Client) requireConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateConnected:
		return nil
	case stateClosed:
		return protocol.ErrTransportClosed
	default:
		return ErrNotInitialized
	}
}

// LocalID is the connection id the mediator assigned to us. Empty before
// Initialize.
func (c *Client) LocalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

// Room is the room joined or created, if any.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Peers returns the transports currently registered, established or
// still negotiating.
func (c *Client) Peers() []protocol.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers := make([]protocol.Transport, 0, len(c.peers))
	for _, peer := range c.peers {
		peers = append(peers, peer)
	}
	return peers
}

// Peer returns the transport registered for peerID.
func (c *Client) Peer(peerID string) (protocol.Transport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	peer, ok := c.peers[peerID]
	return peer, ok
}

// Watch registers an observer for peer transports.
func (c *Client) Watch(observer PeerObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

// Done is closed when the control connection is lost or closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// CreateRoom asks the mediator for a new room and enters it.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	if err := c.requireConnected(); err != nil {
		return "", err
	}
	ack, err := c.call(ctx, eventCreateRoom)
	if err != nil {
		return "", err
	}
	var room string
	if err := ack.Arg(0, &room); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	c.logger.Info("room created", "room_id", room)
	return room, nil
}

// JoinRoom enters room and connects to every member already in it. It
// returns the canonical room id once each member has either connected or
// failed negotiation.
func (c *Client) JoinRoom(ctx context.Context, room string) (string, error) {
	if err := c.requireConnected(); err != nil {
		return "", err
	}
	ack, err := c.call(ctx, eventJoinRoom, room)
	if err != nil {
		return "", err
	}
	var canonical string
	if err := ack.Arg(0, &canonical); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.room = canonical
	localID := c.localID
	c.mu.Unlock()
	c.logger.Info("room joined", "room_id", canonical)

	members, err := c.Members(ctx, canonical)
	if err != nil {
		return canonical, fmt.Errorf("listing members of %s: %w", canonical, err)
	}

	// Failures are per peer; the group never returns an error.
	var group errgroup.Group
	for _, member := range members {
		if member == localID {
			continue
		}
		group.Go(func() error {
			c.connectPeer(ctx, member, true)
			return nil
		})
	}
	group.Wait()
	return canonical, nil
}

// Members lists the connection ids in room, including our own.
func (c *Client) Members(ctx context.Context, room string) ([]string, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	ack, err := c.call(ctx, eventGetAllMembers, room)
	if err != nil {
		return nil, err
	}
	var members []string
	if err := ack.Arg(0, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// connectPeer registers a transport for peerID and negotiates it. Peers
// found already in the room are also initiated from our side.
func (c *Client) connectPeer(ctx context.Context, peerID string, initiate bool) error {
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return protocol.ErrTransportClosed
	}
	if _, exists := c.peers[peerID]; exists {
		c.mu.Unlock()
		return nil
	}
	peer := c.factory(peerID)
	c.peers[peerID] = peer
	c.mu.Unlock()

	go c.watchPeer(peer)
	logger := c.logger.With("peer", peerID)
	logger.Info("connecting to peer", "initiate", initiate)

	var err error
	if initiate {
		var group errgroup.Group
		group.Go(func() error { return peer.Start(ctx) })
		group.Go(func() error { return peer.Initiate(ctx) })
		err = group.Wait()
	} else {
		err = peer.Start(ctx)
	}
	if err != nil {
		logger.Warn("peer negotiation failed, dropping peer", "error", err)
		peer.Close()
		return err
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	current, ok := c.peers[peerID]
	registered := ok && current == peer
	if registered {
		c.announced[peerID] = true
	}
	observers := append([]PeerObserver(nil), c.observers...)
	c.mu.Unlock()
	if !registered {
		return protocol.ErrTransportClosed
	}

	logger.Info("peer connected")
	for _, observer := range observers {
		observer.PeerConnected(peer)
	}
	return nil
}

// watchPeer removes a peer from the map once its transport is terminal.
func (c *Client) watchPeer(peer protocol.Transport) {
	<-peer.Done()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	peerID := peer.PeerID()
	c.mu.Lock()
	if current, ok := c.peers[peerID]; ok && current == peer {
		delete(c.peers, peerID)
	}
	announced := c.announced[peerID]
	delete(c.announced, peerID)
	observers := append([]PeerObserver(nil), c.observers...)
	c.mu.Unlock()

	c.logger.Info("peer removed", "peer", peerID, "state", peer.State().String())
	if !announced {
		return
	}
	for _, observer := range observers {
		observer.PeerClosed(peerID)
	}
}

// call emits command and waits for its acknowledgement.
func (c *Client) call(ctx context.Context, command string, args ...any) (Frame, error) {
	frame, err := NewFrame(command, args...)
	if err != nil {
		return Frame{}, err
	}
	ackEvent := AckEvent(command)
	reply := make(chan Frame, 1)

	c.callMu.Lock()
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		c.callMu.Unlock()
		return Frame{}, protocol.ErrTransportClosed
	}
	c.waiters[ackEvent] = append(c.waiters[ackEvent], reply)
	c.mu.Unlock()
	err = c.write(frame)
	c.callMu.Unlock()
	if err != nil {
		c.dropWaiter(ackEvent, reply)
		return Frame{}, err
	}

	select {
	case ack := <-reply:
		return ack, nil
	case <-ctx.Done():
		c.dropWaiter(ackEvent, reply)
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, fmt.Errorf("waiting for %s: %w", ackEvent, protocol.ErrTransportClosed)
	}
}

func (c *Client) dropWaiter(ackEvent string, reply chan Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.waiters[ackEvent]
	for index, waiter := range queue {
		if waiter == reply {
			c.waiters[ackEvent] = append(queue[:index], queue[index+1:]...)
			return
		}
	}
}

// resolve hands an acknowledgement to the oldest waiter for it.
func (c *Client) resolve(frame Frame) {
	c.mu.Lock()
	queue := c.waiters[frame.Event]
	if len(queue) == 0 {
		c.mu.Unlock()
		c.logger.Debug("dropping unsolicited acknowledgement", "event", frame.Event)
		return
	}
	waiter := queue[0]
	c.waiters[frame.Event] = queue[1:]
	c.mu.Unlock()
	waiter <- frame
}

// Relay sends a negotiation message to peerID through the mediator.
func (c *Client) Relay(_ context.Context, peerID string, signal transport.Signal) error {
	c.mu.Lock()
	localID := c.localID
	c.mu.Unlock()

	payload := signal.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	frame, err := NewFrame(RelayEvent(signal.Kind, localID), peerID, payload)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// Subscribe returns the negotiation messages relayed to us by peerID.
func (c *Client) Subscribe(peerID string) (<-chan transport.Signal, func()) {
	return c.mailboxes.Subscribe(peerID)
}

func (c *Client) write(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", frame.Event, err)
	}
	select {
	case c.outbound <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("writing %s: %w", frame.Event, protocol.ErrTransportClosed)
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				c.logger.Info("mediator connection closed")
			} else {
				c.logger.Warn("mediator connection lost", "error", err)
			}
			c.shutdown()
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("dropping malformed mediator frame", "error", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	if strings.HasSuffix(frame.Event, ackSuffix) {
		c.resolve(frame)
		return
	}

	if frame.Event == eventMemberJoined {
		var peerID string
		if err := frame.Arg(0, &peerID); err != nil {
			c.logger.Warn("dropping memberJoined", "error", err)
			return
		}
		if peerID == c.LocalID() {
			return
		}
		c.logger.Info("member joined", "peer", peerID)
		go c.connectPeer(c.ctx, peerID, false)
		return
	}

	if kind, sender, ok := ParseRelayEvent(frame.Event); ok {
		if len(frame.Args) < 2 {
			c.logger.Warn("dropping relay frame without payload", "event", frame.Event)
			return
		}
		if !c.mailboxes.Deliver(sender, transport.Signal{Kind: kind, Payload: frame.Args[1]}) {
			c.logger.Warn("peer mailbox full, dropping signal", "peer", sender, "kind", string(kind))
		}
		return
	}

	c.logger.Debug("dropping unknown mediator event", "event", frame.Event)
}

func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("writing to mediator failed", "error", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close leaves the mediator and closes every peer transport.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
	}
	c.shutdown()

	for _, peer := range c.Peers() {
		peer.Close()
	}
	return nil
}

// shutdown marks the client closed and releases everything waiting on
// the control connection. Transports see it through Done.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		conn := c.conn
		clear(c.waiters)
		c.mu.Unlock()

		close(c.done)
		c.cancel()
		if conn != nil {
			conn.Close()
		}
	})
}
