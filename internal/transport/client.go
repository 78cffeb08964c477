// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/interviewx/client/config"
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/types"
	"github.com/interviewx/client/pkg/utils"
)

var defaultRetryDelays = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
}

type heartbeatPayload struct {
	Timestamp  int64  `json:"timestamp"`
	ClientTime string `json:"client_time"`
}

// CredentialSource yields the current bearer token. The backend client
// writes refreshed tokens back to the same store.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

type options struct {
	clock       utils.Clock
	dialer      Dialer
	header      http.Header
	credentials CredentialSource
}

// Option configures a Client.
type Option func(*options)

func WithClock(clock utils.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithDialer(dialer Dialer) Option {
	return func(o *options) { o.dialer = dialer }
}

// WithCredentials makes reconnects present the current token from source
// instead of the one given to Connect.
func WithCredentials(source CredentialSource) Option {
	return func(o *options) { o.credentials = source }
}

// WithHeader adds headers sent on every handshake besides Authorization.
func WithHeader(header http.Header) Option {
	return func(o *options) { o.header = header.Clone() }
}

type subscription struct {
	id      int
	handler internal_type.Handler
}

type stateObserver struct {
	id int
	fn func(internal_type.TransportState)
}

// pending collects notifications produced under the state lock so they can
// be delivered after it is released.
type pending struct {
	states []internal_type.TransportState
	events []internal_type.Message
}

// Client is the single persistent connection to the backend. It queues sends
// while the connection is not open, reconnects with a bounded backoff table,
// keeps the connection alive with heartbeats and fans inbound frames out to
// subscribers by kind.
type Client struct {
	logger commons.Logger
	cfg    config.TransportConfig
	url    string
	clock  utils.Clock
	dialer Dialer
	header http.Header
	delays []time.Duration

	credentials CredentialSource

	mu            sync.Mutex
	state         internal_type.ConnectionState
	attempts      int
	lastHeartbeat time.Time
	epoch         int
	conn          Conn
	credential    string
	suppressed    bool
	released      bool
	queue         *sendQueue

	heartbeatTimer utils.Timer
	staleTimer     utils.Timer
	reconnectTimer utils.Timer

	subMu     sync.RWMutex
	nextSubID int
	subs      map[internal_type.MessageKind][]subscription
	observers []stateObserver
}

var _ internal_type.Transport = (*Client)(nil)

// NewClient creates a disconnected client for url.
func NewClient(logger commons.Logger, cfg config.TransportConfig, url string, opts ...Option) *Client {
	o := &options{clock: utils.NewRealClock(), header: http.Header{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.dialer == nil {
		o.dialer = NewWebsocketDialer(cfg.ConnectTimeout())
	}
	delays := cfg.RetryDelayTable()
	if len(delays) == 0 {
		delays = defaultRetryDelays
	}
	return &Client{
		logger:      logger,
		cfg:         cfg,
		url:         url,
		clock:       o.clock,
		dialer:      o.dialer,
		header:      o.header,
		credentials: o.credentials,
		delays:      delays,
		state:       internal_type.ConnectionDisconnected,
		queue:       newSendQueue(cfg.MaxQueueSize),
		subs:        make(map[internal_type.MessageKind][]subscription),
	}
}

// Connect opens the connection with credential and returns once it is
// connected and every queued frame has been written.
func (c *Client) Connect(ctx context.Context, credential string) error {
	const op = "transport.connect"
	p := &pending{}

	c.mu.Lock()
	switch {
	case c.released:
		c.mu.Unlock()
		return types.NewError(types.KindReleased, op, nil)
	case credential == "":
		c.mu.Unlock()
		return types.NewError(types.KindNoCredential, op, nil)
	case c.state == internal_type.ConnectionConnected:
		c.mu.Unlock()
		return nil
	case c.state == internal_type.ConnectionConnecting:
		c.mu.Unlock()
		return types.Errorf(types.KindInvalidState, op, "connect already in progress")
	}
	c.credential = credential
	c.suppressed = false
	c.attempts = 0
	stopTimer(&c.reconnectTimer)
	c.state = internal_type.ConnectionConnecting
	p.states = append(p.states, c.snapshotLocked())
	c.mu.Unlock()
	c.flush(p)

	conn, err := c.dial(ctx, credential)
	if err != nil {
		p = &pending{}
		c.mu.Lock()
		if c.state == internal_type.ConnectionConnecting {
			c.state = internal_type.ConnectionDisconnected
			p.states = append(p.states, c.snapshotLocked())
		}
		c.mu.Unlock()
		c.flush(p)
		c.logger.Errorf("unable to connect to %s: %v", c.url, err)
		return err
	}
	return c.open(conn)
}

// Disconnect closes the connection cleanly. No reconnect happens until the
// next Connect.
func (c *Client) Disconnect(reason string) error {
	p := &pending{}
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return types.NewError(types.KindReleased, "transport.disconnect", nil)
	}
	c.disconnectLocked(reason, p)
	c.mu.Unlock()
	c.flush(p)
	c.logger.Infow("transport disconnected", "reason", reason)
	return nil
}

// Release disconnects and permanently disables the client.
func (c *Client) Release() error {
	p := &pending{}
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.disconnectLocked("released", p)
	c.released = true
	c.queue.clear()
	c.state = internal_type.ConnectionDestroyed
	p.states = append(p.states, c.snapshotLocked())
	c.mu.Unlock()
	c.flush(p)

	c.subMu.Lock()
	c.subs = make(map[internal_type.MessageKind][]subscription)
	c.observers = nil
	c.subMu.Unlock()
	return nil
}

// Send writes the frame when connected and reports true. Otherwise the frame
// is queued, heartbeats excepted, and Send reports false.
func (c *Client) Send(kind internal_type.MessageKind, payload interface{}, opts ...internal_type.SendOption) bool {
	o := internal_type.SendOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	msg, err := c.newMessage(kind, payload, o.ID)
	if err != nil {
		c.logger.Errorf("unable to encode %s payload: %v", kind, err)
		return false
	}

	p := &pending{}
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		c.flush(p)
	}()

	if c.released {
		c.logger.Warnw("send on released transport", "kind", kind)
		return false
	}
	if c.state == internal_type.ConnectionConnected && c.conn != nil {
		err := c.writeLocked(msg)
		if err == nil {
			return true
		}
		c.dropLocked(err, p)
	}
	if kind == internal_type.KindHeartbeat {
		return false
	}
	if dropped := c.queue.push(queuedFrame{message: msg, coalesceKey: o.CoalesceKey}); dropped > 0 {
		c.logger.Warnw("send queue overflow, dropped oldest frames", "dropped", dropped, "kind", kind)
	}
	p.states = append(p.states, c.snapshotLocked())
	return false
}

// Subscribe registers handler for kind. Handlers of the same kind run in
// registration order; a panicking handler does not affect the others.
func (c *Client) Subscribe(kind internal_type.MessageKind, handler internal_type.Handler) internal_type.Unsubscribe {
	if c.isReleased() {
		c.logger.Warnw("subscribe on released transport", "kind", kind)
		return func() {}
	}
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subs[kind] = append(c.subs[kind], subscription{id: id, handler: handler})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			list := c.subs[kind]
			for i := range list {
				if list[i].id == id {
					c.subs[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// OnStateChange registers fn to observe every TransportState transition.
func (c *Client) OnStateChange(fn func(internal_type.TransportState)) internal_type.Unsubscribe {
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.observers = append(c.observers, stateObserver{id: id, fn: fn})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			for i := range c.observers {
				if c.observers[i].id == id {
					c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *Client) State() internal_type.TransportState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *Client) dial(ctx context.Context, credential string) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout())
	defer cancel()
	header := c.header.Clone()
	header.Set("Authorization", "Bearer "+credential)

	start := time.Now()
	conn, err := c.dialer.Dial(ctx, c.url, header)
	c.logger.Benchmark("Transport.Dial", time.Since(start))
	return conn, err
}

// open installs a freshly dialed connection: queued frames are drained in
// order before the state becomes connected.
func (c *Client) open(conn Conn) error {
	p := &pending{}
	c.mu.Lock()
	if c.state == internal_type.ConnectionConnected {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	if c.released || c.suppressed ||
		(c.state != internal_type.ConnectionConnecting && c.state != internal_type.ConnectionReconnecting) {
		c.mu.Unlock()
		_ = conn.Close()
		return types.Errorf(types.KindTransportClosed, "transport.connect", "connection abandoned")
	}

	c.epoch++
	epoch := c.epoch
	c.conn = conn
	c.lastHeartbeat = c.clock.Now()
	frames := c.queue.take()
	for i, f := range frames {
		if err := c.writeLocked(f.message); err != nil {
			c.queue.restore(frames[i:])
			c.dropLocked(err, p)
			c.mu.Unlock()
			c.flush(p)
			return types.NewError(types.KindNetwork, "transport.connect", err)
		}
	}
	if len(frames) > 0 {
		c.logger.Debugf("drained %d queued frames on epoch %d", len(frames), epoch)
	}
	c.state = internal_type.ConnectionConnected
	c.attempts = 0
	c.armHeartbeatLocked(epoch)
	p.states = append(p.states, c.snapshotLocked())
	c.mu.Unlock()

	utils.Go(context.Background(), func() {
		c.readLoop(conn, epoch)
	})
	c.flush(p)
	c.logger.Infow("transport connected", "epoch", epoch)
	return nil
}

func (c *Client) readLoop(conn Conn, epoch int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("websocket closed by peer on epoch %d", epoch)
			}
			c.handleDrop(epoch, err)
			return
		}
		c.receive(epoch, data)
	}
}

func (c *Client) receive(epoch int, data []byte) {
	c.mu.Lock()
	if c.epoch != epoch || c.released {
		c.mu.Unlock()
		return
	}
	// any inbound traffic counts as liveness
	c.lastHeartbeat = c.clock.Now()
	c.mu.Unlock()

	var msg internal_type.Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Kind == "" {
		c.logger.Warnw("unable to parse inbound frame", "error", err, "size", len(data))
		c.dispatch(c.errorEvent(types.KindParseError, "malformed inbound frame"))
		return
	}
	c.dispatch(msg)
}

func (c *Client) dispatch(msg internal_type.Message) {
	c.subMu.RLock()
	subs := append([]subscription(nil), c.subs[msg.Kind]...)
	c.subMu.RUnlock()

	if len(subs) == 0 {
		if msg.Kind != internal_type.KindHeartbeat {
			c.logger.Debugw("dropping frame without subscribers", "kind", msg.Kind, "id", msg.ID)
		}
		return
	}
	for _, s := range subs {
		if err := utils.SafeCall(func() { s.handler(msg) }); err != nil {
			c.logger.Errorw("subscriber failed", "kind", msg.Kind, "error", err)
		}
	}
}

func (c *Client) flush(p *pending) {
	if len(p.states) > 0 {
		c.subMu.RLock()
		observers := append([]stateObserver(nil), c.observers...)
		c.subMu.RUnlock()
		for _, st := range p.states {
			for _, o := range observers {
				if err := utils.SafeCall(func() { o.fn(st) }); err != nil {
					c.logger.Errorw("state observer failed", "error", err)
				}
			}
		}
	}
	for _, ev := range p.events {
		c.dispatch(ev)
	}
}

func (c *Client) handleDrop(epoch int, err error) {
	p := &pending{}
	c.mu.Lock()
	if c.epoch != epoch || c.conn == nil || c.state != internal_type.ConnectionConnected {
		c.mu.Unlock()
		return
	}
	c.dropLocked(err, p)
	c.mu.Unlock()
	c.flush(p)
}

// dropLocked tears down an unclean connection and schedules a reconnect.
func (c *Client) dropLocked(err error, p *pending) {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.stopHeartbeatLocked()
	c.logger.Warnw("connection lost", "epoch", c.epoch, "error", err)
	c.scheduleReconnectLocked(p)
}

func (c *Client) scheduleReconnectLocked(p *pending) {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = internal_type.ConnectionDisconnected
		p.states = append(p.states, c.snapshotLocked())
		p.events = append(p.events, c.errorEvent(types.KindReconnectExhausted,
			fmt.Sprintf("gave up after %d reconnect attempts", c.attempts)))
		c.logger.Errorw("reconnect attempts exhausted", "attempts", c.attempts)
		return
	}
	c.attempts++
	idx := c.attempts - 1
	if idx >= len(c.delays) {
		idx = len(c.delays) - 1
	}
	delay := c.delays[idx]
	c.state = internal_type.ConnectionReconnecting
	p.states = append(p.states, c.snapshotLocked())
	c.logger.Infow("scheduling reconnect", "attempt", c.attempts, "delay", delay)
	c.reconnectTimer = c.clock.AfterFunc(delay, c.reconnect)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.released || c.suppressed || c.state != internal_type.ConnectionReconnecting {
		c.mu.Unlock()
		return
	}
	credential := c.credential
	source := c.credentials
	c.mu.Unlock()

	if source != nil {
		token, err := source.Token(context.Background())
		switch {
		case err != nil:
			c.logger.Warnf("reading current credential failed, reusing previous: %v", err)
		case token != "":
			credential = token
		}
	}
	conn, err := c.dial(context.Background(), credential)
	if err != nil {
		c.logger.Warnf("reconnect attempt failed: %v", err)
		p := &pending{}
		c.mu.Lock()
		if !c.released && !c.suppressed && c.state == internal_type.ConnectionReconnecting {
			c.scheduleReconnectLocked(p)
		}
		c.mu.Unlock()
		c.flush(p)
		return
	}
	if err := c.open(conn); err != nil {
		c.logger.Warnf("reconnect could not install connection: %v", err)
	}
}

func (c *Client) armHeartbeatLocked(epoch int) {
	c.heartbeatTimer = c.clock.AfterFunc(c.cfg.HeartbeatInterval(), func() {
		c.beat(epoch)
	})
}

func (c *Client) beat(epoch int) {
	p := &pending{}
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		c.flush(p)
	}()
	if c.epoch != epoch || c.state != internal_type.ConnectionConnected || c.conn == nil {
		return
	}
	sentAt := c.clock.Now()
	msg, err := c.newMessage(internal_type.KindHeartbeat, heartbeatPayload{
		Timestamp:  sentAt.UnixMilli(),
		ClientTime: sentAt.UTC().Format(time.RFC3339Nano),
	}, "")
	if err != nil {
		return
	}
	if err := c.writeLocked(msg); err != nil {
		c.dropLocked(err, p)
		return
	}
	c.staleTimer = c.clock.AfterFunc(c.cfg.PingTimeout(), func() {
		c.checkStale(epoch, sentAt)
	})
	c.armHeartbeatLocked(epoch)
}

func (c *Client) checkStale(epoch int, sentAt time.Time) {
	p := &pending{}
	c.mu.Lock()
	if c.epoch == epoch && c.state == internal_type.ConnectionConnected && c.lastHeartbeat.Before(sentAt) {
		c.dropLocked(types.Errorf(types.KindTransportClosed, "transport.heartbeat",
			"no inbound traffic within %s", c.cfg.PingTimeout()), p)
	}
	c.mu.Unlock()
	c.flush(p)
}

func (c *Client) disconnectLocked(reason string, p *pending) {
	c.suppressed = true
	c.attempts = 0
	stopTimer(&c.reconnectTimer)
	c.stopHeartbeatLocked()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.state != internal_type.ConnectionDisconnected {
		c.state = internal_type.ConnectionDisconnected
		p.states = append(p.states, c.snapshotLocked())
	}
}

func (c *Client) stopHeartbeatLocked() {
	stopTimer(&c.heartbeatTimer)
	stopTimer(&c.staleTimer)
}

func (c *Client) writeLocked(msg internal_type.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	c.logger.Debugf("sending frame: kind=%s id=%s", msg.Kind, msg.ID)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *Client) newMessage(kind internal_type.MessageKind, payload interface{}, id string) (internal_type.Message, error) {
	raw := json.RawMessage(`{}`)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return internal_type.Message{}, err
		}
		raw = b
	}
	if id == "" {
		id = uuid.NewString()
	}
	return internal_type.Message{
		Kind:      kind,
		Payload:   raw,
		Timestamp: c.clock.Now().UnixMilli(),
		ID:        id,
	}, nil
}

func (c *Client) errorEvent(kind types.Kind, message string) internal_type.Message {
	msg, _ := c.newMessage(internal_type.KindError, internal_type.ErrorPayload{
		Kind:    string(kind),
		Message: message,
	}, "")
	return msg
}

func (c *Client) snapshotLocked() internal_type.TransportState {
	return internal_type.TransportState{
		Connection:        c.state,
		ReconnectAttempts: c.attempts,
		QueuedCount:       c.queue.len(),
		LastHeartbeat:     c.lastHeartbeat,
		Epoch:             c.epoch,
	}
}

func stopTimer(t *utils.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
