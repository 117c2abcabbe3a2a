package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const ConnectionSendBufferSize = 32

type ConnectionState = string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
)

type ConnectionSettings struct {
	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	PingTimeout        time.Duration
}

func DefaultConnectionSettings() *ConnectionSettings {
	return &ConnectionSettings{
		WsHandshakeTimeout: 2 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		PingTimeout:        5 * time.Second,
	}
}

// the opaque bearer credential presented at connect time.
// rotating the credential means close old connection, open new one.
type ClientAuth struct {
	ByJwt      string
	AppVersion string
}

func (self *ClientAuth) UserId() (Id, error) {
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil {
		return Id{}, err
	}
	return byJwt.UserId, nil
}

type EventFunction func(data json.RawMessage)

type ConnectionStateFunction func(state ConnectionState)

// owns the single live realtime connection for one project view.
// exactly one live connection exists per credential: `Connect` with the same
// credential returns the existing connection, `Connect` with a new credential
// closes the stale one first so it never stays subscribed to the room.
// there is no automatic retry; whoever holds the manager observes the
// disconnected state transition and calls `Connect` again.
type ConnectionManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	connectUrl string
	projectId  Id

	settings *ConnectionSettings

	stateMonitor *CallbackList[ConnectionStateFunction]

	// serializes Connect so that concurrent acquires for the same credential
	// cannot open two live connections
	connectMutex sync.Mutex

	mutex      sync.Mutex
	handlers   map[EventName]*CallbackList[EventFunction]
	connection *Connection
	state      ConnectionState
}

func NewConnectionManagerWithDefaults(ctx context.Context, connectUrl string, projectId Id) *ConnectionManager {
	return NewConnectionManager(ctx, connectUrl, projectId, DefaultConnectionSettings())
}

func NewConnectionManager(ctx context.Context, connectUrl string, projectId Id, settings *ConnectionSettings) *ConnectionManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ConnectionManager{
		ctx:          cancelCtx,
		cancel:       cancel,
		connectUrl:   connectUrl,
		projectId:    projectId,
		settings:     settings,
		stateMonitor: NewCallbackList[ConnectionStateFunction](),
		handlers:     map[EventName]*CallbackList[EventFunction]{},
		state:        ConnectionStateDisconnected,
	}
}

func (self *ConnectionManager) State() ConnectionState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

func (self *ConnectionManager) AddStateCallback(stateCallback ConnectionStateFunction) func() {
	return self.stateMonitor.Add(stateCallback)
}

func (self *ConnectionManager) setState(state ConnectionState) {
	self.mutex.Lock()
	if self.state == state {
		self.mutex.Unlock()
		return
	}
	self.state = state
	self.mutex.Unlock()

	for _, stateCallback := range self.stateMonitor.Get() {
		HandleError(func() {
			stateCallback(state)
		})
	}
}

// idempotent acquire. connection failures surface as the disconnected state
// and a returned error, never as a retry loop.
func (self *ConnectionManager) Connect(auth *ClientAuth) (*Connection, error) {
	self.connectMutex.Lock()
	defer self.connectMutex.Unlock()

	self.mutex.Lock()
	stale := self.connection
	if stale != nil && stale.IsActive() && stale.auth.ByJwt == auth.ByJwt {
		self.mutex.Unlock()
		return stale, nil
	}
	self.connection = nil
	self.mutex.Unlock()

	if stale != nil {
		// credential changed or connection dead. a stale connection must not
		// stay subscribed to the room.
		stale.Close()
	}

	self.setState(ConnectionStateConnecting)

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	header := http.Header{}
	header.Add("Authorization", fmt.Sprintf("Bearer %s", auth.ByJwt))

	ws, _, err := dialer.DialContext(self.ctx, self.connectUrl, header)
	if err != nil {
		self.setState(ConnectionStateDisconnected)
		return nil, err
	}

	connection := newConnection(self.ctx, self, ws, auth)

	self.mutex.Lock()
	self.connection = connection
	self.mutex.Unlock()

	self.setState(ConnectionStateConnected)

	// enroll in the project broadcast group. room membership does not survive
	// a transport reconnect, so this runs on every successful open.
	if err := self.Emit(EventJoin, &JoinPayload{ProjectId: self.projectId}); err != nil {
		glog.Infof("[c]join emit error = %s\n", err)
	}

	return connection, nil
}

func (self *ConnectionManager) On(event EventName, handler EventFunction) func() {
	self.mutex.Lock()
	callbacks, ok := self.handlers[event]
	if !ok {
		callbacks = NewCallbackList[EventFunction]()
		self.handlers[event] = callbacks
	}
	self.mutex.Unlock()
	return callbacks.Add(handler)
}

func (self *ConnectionManager) Emit(event EventName, payload any) error {
	self.mutex.Lock()
	connection := self.connection
	self.mutex.Unlock()

	if connection == nil || !connection.IsActive() {
		return fmt.Errorf("not connected")
	}

	frameBytes, err := EncodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	return connection.send(frameBytes)
}

func (self *ConnectionManager) dispatch(envelope *Envelope) {
	self.mutex.Lock()
	callbacks, ok := self.handlers[envelope.Event]
	self.mutex.Unlock()
	if !ok {
		return
	}
	for _, handler := range callbacks.Get() {
		HandleError(func() {
			handler(envelope.Data)
		})
	}
}

func (self *ConnectionManager) connectionClosed(connection *Connection) {
	self.mutex.Lock()
	current := self.connection == connection
	if current {
		self.connection = nil
	}
	self.mutex.Unlock()

	if current {
		self.setState(ConnectionStateDisconnected)
	}
}

// closing drops all registered handlers so that listeners cannot leak across
// credential changes.
func (self *ConnectionManager) Close() {
	self.mutex.Lock()
	connection := self.connection
	self.connection = nil
	for _, callbacks := range self.handlers {
		callbacks.Clear()
	}
	self.handlers = map[EventName]*CallbackList[EventFunction]{}
	self.mutex.Unlock()

	if connection != nil {
		connection.Close()
	}
	self.cancel()
	self.setState(ConnectionStateDisconnected)
}

// one live websocket session
type Connection struct {
	ctx    context.Context
	cancel context.CancelFunc

	manager *ConnectionManager
	ws      *websocket.Conn
	auth    *ClientAuth

	sendFrames chan []byte
}

func newConnection(ctx context.Context, manager *ConnectionManager, ws *websocket.Conn, auth *ClientAuth) *Connection {
	cancelCtx, cancel := context.WithCancel(ctx)
	connection := &Connection{
		ctx:        cancelCtx,
		cancel:     cancel,
		manager:    manager,
		ws:         ws,
		auth:       auth,
		sendFrames: make(chan []byte, ConnectionSendBufferSize),
	}
	go connection.writePump()
	go connection.readPump()
	return connection
}

func (self *Connection) IsActive() bool {
	select {
	case <-self.ctx.Done():
		return false
	default:
		return true
	}
}

func (self *Connection) send(frameBytes []byte) error {
	select {
	case <-self.ctx.Done():
		return fmt.Errorf("connection closed")
	case self.sendFrames <- frameBytes:
		return nil
	default:
		// presence and move events are fire-and-forget. dropping under
		// backpressure is safer than blocking the caller.
		glog.V(2).Infof("[c]send buffer full, dropped frame\n")
		return nil
	}
}

func (self *Connection) writePump() {
	defer func() {
		self.cancel()
		self.ws.Close()
	}()

	settings := self.manager.settings
	pingTicker := time.NewTicker(settings.PingTimeout)
	defer pingTicker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case frameBytes := <-self.sendFrames:
			self.ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.TextMessage, frameBytes); err != nil {
				glog.Infof("[c]write error = %s\n", err)
				return
			}
		case <-pingTicker.C:
			self.ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Infof("[c]ping error = %s\n", err)
				return
			}
		}
	}
}

func (self *Connection) readPump() {
	defer func() {
		self.cancel()
		self.ws.Close()
		self.manager.connectionClosed(self)
	}()

	settings := self.manager.settings
	self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	self.ws.SetPongHandler(func(string) error {
		self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		return nil
	})

	for {
		messageType, frameBytes, err := self.ws.ReadMessage()
		if err != nil {
			if self.IsActive() {
				glog.Infof("[c]read error = %s\n", err)
			}
			return
		}
		self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		switch messageType {
		case websocket.TextMessage:
			envelope, err := DecodeEnvelope(frameBytes)
			if err != nil {
				glog.V(2).Infof("[c]drop undecodable frame = %s\n", err)
				continue
			}
			self.manager.dispatch(envelope)
		default:
			// the platform contract is text frames only
		}
	}
}

func (self *Connection) Close() {
	self.cancel()
	self.ws.Close()
}
