package listsync

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type ChannelState int

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnecting
	ChannelConnected
	ChannelReconnectPending
)

func (self ChannelState) String() string {
	switch self {
	case ChannelDisconnected:
		return "disconnected"
	case ChannelConnecting:
		return "connecting"
	case ChannelConnected:
		return "connected"
	case ChannelReconnectPending:
		return "reconnect_pending"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

// called synchronously from the channel read loop, in arrival order.
// there is no inbound queue and no reordering.
type ReceiveFunction func(event Event)

type ConnectivityFunction func(connected bool)

type ListChannelSettings struct {
	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	ReconnectTimeout   time.Duration
}

func DefaultListChannelSettings() *ListChannelSettings {
	return &ListChannelSettings{
		WsHandshakeTimeout: 2 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReconnectTimeout:   3 * time.Second,
	}
}

// ListChannel owns one realtime channel to the server, scoped to one list.
// sends are fire-and-forget: when the channel is not connected, frames are
// silently dropped and the next `initial` on (re)connect is the recovery
// path. a closed or errored connection schedules one reconnect attempt
// after the fixed reconnect timeout, cancelled by Disconnect.
type ListChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	wsUrl string
	auth  *ChannelAuth

	settings *ListChannelSettings

	receiveCallback      ReceiveFunction
	connectivityCallback ConnectivityFunction

	stateMutex sync.Mutex
	listId     Id
	state      ChannelState
	conn       *websocket.Conn
	runCancel  context.CancelFunc
	// generation counter. a superseded run must not touch shared state
	// or deliver frames.
	runId int

	writeMutex sync.Mutex
}

func NewListChannelWithDefaults(ctx context.Context, wsUrl string, auth *ChannelAuth) *ListChannel {
	return NewListChannel(ctx, wsUrl, auth, DefaultListChannelSettings())
}

func NewListChannel(ctx context.Context, wsUrl string, auth *ChannelAuth, settings *ListChannelSettings) *ListChannel {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ListChannel{
		ctx:      cancelCtx,
		cancel:   cancel,
		wsUrl:    wsUrl,
		auth:     auth,
		settings: settings,
		state:    ChannelDisconnected,
	}
}

func (self *ListChannel) SetReceiveCallback(receiveCallback ReceiveFunction) {
	self.receiveCallback = receiveCallback
}

func (self *ListChannel) SetConnectivityCallback(connectivityCallback ConnectivityFunction) {
	self.connectivityCallback = connectivityCallback
}

func (self *ListChannel) State() ChannelState {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.state
}

func (self *ListChannel) IsConnected() bool {
	return self.State() == ChannelConnected
}

// Connect opens the channel for one list.
// calling again for the same list while the channel is active is a no-op.
// calling for a different list tears down the old channel first.
func (self *ListChannel) Connect(listId Id) {
	self.stateMutex.Lock()
	if self.runCancel != nil {
		if self.listId == listId {
			self.stateMutex.Unlock()
			return
		}
		self.runCancel()
		self.runCancel = nil
		if self.conn != nil {
			self.conn.Close()
			self.conn = nil
		}
	}
	self.runId += 1
	runId := self.runId
	runCtx, runCancel := context.WithCancel(self.ctx)
	self.listId = listId
	self.runCancel = runCancel
	self.stateMutex.Unlock()

	go self.run(runCtx, runId, listId)
}

func (self *ListChannel) currentRun(runId int) bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return runId == self.runId
}

func (self *ListChannel) run(ctx context.Context, runId int, listId Id) {
	defer self.setState(runId, ChannelDisconnected)

	for {
		self.setState(runId, ChannelConnecting)

		var conn *websocket.Conn
		var err error
		if glog.V(2) {
			conn, err = TraceWithReturnError(fmt.Sprintf("[ch]dial %s", listId), func() (*websocket.Conn, error) {
				return self.dial(ctx, listId)
			})
		} else {
			conn, err = self.dial(ctx, listId)
		}
		if err != nil {
			glog.Infof("[ch]dial error %s = %s\n", listId, err)
		} else {
			self.setConn(runId, conn)
			self.setState(runId, ChannelConnected)
			self.readLoop(ctx, runId, listId, conn)
			self.setConn(runId, nil)
			conn.Close()
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		self.setState(runId, ChannelReconnectPending)
		select {
		case <-ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

func (self *ListChannel) dial(ctx context.Context, listId Id) (*websocket.Conn, error) {
	u, err := url.Parse(self.wsUrl)
	if err != nil {
		return nil, err
	}
	u = u.JoinPath("ws", "list", listId.String())
	u.Path += "/"
	if self.auth != nil && self.auth.ByToken != "" {
		q := u.Query()
		q.Set("token", self.auth.ByToken)
		u.RawQuery = q.Encode()
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (self *ListChannel) readLoop(ctx context.Context, runId int, listId Id, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, frameBytes, err := conn.ReadMessage()
		if err != nil {
			glog.Infof("[ch]%s<- closed = %s\n", listId, err)
			return
		}

		event, err := ParseEvent(frameBytes)
		if err != nil {
			// malformed frames are dropped without surfacing an error
			glog.Infof("[ch]drop malformed frame %s<- = %s\n", listId, err)
			continue
		}
		if event == nil {
			// unknown kind, ignored
			glog.V(2).Infof("[ch]ignore unknown kind %s<-\n", listId)
			continue
		}

		if !self.currentRun(runId) {
			// superseded by a connect to a different list. a frame
			// already read off the old socket must not reconcile into
			// the new list's state.
			glog.Infof("[ch]drop stale frame %s<-\n", listId)
			return
		}

		glog.V(2).Infof("[ch]%s<- %T\n", listId, event)
		if receiveCallback := self.receiveCallback; receiveCallback != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						glog.Infof("[ch]receive callback panic %s = %v\n", listId, r)
					}
				}()
				receiveCallback(event)
			}()
		}
	}
}

// Send transmits one frame if the channel is connected, otherwise drops it.
// stale writes are not queued or retried.
func (self *ListChannel) Send(message ClientMessage) bool {
	self.stateMutex.Lock()
	conn := self.conn
	state := self.state
	self.stateMutex.Unlock()

	if state != ChannelConnected || conn == nil {
		glog.V(2).Infof("[ch]drop send (%s)\n", state)
		return false
	}

	frameBytes, err := EncodeClientMessage(message)
	if err != nil {
		glog.Infof("[ch]encode error = %s\n", err)
		return false
	}

	self.writeMutex.Lock()
	defer self.writeMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frameBytes); err != nil {
		glog.Infof("[ch]-> error = %s\n", err)
		return false
	}
	glog.V(2).Infof("[ch]-> %T\n", message)
	return true
}

// Disconnect tears down the channel and cancels any pending reconnect.
func (self *ListChannel) Disconnect() {
	self.stateMutex.Lock()
	if self.runCancel != nil {
		self.runCancel()
		self.runCancel = nil
	}
	if self.conn != nil {
		self.conn.Close()
		self.conn = nil
	}
	self.listId = Id{}
	self.runId += 1
	runId := self.runId
	self.stateMutex.Unlock()

	self.setState(runId, ChannelDisconnected)
}

func (self *ListChannel) Close() {
	self.Disconnect()
	self.cancel()
}

func (self *ListChannel) setConn(runId int, conn *websocket.Conn) {
	self.stateMutex.Lock()
	if runId != self.runId {
		self.stateMutex.Unlock()
		// a superseded run owns no shared state. its socket, if any,
		// still gets closed.
		if conn != nil {
			conn.Close()
		}
		return
	}
	if conn == nil && self.conn != nil {
		self.conn.Close()
	}
	self.conn = conn
	self.stateMutex.Unlock()
}

func (self *ListChannel) setState(runId int, state ChannelState) {
	self.stateMutex.Lock()
	if runId != self.runId {
		self.stateMutex.Unlock()
		return
	}
	previousState := self.state
	self.state = state
	connectivityCallback := self.connectivityCallback
	self.stateMutex.Unlock()

	if previousState == state {
		return
	}
	glog.V(2).Infof("[ch]state %s -> %s\n", previousState, state)
	if connectivityCallback != nil {
		connected := state == ChannelConnected
		wasConnected := previousState == ChannelConnected
		if connected != wasConnected {
			func() {
				defer func() {
					if r := recover(); r != nil {
						glog.Infof("[ch]connectivity callback panic = %v\n", r)
					}
				}()
				connectivityCallback(connected)
			}()
		}
	}
}
