package listsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

type channelTestServer struct {
	server    *httptest.Server
	dialCount atomic.Int64
	lastPath  atomic.Value
}

// newChannelTestServer runs one websocket endpoint. `handle` owns each
// accepted connection and the connection closes when it returns.
func newChannelTestServer(handle func(conn *websocket.Conn)) *channelTestServer {
	testServer := &channelTestServer{}
	upgrader := websocket.Upgrader{}
	testServer.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testServer.dialCount.Add(1)
		testServer.lastPath.Store(r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	return testServer
}

func (self *channelTestServer) WsUrl() string {
	return "ws" + strings.TrimPrefix(self.server.URL, "http")
}

func (self *channelTestServer) DialCount() int64 {
	return self.dialCount.Load()
}

func (self *channelTestServer) LastPath() string {
	if path, ok := self.lastPath.Load().(string); ok {
		return path
	}
	return ""
}

func (self *channelTestServer) Close() {
	self.server.Close()
}

func newTestChannelSettings() *ListChannelSettings {
	return &ListChannelSettings{
		WsHandshakeTimeout: 2 * time.Second,
		WriteTimeout:       1 * time.Second,
		ReconnectTimeout:   200 * time.Millisecond,
	}
}

// holdOpen blocks until the peer goes away
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestChannelReceive(t *testing.T) {
	itemId := NewId()
	testServer := newChannelTestServer(func(conn *websocket.Conn) {
		frame := map[string]any{
			"action": "initial",
			"items": []map[string]any{
				{"id": itemId.String(), "name": "Milk", "order": 1},
			},
		}
		frameBytes, err := json.Marshal(frame)
		assert.Equal(t, err, nil)
		conn.WriteMessage(websocket.TextMessage, frameBytes)
		holdOpen(conn)
	})
	defer testServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := NewListChannel(ctx, testServer.WsUrl(), nil, newTestChannelSettings())
	defer channel.Close()

	events := make(chan Event, 8)
	channel.SetReceiveCallback(func(event Event) {
		events <- event
	})

	listId := NewId()
	channel.Connect(listId)

	select {
	case event := <-events:
		initial := event.(*InitialEvent)
		assert.Equal(t, 1, len(initial.Items))
		assert.Equal(t, itemId, initial.Items[0].ItemId)
		assert.Equal(t, "Milk", initial.Items[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial event")
	}

	// dial path carries the list id with a trailing slash
	assert.Equal(t, "/ws/list/"+listId.String()+"/", testServer.LastPath())
}

func TestChannelMalformedAndUnknownFrames(t *testing.T) {
	deletedId := NewId()
	testServer := newChannelTestServer(func(conn *websocket.Conn) {
		// malformed, then unknown kind, then a valid frame. only the
		// valid frame reaches the receive callback.
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"action": "mystery_kind"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"action": "deleted", "item_id": "`+deletedId.String()+`"}`))
		holdOpen(conn)
	})
	defer testServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := NewListChannel(ctx, testServer.WsUrl(), nil, newTestChannelSettings())
	defer channel.Close()

	events := make(chan Event, 8)
	channel.SetReceiveCallback(func(event Event) {
		events <- event
	})
	channel.Connect(NewId())

	select {
	case event := <-events:
		deleted := event.(*DeletedEvent)
		assert.Equal(t, deletedId, deleted.ItemId)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for deleted event")
	}

	// no further events arrived from the dropped frames
	select {
	case event := <-events:
		t.Fatalf("unexpected event %T", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelSend(t *testing.T) {
	frames := make(chan []byte, 8)
	testServer := newChannelTestServer(func(conn *websocket.Conn) {
		for {
			_, frameBytes, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- frameBytes
		}
	})
	defer testServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := NewListChannel(ctx, testServer.WsUrl(), nil, newTestChannelSettings())
	defer channel.Close()

	connectivity := make(chan bool, 8)
	channel.SetConnectivityCallback(func(connected bool) {
		connectivity <- connected
	})

	// before connecting, frames are dropped
	itemId := NewId()
	assert.Equal(t, false, channel.Send(&CheckItemMessage{ItemId: itemId, Checked: true}))

	channel.Connect(NewId())
	select {
	case connected := <-connectivity:
		assert.Equal(t, true, connected)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for connect")
	}

	assert.Equal(t, true, channel.Send(&CheckItemMessage{ItemId: itemId, Checked: true}))

	select {
	case frameBytes := <-frames:
		var frame map[string]any
		assert.Equal(t, json.Unmarshal(frameBytes, &frame), nil)
		assert.Equal(t, "check_item", frame["action"])
		assert.Equal(t, itemId.String(), frame["item_id"])
		assert.Equal(t, true, frame["checked"])
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestChannelReconnectAfterClose(t *testing.T) {
	testServer := newChannelTestServer(func(conn *websocket.Conn) {
		// accept and immediately drop the connection
	})
	defer testServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := newTestChannelSettings()
	channel := NewListChannel(ctx, testServer.WsUrl(), nil, settings)
	defer channel.Close()

	channel.Connect(NewId())

	// inside the reconnect delay there is exactly one dial
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), testServer.DialCount())

	// after the delay the channel has dialed again
	time.Sleep(2 * settings.ReconnectTimeout)
	if testServer.DialCount() < 2 {
		t.Fatalf("expected a reconnect, dial count = %d", testServer.DialCount())
	}
}

func TestChannelDisconnectCancelsReconnect(t *testing.T) {
	testServer := newChannelTestServer(func(conn *websocket.Conn) {
	})
	defer testServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := newTestChannelSettings()
	channel := NewListChannel(ctx, testServer.WsUrl(), nil, settings)
	defer channel.Close()

	channel.Connect(NewId())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), testServer.DialCount())

	// tearing down inside the delay cancels the pending attempt
	channel.Disconnect()
	time.Sleep(3 * settings.ReconnectTimeout)
	assert.Equal(t, int64(1), testServer.DialCount())
	assert.Equal(t, ChannelDisconnected, channel.State())
}

func TestChannelConnectSameListNoop(t *testing.T) {
	testServer := newChannelTestServer(holdOpen)
	defer testServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := NewListChannel(ctx, testServer.WsUrl(), nil, newTestChannelSettings())
	defer channel.Close()

	connectivity := make(chan bool, 8)
	channel.SetConnectivityCallback(func(connected bool) {
		connectivity <- connected
	})

	listId := NewId()
	channel.Connect(listId)
	select {
	case <-connectivity:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for connect")
	}
	assert.Equal(t, int64(1), testServer.DialCount())

	// same list while active does not redial
	channel.Connect(listId)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), testServer.DialCount())

	// a different list tears down and dials fresh
	nextListId := NewId()
	channel.Connect(nextListId)
	deadline := time.Now().Add(5 * time.Second)
	for testServer.DialCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for redial")
		}
		time.Sleep(10 * time.Millisecond)
	}
	deadline = time.Now().Add(5 * time.Second)
	for testServer.LastPath() != "/ws/list/"+nextListId.String()+"/" {
		if time.Now().After(deadline) {
			t.Fatalf("redial path = %s", testServer.LastPath())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChannelSwitchLists(t *testing.T) {
	conns := make(chan *websocket.Conn, 4)
	testServer := newChannelTestServer(func(conn *websocket.Conn) {
		conns <- conn
		holdOpen(conn)
	})
	defer testServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := NewListChannel(ctx, testServer.WsUrl(), nil, newTestChannelSettings())
	defer channel.Close()

	events := make(chan Event, 8)
	channel.SetReceiveCallback(func(event Event) {
		events <- event
	})

	listA := NewId()
	channel.Connect(listA)
	var connA *websocket.Conn
	select {
	case connA = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for first dial")
	}

	// switching lists tears the old socket down and dials the new list
	listB := NewId()
	channel.Connect(listB)
	var connB *websocket.Conn
	select {
	case connB = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for redial")
	}
	assert.Equal(t, "/ws/list/"+listB.String()+"/", testServer.LastPath())

	deadline := time.Now().Add(5 * time.Second)
	for channel.State() != ChannelConnected {
		if time.Now().After(deadline) {
			t.Fatalf("channel state = %s", channel.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// frames still in flight on the superseded socket never reach the
	// receive callback, and the old socket closing cannot take the new
	// connection down with it
	staleId := NewId()
	connA.WriteMessage(websocket.TextMessage, []byte(`{"action": "deleted", "item_id": "`+staleId.String()+`"}`))
	connA.Close()
	time.Sleep(300 * time.Millisecond)

	select {
	case event := <-events:
		t.Fatalf("stale event %T delivered after switching lists", event)
	default:
	}
	assert.Equal(t, ChannelConnected, channel.State())

	// the new list's socket is live
	freshId := NewId()
	connB.WriteMessage(websocket.TextMessage, []byte(`{"action": "deleted", "item_id": "`+freshId.String()+`"}`))
	select {
	case event := <-events:
		deleted := event.(*DeletedEvent)
		assert.Equal(t, freshId, deleted.ItemId)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event on the new list")
	}
}

func TestChannelTokenQuery(t *testing.T) {
	tokens := make(chan string, 8)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		holdOpen(conn)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth := &ChannelAuth{ByToken: "test-token"}
	wsUrl := "ws" + strings.TrimPrefix(server.URL, "http")
	channel := NewListChannel(ctx, wsUrl, auth, newTestChannelSettings())
	defer channel.Close()

	channel.Connect(NewId())
	select {
	case token := <-tokens:
		assert.Equal(t, "test-token", token)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for dial")
	}
}
