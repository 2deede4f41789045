package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rustalink/server/pkg/commons"
)

// fatalCloseServer accepts one upgrade, reads the Identify frame, then
// closes with a fatal voice close code.
func fatalCloseServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg Message
		_ = conn.ReadJSON(&msg)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, "fatal"), time.Now().Add(time.Second))
	})
	return httptest.NewServer(mux)
}

func TestMissedAckThreshold_TripsOnThirdConsecutiveMiss(t *testing.T) {
	g := New(Identity{GuildID: "g1", UserID: "u1", SessionID: "s1", Token: "t1"}, commons.Noop())

	require.False(t, g.missedAcks.Add(1) >= MissedAckThreshold)
	require.False(t, g.missedAcks.Add(1) >= MissedAckThreshold)
	require.True(t, g.missedAcks.Add(1) >= MissedAckThreshold)
}

func TestHandleClose_ClosesSocketSoBlockedReadReturns(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Hold the connection open without sending anything, like a
		// voice server that has stopped acking heartbeats.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	g := New(Identity{GuildID: "g1", UserID: "u1", SessionID: "s1", Token: "t1"}, commons.Noop())
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	readDone := make(chan error, 1)
	go func() {
		var msg Message
		readDone <- conn.ReadJSON(&msg)
	}()

	closed := 0
	g.OnClose(func(code int) { closed++ })
	g.handleClose(0)

	select {
	case err := <-readDone:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked read never returned after handleClose")
	}
	require.Equal(t, 1, closed)

	// A second close (the read loop's own error path) must not re-fire
	// the callback.
	g.handleClose(0)
	require.Equal(t, 1, closed)
}

func TestDispatch_HeartbeatAckClearsInFlightAndMissCount(t *testing.T) {
	g := New(Identity{GuildID: "g1", UserID: "u1", SessionID: "s1", Token: "t1"}, commons.Noop())
	g.awaitingAck.Store(true)
	g.missedAcks.Store(2)

	require.NoError(t, g.dispatch(Message{Op: OpHeartbeatAck, D: json.RawMessage(`{}`)}))
	require.False(t, g.awaitingAck.Load())
	require.Equal(t, uint32(0), g.missedAcks.Load())
}

func TestRun_FatalCloseCodeReturnsImmediatelyWithoutReconnect(t *testing.T) {
	srv := fatalCloseServer(t, 4004)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	g := New(Identity{GuildID: "g1", UserID: "u1", SessionID: "s1", Token: "t1"}, commons.Noop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := g.Run(ctx, wsURL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fatal close code 4004")
}
