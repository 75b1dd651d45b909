package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/spellduel/broker/internal/account"
	"github.com/spellduel/broker/internal/broker"
	"github.com/spellduel/broker/internal/protocol"
	"github.com/spellduel/broker/internal/ranking"
)

type nopSaver struct{}

func (nopSaver) ScheduleSave() {}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	opts := broker.DefaultOptions()
	opts.SweepInterval = time.Hour
	opts.StatsInterval = time.Hour
	b := broker.New(ctx, opts, account.NewStore(time.Hour), ranking.NewLedger(), nopSaver{}, zap.NewNop().Sugar())

	srv := httptest.NewServer(Handler(b, zap.NewNop().Sugar(), nil))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// recvEvent reads frames until one with the wanted type arrives, skipping
// the serverStats broadcasts.
func recvEvent(t *testing.T, conn *websocket.Conn, wantType string, within time.Duration) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read while waiting for %q: %v", wantType, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if m["type"] == wantType {
			return m
		}
	}
}

func TestHandler_PingPong(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	sendEvent(t, conn, map[string]string{"type": protocol.EvtPing})
	recvEvent(t, conn, protocol.EvtPong, 2*time.Second)
}

func TestHandler_MatchAndRelayEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	connA := dial(t, srv)
	connB := dial(t, srv)

	sendEvent(t, connA, map[string]string{"type": protocol.EvtRequestMatch, "playerName": "Alice"})
	recvEvent(t, connA, protocol.EvtWaitingForMatch, 2*time.Second)
	sendEvent(t, connB, map[string]string{"type": protocol.EvtRequestMatch, "playerName": "Bob"})

	mfA := recvEvent(t, connA, protocol.EvtMatchFound, 2*time.Second)
	mfB := recvEvent(t, connB, protocol.EvtMatchFound, 2*time.Second)
	if mfA["gameId"] != mfB["gameId"] {
		t.Fatalf("game ids differ: %v vs %v", mfA["gameId"], mfB["gameId"])
	}
	if mfA["isHost"] == mfB["isHost"] {
		t.Fatalf("exactly one side must be host")
	}

	// A's opponent id is B's connection id; relay an offer through.
	targetB := mfA["opponent"].(map[string]any)["id"].(string)
	sendEvent(t, connA, map[string]any{
		"type":    protocol.EvtOffer,
		"target":  targetB,
		"payload": map[string]string{"sdp": "fake-offer"},
	})
	offer := recvEvent(t, connB, protocol.EvtOffer, 2*time.Second)
	if offer["payload"].(map[string]any)["sdp"] != "fake-offer" {
		t.Fatalf("offer payload mangled: %v", offer)
	}
}

func TestHandler_UnknownTypeGetsError(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	sendEvent(t, conn, map[string]string{"type": "teleport"})
	errMsg := recvEvent(t, conn, protocol.EvtError, 2*time.Second)
	if errMsg["message"] != "unknown message type" {
		t.Fatalf("unexpected error message: %v", errMsg)
	}
}

func TestHandler_DisconnectNotifiesOpponent(t *testing.T) {
	srv := newTestServer(t)
	connA := dial(t, srv)
	connB := dial(t, srv)

	sendEvent(t, connA, map[string]string{"type": protocol.EvtRequestMatch, "playerName": "Alice"})
	recvEvent(t, connA, protocol.EvtWaitingForMatch, 2*time.Second)
	sendEvent(t, connB, map[string]string{"type": protocol.EvtRequestMatch, "playerName": "Bob"})
	recvEvent(t, connA, protocol.EvtMatchFound, 2*time.Second)
	recvEvent(t, connB, protocol.EvtMatchFound, 2*time.Second)

	connA.Close(websocket.StatusNormalClosure, "leaving")
	note := recvEvent(t, connB, protocol.EvtOpponentDisconnected, 2*time.Second)
	if note["isDisconnectedAsLoser"] != false {
		t.Fatalf("guest match must not record a forfeit: %v", note)
	}
}
