package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/spellduel/broker/internal/broker"
	"github.com/spellduel/broker/internal/protocol"
)

const writeTimeout = 5 * time.Second

// Handler upgrades the request, registers the connection with the broker and
// pumps messages both ways. The reader loop feeds typed broker messages; the
// writer goroutine drains the outbox the broker writes to. When the broker
// closes the outbox (sweep, shutdown, overflow) the writer closes the
// websocket, which unblocks the reader and ends the handler.
func Handler(b *broker.Broker, log *zap.SugaredLogger, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Warnw("websocket accept failed", "error", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := randID(10)
		outbox := make(chan any, 32)
		b.Inbox() <- broker.Register{ConnID: connID, Outbox: outbox}
		defer func() { b.Inbox() <- broker.Disconnect{ConnID: connID} }()

		writeCtx, writeCancel := context.WithCancel(context.Background())
		defer writeCancel()
		go func() {
			for v := range outbox {
				payload, err := json.Marshal(v)
				if err != nil {
					log.Errorw("marshal server event", "conn", connID, "error", err)
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				err = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					return
				}
			}
			// Outbox closed by the broker: force the reader loop out too.
			conn.Close(websocket.StatusGoingAway, "server closed session")
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}

			var cm protocol.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeDirect(r.Context(), conn, protocol.NewError("bad json"))
				continue
			}

			msg, ok := toBrokerMsg(connID, cm)
			if !ok {
				writeDirect(r.Context(), conn, protocol.NewError("unknown message type"))
				continue
			}
			b.Inbox() <- msg
		}
	}
}

func toBrokerMsg(connID string, cm protocol.ClientMessage) (broker.Msg, bool) {
	switch cm.Type {
	case protocol.EvtPing:
		return broker.Heartbeat{ConnID: connID}, true
	case protocol.EvtAuthenticate:
		return broker.Authenticate{ConnID: connID, Token: cm.SessionToken}, true
	case protocol.EvtRequestMatch:
		return broker.RequestMatch{ConnID: connID, PlayerName: cm.PlayerName}, true
	case protocol.EvtOffer, protocol.EvtAnswer, protocol.EvtIceCandidate:
		return broker.Relay{Event: cm.Type, From: connID, Target: cm.Target, Payload: cm.Payload}, true
	case protocol.EvtGameState, protocol.EvtCardPlayed, protocol.EvtTurnEnd:
		return broker.Relay{Event: cm.Type, From: connID, Target: cm.Target, Payload: cm.Payload, State: cm.GameState}, true
	case protocol.EvtGameOver:
		return broker.GameOver{ConnID: connID, Winner: cm.Winner, State: cm.GameState}, true
	case protocol.EvtRequestGameState:
		return broker.RequestState{ConnID: connID}, true
	default:
		return nil, false
	}
}

func writeDirect(ctx context.Context, conn *websocket.Conn, v any) {
	payload, _ := json.Marshal(v)
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return "conn_" + string(b)
}
