package broker

import "encoding/json"

// Msg is the broker's typed inbox message. One handler per type, processed
// to completion on the single broker goroutine, so the registries it owns
// need no locking.
type Msg interface{ isMsg() }

// Register announces a new transport connection. Outbox is where the broker
// writes server events for this client.
type Register struct {
	ConnID string
	Outbox chan any
}

// Disconnect removes a connection and cascades: cancels a matchmaking wait,
// tears down an active game, applies the forfeit rule.
type Disconnect struct {
	ConnID string
}

// Heartbeat refreshes liveness and gets a pong back.
type Heartbeat struct {
	ConnID string
}

// Authenticate binds a connection to an account via a session token.
type Authenticate struct {
	ConnID string
	Token  string
}

// RequestMatch enters the waiting list or pairs with the first live waiter.
type RequestMatch struct {
	ConnID     string
	PlayerName string
}

// Relay forwards a peer event (offer/answer/ICE/game events) to Target,
// subject to the same-session authorization check. State, when present, is
// mirrored for reconnect recovery.
type Relay struct {
	Event   string
	From    string
	Target  string
	Payload json.RawMessage
	State   json.RawMessage
}

// GameOver files one side's claimed winner with the outcome consensus.
type GameOver struct {
	ConnID string
	Winner string
	State  json.RawMessage
}

// RequestState asks for the mirrored snapshot of the caller's game.
type RequestState struct {
	ConnID string
}

// Sweep runs the liveness and idle-reap passes immediately. The run loop
// sends it to itself on a timer; tests send it directly.
type Sweep struct{}

// GetStats reflects broker counters without data races; tests and the stats
// broadcast share it.
type GetStats struct {
	Reply chan Stats
}

type Shutdown struct{}

func (Register) isMsg()     {}
func (Disconnect) isMsg()   {}
func (Heartbeat) isMsg()    {}
func (Authenticate) isMsg() {}
func (RequestMatch) isMsg() {}
func (Relay) isMsg()        {}
func (GameOver) isMsg()     {}
func (RequestState) isMsg() {}
func (Sweep) isMsg()        {}
func (GetStats) isMsg()     {}
func (Shutdown) isMsg()     {}

// Stats mirrors the serverStats broadcast payload.
type Stats struct {
	TotalConnections int
	ActiveGames      int
	WaitingPlayers   int
	TotalMatches     int
}

// origin names the connection a message came from, for error reporting out
// of the panic guard. Empty for messages with no single origin.
func origin(m Msg) string {
	switch msg := m.(type) {
	case Heartbeat:
		return msg.ConnID
	case Authenticate:
		return msg.ConnID
	case RequestMatch:
		return msg.ConnID
	case Relay:
		return msg.From
	case GameOver:
		return msg.ConnID
	case RequestState:
		return msg.ConnID
	}
	return ""
}
