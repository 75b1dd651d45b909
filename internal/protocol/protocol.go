package protocol

import "encoding/json"

// Event names shared by both directions of the websocket channel.
const (
	EvtPing                 = "ping"
	EvtPong                 = "pong"
	EvtAuthenticate         = "authenticate"
	EvtAuthenticated        = "authenticated"
	EvtRequestMatch         = "requestMatch"
	EvtWaitingForMatch      = "waitingForMatch"
	EvtMatchFound           = "matchFound"
	EvtOffer                = "offer"
	EvtAnswer               = "answer"
	EvtIceCandidate         = "iceCandidate"
	EvtGameState            = "gameState"
	EvtCardPlayed           = "cardPlayed"
	EvtTurnEnd              = "turnEnd"
	EvtGameOver             = "gameOver"
	EvtOpponentDisconnected = "opponentDisconnected"
	EvtServerStats          = "serverStats"
	EvtRequestGameState     = "requestGameState"
	EvtError                = "error"
)

// IsSignal reports whether the event is a pure handshake relay
// (offer/answer/ICE) with no game-state side effect.
func IsSignal(event string) bool {
	return event == EvtOffer || event == EvtAnswer || event == EvtIceCandidate
}

// IsGameEvent reports whether the event is relayed within a game and bumps
// the session's activity clock.
func IsGameEvent(event string) bool {
	return event == EvtGameState || event == EvtCardPlayed || event == EvtTurnEnd
}

// ClientMessage is the single inbound envelope. Fields are optional and
// interpreted per Type.
type ClientMessage struct {
	Type         string          `json:"type"`
	PlayerName   string          `json:"playerName,omitempty"`
	SessionToken string          `json:"sessionToken,omitempty"`
	Target       string          `json:"target,omitempty"`
	Winner       string          `json:"winner,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	GameState    json.RawMessage `json:"gameState,omitempty"`
}

// Server -> client payloads. Each carries its own "type" so the writer can
// marshal them as-is.

type Pong struct {
	Type string `json:"type"`
}

func NewPong() Pong { return Pong{Type: EvtPong} }

type Authenticated struct {
	Type      string `json:"type"`
	AccountID string `json:"accountId"`
	Nickname  string `json:"nickname"`
}

func NewAuthenticated(accountID, nickname string) Authenticated {
	return Authenticated{Type: EvtAuthenticated, AccountID: accountID, Nickname: nickname}
}

type WaitingForMatch struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	WaitingCount int    `json:"waitingCount"`
}

func NewWaitingForMatch(count int) WaitingForMatch {
	return WaitingForMatch{Type: EvtWaitingForMatch, Message: "waiting for an opponent", WaitingCount: count}
}

type Opponent struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGuest bool   `json:"isGuest"`
}

type MatchFound struct {
	Type       string   `json:"type"`
	GameID     string   `json:"gameId"`
	Opponent   Opponent `json:"opponent"`
	IsHost     bool     `json:"isHost"`
	ICEServers []string `json:"iceServers,omitempty"`
}

// Relayed wraps a peer-to-peer event forwarded through the broker. Type keeps
// the original event name so clients dispatch on it unchanged.
type Relayed struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GameOverResult is sent to both players once the outcome is settled.
// Winner is empty when Disputed is true.
type GameOverResult struct {
	Type       string `json:"type"`
	GameID     string `json:"gameId"`
	Winner     string `json:"winner"`
	WinnerName string `json:"winnerName,omitempty"`
	Disputed   bool   `json:"disputed"`
}

type OpponentDisconnected struct {
	Type                   string `json:"type"`
	GameID                 string `json:"gameId"`
	DisconnectedPlayerName string `json:"disconnectedPlayerName"`
	IsDisconnectedAsLoser  bool   `json:"isDisconnectedAsLoser"`
}

type ServerStats struct {
	Type             string `json:"type"`
	TotalConnections int    `json:"totalConnections"`
	ActiveGames      int    `json:"activeGames"`
	WaitingPlayers   int    `json:"waitingPlayers"`
	TotalMatches     int    `json:"totalMatches"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) ErrorMsg {
	return ErrorMsg{Type: EvtError, Message: message}
}
