package game

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Status tracks the session state machine:
// Matched -> Active -> (Resolved | Abandoned | IdleReaped) -> removed.
type Status string

const (
	StatusMatched Status = "matched"
	StatusActive  Status = "active"
)

// TeardownReason records why a session was removed.
type TeardownReason string

const (
	ReasonResolved   TeardownReason = "resolved"
	ReasonAbandoned  TeardownReason = "abandoned"
	ReasonIdleReaped TeardownReason = "idle_reaped"
)

type Player struct {
	ConnID    string
	AccountID string // empty for guests
	Name      string
	IsHost    bool
}

func (p Player) IsGuest() bool { return p.AccountID == "" }

// Session pairs exactly two connections for one match. Mirror holds the last
// opaque state blob a player reported; the broker never inspects it.
type Session struct {
	ID             string
	Players        [2]Player
	Status         Status
	CreatedAt      time.Time
	LastActivityAt time.Time
	Mirror         json.RawMessage
}

// Has reports whether connID is one of the two players.
func (s *Session) Has(connID string) bool {
	return s.Players[0].ConnID == connID || s.Players[1].ConnID == connID
}

// Opponent returns the other player of connID.
func (s *Session) Opponent(connID string) (Player, bool) {
	switch connID {
	case s.Players[0].ConnID:
		return s.Players[1], true
	case s.Players[1].ConnID:
		return s.Players[0], true
	}
	return Player{}, false
}

// Player returns the player record for connID.
func (s *Session) Player(connID string) (Player, bool) {
	if s.Players[0].ConnID == connID {
		return s.Players[0], true
	}
	if s.Players[1].ConnID == connID {
		return s.Players[1], true
	}
	return Player{}, false
}

// Ranked reports whether the match counts toward the formal ledger: both
// sides must be authenticated accounts.
func (s *Session) Ranked() bool {
	return !s.Players[0].IsGuest() && !s.Players[1].IsGuest()
}

// NewGameID returns a short random id in the same alphabet the rest of the
// system uses for join codes.
func NewGameID() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	code := make([]byte, 8)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			panic(fmt.Sprintf("crypto/rand: %v", err))
		}
		code[i] = charset[num.Int64()]
	}
	return "game_" + string(code)
}
