package game

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNoSuchGame    = errors.New("no such game")
	ErrNotInGame     = errors.New("connection is not in this game")
	ErrInvalidWinner = errors.New("claimed winner is not a player of this game")
)

// Verdict is the consensus decision after recording one claim.
type Verdict int

const (
	// VerdictPending: only one side has claimed so far.
	VerdictPending Verdict = iota
	// VerdictCommitted: both claims present and equal; safe to mutate ranking.
	VerdictCommitted
	// VerdictDisputed: both claims present and different; resolved as a draw,
	// nothing is committed.
	VerdictDisputed
)

// PendingOutcome collects each side's claimed winner until they agree.
// At most one exists per live game.
type PendingOutcome struct {
	GameID string
	Claims map[string]string // claimant conn id -> claimed winner conn id
}

// Manager owns GameSession and PendingOutcome lifetimes. It is only touched
// from the broker loop, so it carries no lock.
type Manager struct {
	sessions map[string]*Session // by game id
	byConn   map[string]string   // conn id -> game id
	outcomes map[string]*PendingOutcome
	total    int // sessions ever created, for the stats broadcast
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
		outcomes: make(map[string]*PendingOutcome),
	}
}

// Create pairs two players into a new session. The caller guarantees the
// conn ids are distinct and not already in a game.
func (m *Manager) Create(host, joiner Player, now time.Time) *Session {
	host.IsHost = true
	joiner.IsHost = false
	s := &Session{
		ID:             NewGameID(),
		Players:        [2]Player{host, joiner},
		Status:         StatusMatched,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[s.ID] = s
	m.byConn[host.ConnID] = s.ID
	m.byConn[joiner.ConnID] = s.ID
	m.total++
	return s
}

func (m *Manager) Get(gameID string) (*Session, bool) {
	s, ok := m.sessions[gameID]
	return s, ok
}

// ByConn finds the session a connection is playing in, if any.
func (m *Manager) ByConn(connID string) (*Session, bool) {
	id, ok := m.byConn[connID]
	if !ok {
		return nil, false
	}
	return m.sessions[id], true
}

// SameSession returns the session both conn ids belong to. This is the
// relay's authorization check: no shared session, no forwarding.
func (m *Manager) SameSession(a, b string) (*Session, bool) {
	s, ok := m.ByConn(a)
	if !ok || !s.Has(b) || a == b {
		return nil, false
	}
	return s, true
}

// Touch bumps the activity clock and flips a matched session to active on
// its first relayed message.
func (m *Manager) Touch(gameID string, now time.Time) {
	if s, ok := m.sessions[gameID]; ok {
		s.LastActivityAt = now
		s.Status = StatusActive
	}
}

// Snapshot stores the latest opaque state blob, last write wins.
func (m *Manager) Snapshot(gameID string, state json.RawMessage) bool {
	s, ok := m.sessions[gameID]
	if !ok {
		return false
	}
	s.Mirror = state
	return true
}

// Recover returns the mirrored blob for reconnect flows.
func (m *Manager) Recover(gameID string) (json.RawMessage, bool) {
	s, ok := m.sessions[gameID]
	if !ok || s.Mirror == nil {
		return nil, false
	}
	return s.Mirror, true
}

// Claim records one side's claimed winner and reports the consensus verdict.
// A repeated claim from the same side overwrites its previous one.
func (m *Manager) Claim(gameID, fromConn, winnerConn string) (Verdict, error) {
	s, ok := m.sessions[gameID]
	if !ok {
		return VerdictPending, ErrNoSuchGame
	}
	if !s.Has(fromConn) {
		return VerdictPending, ErrNotInGame
	}
	if !s.Has(winnerConn) {
		return VerdictPending, ErrInvalidWinner
	}

	po := m.outcomes[gameID]
	if po == nil {
		po = &PendingOutcome{GameID: gameID, Claims: make(map[string]string)}
		m.outcomes[gameID] = po
	}
	po.Claims[fromConn] = winnerConn

	opp, _ := s.Opponent(fromConn)
	other, filed := po.Claims[opp.ConnID]
	if !filed {
		return VerdictPending, nil
	}
	if other == winnerConn {
		return VerdictCommitted, nil
	}
	return VerdictDisputed, nil
}

// Teardown removes the session, its mirror, and any pending outcome, and
// returns the session so the caller can notify its players.
func (m *Manager) Teardown(gameID string, reason TeardownReason) (*Session, bool) {
	s, ok := m.sessions[gameID]
	if !ok {
		return nil, false
	}
	delete(m.sessions, gameID)
	delete(m.outcomes, gameID)
	delete(m.byConn, s.Players[0].ConnID)
	delete(m.byConn, s.Players[1].ConnID)
	return s, true
}

// IdleBefore lists sessions whose last activity predates the cutoff.
func (m *Manager) IdleBefore(cutoff time.Time) []*Session {
	var idle []*Session
	for _, s := range m.sessions {
		if s.LastActivityAt.Before(cutoff) {
			idle = append(idle, s)
		}
	}
	return idle
}

func (m *Manager) Active() int       { return len(m.sessions) }
func (m *Manager) TotalCreated() int { return m.total }
