package game

import (
	"encoding/json"
	"testing"
	"time"
)

func twoPlayers() (Player, Player) {
	return Player{ConnID: "a", AccountID: "acct-a", Name: "Alice"},
		Player{ConnID: "b", AccountID: "acct-b", Name: "Bob"}
}

func TestCreate_AssignsHostAndIndexesBothConns(t *testing.T) {
	m := NewManager()
	host, joiner := twoPlayers()
	s := m.Create(host, joiner, time.Now())

	if !s.Players[0].IsHost || s.Players[1].IsHost {
		t.Fatalf("first player must be host: %+v", s.Players)
	}
	if s.Status != StatusMatched {
		t.Fatalf("new session should be matched, got %q", s.Status)
	}
	for _, id := range []string{"a", "b"} {
		got, ok := m.ByConn(id)
		if !ok || got.ID != s.ID {
			t.Fatalf("ByConn(%q) did not find the session", id)
		}
	}
	if m.Active() != 1 || m.TotalCreated() != 1 {
		t.Fatalf("counters wrong: active=%d total=%d", m.Active(), m.TotalCreated())
	}
}

func TestSameSession_AuthorizationChecks(t *testing.T) {
	m := NewManager()
	host, joiner := twoPlayers()
	s := m.Create(host, joiner, time.Now())

	if got, ok := m.SameSession("a", "b"); !ok || got.ID != s.ID {
		t.Fatalf("players of one session must authorize")
	}
	if _, ok := m.SameSession("a", "a"); ok {
		t.Fatalf("self-relay must not authorize")
	}
	if _, ok := m.SameSession("a", "stranger"); ok {
		t.Fatalf("outsider must not authorize")
	}

	other := m.Create(Player{ConnID: "c"}, Player{ConnID: "d"}, time.Now())
	if _, ok := m.SameSession("a", "c"); ok {
		t.Fatalf("cross-session relay must not authorize (sessions %s, %s)", s.ID, other.ID)
	}
}

func TestTouch_ActivatesAndBumpsClock(t *testing.T) {
	m := NewManager()
	host, joiner := twoPlayers()
	created := time.Now().Add(-time.Minute)
	s := m.Create(host, joiner, created)

	later := time.Now()
	m.Touch(s.ID, later)
	if s.Status != StatusActive {
		t.Fatalf("touch should activate the session")
	}
	if !s.LastActivityAt.Equal(later) {
		t.Fatalf("activity clock not bumped")
	}
}

func TestMirror_LastWriteWins(t *testing.T) {
	m := NewManager()
	host, joiner := twoPlayers()
	s := m.Create(host, joiner, time.Now())

	if _, ok := m.Recover(s.ID); ok {
		t.Fatalf("no snapshot stored yet")
	}
	m.Snapshot(s.ID, json.RawMessage(`{"turn":1}`))
	m.Snapshot(s.ID, json.RawMessage(`{"turn":2}`))
	got, ok := m.Recover(s.ID)
	if !ok || string(got) != `{"turn":2}` {
		t.Fatalf("want last snapshot, got %s", got)
	}
	if m.Snapshot("missing", json.RawMessage(`{}`)) {
		t.Fatalf("snapshot for unknown game must be refused")
	}
}

func TestClaim_Verdicts(t *testing.T) {
	m := NewManager()
	host, joiner := twoPlayers()
	s := m.Create(host, joiner, time.Now())

	if _, err := m.Claim(s.ID, "a", "stranger"); err != ErrInvalidWinner {
		t.Fatalf("want ErrInvalidWinner, got %v", err)
	}
	if _, err := m.Claim(s.ID, "stranger", "a"); err != ErrNotInGame {
		t.Fatalf("want ErrNotInGame, got %v", err)
	}
	if _, err := m.Claim("missing", "a", "a"); err != ErrNoSuchGame {
		t.Fatalf("want ErrNoSuchGame, got %v", err)
	}

	v, err := m.Claim(s.ID, "a", "a")
	if err != nil || v != VerdictPending {
		t.Fatalf("first claim should be pending, got %v %v", v, err)
	}
	// Claimant may revise its own claim before the opponent files.
	v, _ = m.Claim(s.ID, "a", "b")
	if v != VerdictPending {
		t.Fatalf("revised claim should still be pending")
	}
	v, _ = m.Claim(s.ID, "b", "b")
	if v != VerdictCommitted {
		t.Fatalf("matching claims should commit, got %v", v)
	}
}

func TestClaim_Disagreement(t *testing.T) {
	m := NewManager()
	host, joiner := twoPlayers()
	s := m.Create(host, joiner, time.Now())

	m.Claim(s.ID, "a", "a")
	v, err := m.Claim(s.ID, "b", "b")
	if err != nil || v != VerdictDisputed {
		t.Fatalf("conflicting claims should dispute, got %v %v", v, err)
	}
}

func TestTeardown_RemovesEverything(t *testing.T) {
	m := NewManager()
	host, joiner := twoPlayers()
	s := m.Create(host, joiner, time.Now())
	m.Snapshot(s.ID, json.RawMessage(`{"turn":9}`))
	m.Claim(s.ID, "a", "a")

	gone, ok := m.Teardown(s.ID, ReasonResolved)
	if !ok || gone.ID != s.ID {
		t.Fatalf("teardown should return the session")
	}
	if _, ok := m.ByConn("a"); ok {
		t.Fatalf("conn index must be cleared")
	}
	if _, ok := m.Recover(s.ID); ok {
		t.Fatalf("mirror must be gone")
	}
	if _, err := m.Claim(s.ID, "a", "a"); err != ErrNoSuchGame {
		t.Fatalf("pending outcome must be gone, got %v", err)
	}
	if m.Active() != 0 || m.TotalCreated() != 1 {
		t.Fatalf("counters wrong after teardown")
	}
	if _, ok := m.Teardown(s.ID, ReasonResolved); ok {
		t.Fatalf("double teardown should be a no-op")
	}
}

func TestIdleBefore(t *testing.T) {
	m := NewManager()
	now := time.Now()
	stale := m.Create(Player{ConnID: "a"}, Player{ConnID: "b"}, now.Add(-10*time.Minute))
	fresh := m.Create(Player{ConnID: "c"}, Player{ConnID: "d"}, now)

	idle := m.IdleBefore(now.Add(-5 * time.Minute))
	if len(idle) != 1 || idle[0].ID != stale.ID {
		t.Fatalf("want only the stale session, got %d (fresh=%s)", len(idle), fresh.ID)
	}
}
