package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spellduel/broker/internal/account"
	"github.com/spellduel/broker/internal/game"
	"github.com/spellduel/broker/internal/protocol"
	"github.com/spellduel/broker/internal/ranking"
)

// Saver is the slice of the persistence gateway the broker needs.
type Saver interface {
	ScheduleSave()
}

// Options carries the broker's timing knobs. The timeouts are fixed in
// production but overridable so tests don't wait minutes for a sweep.
type Options struct {
	HeartbeatTimeout time.Duration // connection considered dead past this
	IdleTimeout      time.Duration // game reaped past this without activity
	SweepInterval    time.Duration
	StatsInterval    time.Duration
	ICEServers       []string // handed to clients in matchFound
}

func DefaultOptions() Options {
	return Options{
		HeartbeatTimeout: 120 * time.Second,
		IdleTimeout:      5 * time.Minute,
		SweepInterval:    30 * time.Second,
		StatsInterval:    15 * time.Second,
	}
}

type conn struct {
	id            string
	name          string
	accountID     string // empty while the connection is a guest
	waiting       bool
	lastHeartbeat time.Time
	outbox        chan any
	closed        bool
}

func (c *conn) authenticated() bool { return c.accountID != "" }

// Broker is the single-threaded session broker: connection registry,
// matchmaking, relay authorization, outcome consensus and the periodic
// sweeps all run on one goroutine fed by a typed inbox.
type Broker struct {
	inbox    chan Msg
	conns    map[string]*conn
	waiting  []string // conn ids, oldest first
	games    *game.Manager
	accounts *account.Store
	rankings *ranking.Ledger
	saver    Saver
	opts     Options
	log      *zap.SugaredLogger
	dropped  []string // conns with a full outbox, cleaned up after dispatch
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(parent context.Context, opts Options, accounts *account.Store, rankings *ranking.Ledger, saver Saver, log *zap.SugaredLogger) *Broker {
	ctx, cancel := context.WithCancel(parent)
	b := &Broker{
		inbox:    make(chan Msg, 256),
		conns:    make(map[string]*conn),
		games:    game.NewManager(),
		accounts: accounts,
		rankings: rankings,
		saver:    saver,
		opts:     opts,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go b.loop()
	return b
}

func (b *Broker) Inbox() chan<- Msg { return b.inbox }

func (b *Broker) loop() {
	sweep := time.NewTicker(b.opts.SweepInterval)
	stats := time.NewTicker(b.opts.StatsInterval)
	defer sweep.Stop()
	defer stats.Stop()

	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return
		case <-sweep.C:
			b.dispatch(Sweep{})
		case <-stats.C:
			b.broadcastStats()
			b.reapDropped()
		case m := <-b.inbox:
			b.dispatch(m)
		}
	}
}

// dispatch runs one handler to completion. A panic is contained here: it is
// logged, the originating connection gets a generic server-error event, and
// the broker keeps serving everyone else.
func (b *Broker) dispatch(m Msg) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("handler panic", "msg", fmt.Sprintf("%T", m), "panic", r)
			if id := origin(m); id != "" {
				if c, ok := b.conns[id]; ok {
					b.send(c, protocol.NewError("internal server error"))
				}
			}
		}
		b.reapDropped()
	}()

	switch msg := m.(type) {
	case Register:
		b.handleRegister(msg)
	case Disconnect:
		b.removeConn(msg.ConnID, "client disconnected")
	case Heartbeat:
		b.handleHeartbeat(msg)
	case Authenticate:
		b.handleAuthenticate(msg)
	case RequestMatch:
		b.handleRequestMatch(msg)
	case Relay:
		b.handleRelay(msg)
	case GameOver:
		b.handleGameOver(msg)
	case RequestState:
		b.handleRequestState(msg)
	case Sweep:
		b.handleSweep()
	case GetStats:
		msg.Reply <- b.stats()
	case Shutdown:
		b.cancel()
	}
}

func (b *Broker) handleRegister(msg Register) {
	b.conns[msg.ConnID] = &conn{
		id:            msg.ConnID,
		lastHeartbeat: time.Now(),
		outbox:        msg.Outbox,
	}
	b.log.Infow("connection registered", "conn", msg.ConnID, "total", len(b.conns))
	b.broadcastStats()
}

func (b *Broker) handleHeartbeat(msg Heartbeat) {
	c, ok := b.conns[msg.ConnID]
	if !ok {
		return
	}
	c.lastHeartbeat = time.Now()
	b.send(c, protocol.NewPong())
}

func (b *Broker) handleAuthenticate(msg Authenticate) {
	c, ok := b.conns[msg.ConnID]
	if !ok {
		return
	}
	accountID, ok := b.accounts.Resolve(msg.Token)
	if !ok {
		b.send(c, protocol.NewError("invalid or expired session"))
		return
	}
	c.accountID = accountID
	c.name = b.accounts.NicknameOf(accountID)
	b.send(c, protocol.NewAuthenticated(accountID, c.name))
	b.log.Infow("connection authenticated", "conn", c.id, "account", accountID)
}

func (b *Broker) handleRequestMatch(msg RequestMatch) {
	c, ok := b.conns[msg.ConnID]
	if !ok {
		return
	}
	if _, inGame := b.games.ByConn(c.id); inGame {
		b.send(c, protocol.NewError("already in a game"))
		return
	}

	// Authenticated players always play under their account nickname; the
	// client-supplied name only counts for guests.
	if c.authenticated() {
		c.name = b.accounts.NicknameOf(c.accountID)
	} else {
		c.name = sanitizeName(msg.PlayerName)
	}

	// A repeat request refreshes the wait rather than queueing twice.
	b.unqueue(c.id)

	partner := b.firstWaiting(c.id)
	if partner == nil {
		c.waiting = true
		b.waiting = append(b.waiting, c.id)
		b.send(c, protocol.NewWaitingForMatch(len(b.waiting)))
		return
	}

	b.unqueue(partner.id)
	partner.waiting = false
	c.waiting = false

	sess := b.games.Create(
		game.Player{ConnID: c.id, AccountID: c.accountID, Name: c.name},
		game.Player{ConnID: partner.id, AccountID: partner.accountID, Name: partner.name},
		time.Now(),
	)
	b.log.Infow("match created", "game", sess.ID, "host", c.id, "joiner", partner.id)

	b.send(c, protocol.MatchFound{
		Type:       protocol.EvtMatchFound,
		GameID:     sess.ID,
		Opponent:   protocol.Opponent{ID: partner.id, Name: partner.name, IsGuest: !partner.authenticated()},
		IsHost:     true,
		ICEServers: b.opts.ICEServers,
	})
	b.send(partner, protocol.MatchFound{
		Type:       protocol.EvtMatchFound,
		GameID:     sess.ID,
		Opponent:   protocol.Opponent{ID: c.id, Name: c.name, IsGuest: !c.authenticated()},
		IsHost:     false,
		ICEServers: b.opts.ICEServers,
	})
	b.broadcastStats()
}

// firstWaiting scans the waiting list oldest-first for a live partner,
// pruning entries whose connection is already gone.
func (b *Broker) firstWaiting(exclude string) *conn {
	for i := 0; i < len(b.waiting); {
		id := b.waiting[i]
		c, ok := b.conns[id]
		if !ok || c.closed {
			b.waiting = append(b.waiting[:i], b.waiting[i+1:]...)
			continue
		}
		if id != exclude {
			return c
		}
		i++
	}
	return nil
}

func (b *Broker) unqueue(connID string) {
	for i, id := range b.waiting {
		if id == connID {
			b.waiting = append(b.waiting[:i], b.waiting[i+1:]...)
			return
		}
	}
}

func (b *Broker) handleRelay(msg Relay) {
	from, ok := b.conns[msg.From]
	if !ok {
		return
	}
	target, ok := b.conns[msg.Target]
	if !ok || target.closed {
		b.send(from, protocol.NewError("peer unreachable"))
		return
	}
	sess, ok := b.games.SameSession(msg.From, msg.Target)
	if !ok {
		// Stale or hostile clients may not inject signaling into a session
		// they are not part of.
		b.send(from, protocol.NewError("not in a shared game with that peer"))
		return
	}

	b.games.Touch(sess.ID, time.Now())
	if protocol.IsGameEvent(msg.Event) {
		state := msg.State
		if msg.Event == protocol.EvtGameState && state == nil {
			state = msg.Payload
		}
		if state != nil {
			b.games.Snapshot(sess.ID, state)
		}
	}
	b.send(target, protocol.Relayed{Type: msg.Event, From: msg.From, Payload: msg.Payload})
}

func (b *Broker) handleGameOver(msg GameOver) {
	c, ok := b.conns[msg.ConnID]
	if !ok {
		return
	}
	sess, ok := b.games.ByConn(msg.ConnID)
	if !ok {
		b.send(c, protocol.NewError("no active game"))
		return
	}
	if msg.State != nil {
		b.games.Snapshot(sess.ID, msg.State)
	}

	verdict, err := b.games.Claim(sess.ID, msg.ConnID, msg.Winner)
	if err != nil {
		b.send(c, protocol.NewError("invalid winner claim"))
		return
	}
	switch verdict {
	case game.VerdictPending:
		// Keep the session alive while the opponent's claim is outstanding.
		b.games.Touch(sess.ID, time.Now())
	case game.VerdictCommitted:
		b.commitOutcome(sess, msg.Winner)
	case game.VerdictDisputed:
		b.resolveDispute(sess)
	}
}

// commitOutcome is the only path that mutates the formal ledger: both claims
// agreed. Guest games skip the ledger entirely.
func (b *Broker) commitOutcome(sess *game.Session, winnerConn string) {
	winner, _ := sess.Player(winnerConn)
	loser, _ := sess.Opponent(winnerConn)
	if sess.Ranked() {
		b.rankings.Adjust(ranking.CategoryFormal, winner.AccountID, ranking.FormalWinDelta)
		b.rankings.Adjust(ranking.CategoryFormal, loser.AccountID, ranking.FormalLossDelta)
		b.saver.ScheduleSave()
	}
	result := protocol.GameOverResult{
		Type:       protocol.EvtGameOver,
		GameID:     sess.ID,
		Winner:     winnerConn,
		WinnerName: winner.Name,
	}
	b.notifyPlayers(sess, result)
	b.games.Teardown(sess.ID, game.ReasonResolved)
	b.log.Infow("outcome committed", "game", sess.ID, "winner", winnerConn, "ranked", sess.Ranked())
	b.broadcastStats()
}

// resolveDispute settles contradicting claims as a draw: the ledger is never
// mutated on conflicting evidence, and the session does not hang around
// waiting for the idle reaper.
func (b *Broker) resolveDispute(sess *game.Session) {
	result := protocol.GameOverResult{
		Type:     protocol.EvtGameOver,
		GameID:   sess.ID,
		Disputed: true,
	}
	b.notifyPlayers(sess, result)
	b.games.Teardown(sess.ID, game.ReasonResolved)
	b.log.Warnw("outcome disputed, resolved as draw", "game", sess.ID)
	b.broadcastStats()
}

func (b *Broker) handleRequestState(msg RequestState) {
	c, ok := b.conns[msg.ConnID]
	if !ok {
		return
	}
	sess, ok := b.games.ByConn(msg.ConnID)
	if !ok {
		b.send(c, protocol.NewError("no active game"))
		return
	}
	state, ok := b.games.Recover(sess.ID)
	if !ok {
		b.send(c, protocol.NewError("no saved game state"))
		return
	}
	b.send(c, protocol.Relayed{Type: protocol.EvtGameState, Payload: state})
}

// removeConn is the cascading disconnect path: leave the waiting list, tear
// down an active game (forfeiting a ranked one), then drop the registry
// record and close the outbox so the transport shuts down.
func (b *Broker) removeConn(connID, why string) {
	c, ok := b.conns[connID]
	if !ok {
		return
	}
	b.unqueue(connID)

	if sess, inGame := b.games.ByConn(connID); inGame {
		opp, _ := sess.Opponent(connID)
		// Dropping out of a ranked match that actually started counts as a
		// forfeit; an unstarted or guest match is just abandoned.
		forfeit := sess.Ranked() && sess.Status == game.StatusActive
		if forfeit {
			b.rankings.Adjust(ranking.CategoryFormal, opp.AccountID, ranking.FormalWinDelta)
			b.rankings.Adjust(ranking.CategoryFormal, c.accountID, ranking.FormalLossDelta)
			b.saver.ScheduleSave()
			b.log.Infow("forfeit recorded", "game", sess.ID, "loser", c.accountID)
		}
		b.games.Teardown(sess.ID, game.ReasonAbandoned)
		if oc, live := b.conns[opp.ConnID]; live {
			b.send(oc, protocol.OpponentDisconnected{
				Type:                   protocol.EvtOpponentDisconnected,
				GameID:                 sess.ID,
				DisconnectedPlayerName: c.name,
				IsDisconnectedAsLoser:  forfeit,
			})
		}
	}

	delete(b.conns, connID)
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
	b.log.Infow("connection removed", "conn", connID, "reason", why, "total", len(b.conns))
	b.broadcastStats()
}

// handleSweep runs liveness and idle reaping. Both act on ids collected
// up-front since the cleanup mutates the maps being scanned.
func (b *Broker) handleSweep() {
	now := time.Now()

	var stale []string
	cutoff := now.Add(-b.opts.HeartbeatTimeout)
	for id, c := range b.conns {
		if c.lastHeartbeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		b.removeConn(id, "heartbeat timeout")
	}

	idleCutoff := now.Add(-b.opts.IdleTimeout)
	for _, sess := range b.games.IdleBefore(idleCutoff) {
		b.games.Teardown(sess.ID, game.ReasonIdleReaped)
		b.notifyPlayers(sess, protocol.NewError("game closed after inactivity"))
		b.log.Infow("idle game reaped", "game", sess.ID)
	}
	if len(stale) > 0 {
		b.broadcastStats()
	}
}

func (b *Broker) notifyPlayers(sess *game.Session, v any) {
	for _, p := range sess.Players {
		if c, ok := b.conns[p.ConnID]; ok {
			b.send(c, v)
		}
	}
}

func (b *Broker) stats() Stats {
	return Stats{
		TotalConnections: len(b.conns),
		ActiveGames:      b.games.Active(),
		WaitingPlayers:   len(b.waiting),
		TotalMatches:     b.games.TotalCreated(),
	}
}

func (b *Broker) broadcastStats() {
	s := b.stats()
	msg := protocol.ServerStats{
		Type:             protocol.EvtServerStats,
		TotalConnections: s.TotalConnections,
		ActiveGames:      s.ActiveGames,
		WaitingPlayers:   s.WaitingPlayers,
		TotalMatches:     s.TotalMatches,
	}
	for _, c := range b.conns {
		b.send(c, msg)
	}
}

// send never blocks the broker loop. A full outbox means the client stopped
// draining; it gets marked for removal, like any other dead transport.
func (b *Broker) send(c *conn, v any) {
	if c.closed {
		return
	}
	select {
	case c.outbox <- v:
	default:
		b.log.Warnw("outbox full, dropping client", "conn", c.id)
		b.dropped = append(b.dropped, c.id)
	}
}

func (b *Broker) reapDropped() {
	for len(b.dropped) > 0 {
		id := b.dropped[0]
		b.dropped = b.dropped[1:]
		b.removeConn(id, "outbox overflow")
	}
}

func (b *Broker) shutdown() {
	for id, c := range b.conns {
		if !c.closed {
			c.closed = true
			close(c.outbox)
		}
		delete(b.conns, id)
	}
	b.waiting = nil
	b.cancel()
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Guest"
	}
	if len(name) > 24 {
		name = name[:24]
	}
	return name
}
