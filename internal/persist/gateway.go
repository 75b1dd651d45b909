package persist

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spellduel/broker/internal/account"
	"github.com/spellduel/broker/internal/ranking"
)

// Gateway sits between the in-memory stores and the durable engine. Writers
// call ScheduleSave after every mutation; the gateway coalesces bursts into
// a single flush per debounce window, and its single run loop guarantees at
// most one flush is in flight.
type Gateway struct {
	store    Store
	accounts *account.Store
	rankings *ranking.Ledger
	debounce time.Duration
	kick     chan struct{}
	log      *zap.SugaredLogger
}

func NewGateway(store Store, accounts *account.Store, rankings *ranking.Ledger, debounce time.Duration, log *zap.SugaredLogger) *Gateway {
	return &Gateway{
		store:    store,
		accounts: accounts,
		rankings: rankings,
		debounce: debounce,
		kick:     make(chan struct{}, 1),
		log:      log,
	}
}

// LoadAndMigrate loads all entity sets, runs the legacy-shape migration, and
// populates the in-memory stores. Must complete before the broker accepts
// connections.
func (g *Gateway) LoadAndMigrate(ctx context.Context) error {
	snap, err := g.store.Load(ctx)
	if err != nil {
		return err
	}
	report := Migrate(snap)
	if report.SessionsConverted > 0 || report.RankingsRekeyed > 0 || report.RankingsDropped > 0 {
		g.log.Infow("migrated legacy records",
			"sessionsConverted", report.SessionsConverted,
			"rankingsRekeyed", report.RankingsRekeyed,
			"rankingsDropped", report.RankingsDropped)
	}

	accounts := make([]account.Account, 0, len(snap.Accounts))
	for _, row := range snap.Accounts {
		accounts = append(accounts, account.Account{
			ID:                   row.ID,
			Username:             row.Username,
			Nickname:             row.Nickname,
			PasswordHash:         row.PasswordHash,
			Icon:                 row.Icon,
			LastNicknameChangeAt: row.LastNicknameChangeAt,
			CreatedAt:            row.CreatedAt,
		})
	}
	sessions := make([]account.Session, 0, len(snap.Sessions))
	for _, row := range snap.Sessions {
		sessions = append(sessions, account.Session{
			Token:      row.Token,
			AccountID:  row.AccountID,
			ExpiresAt:  row.ExpiresAt,
			LastUsedAt: row.LastUsedAt,
		})
	}
	g.accounts.Load(accounts, sessions)

	for _, row := range snap.Rankings {
		cat, err := ranking.ParseCategory(row.Category)
		if err != nil {
			g.log.Warnw("skipping ranking row with unknown category", "category", row.Category)
			continue
		}
		g.rankings.Set(cat, row.AccountID, row.Score)
	}

	// If migration rewrote anything, push the normalized shapes back out.
	if report.SessionsConverted > 0 || report.RankingsRekeyed > 0 || report.RankingsDropped > 0 {
		g.ScheduleSave()
	}
	g.log.Infow("state loaded", "accounts", len(accounts), "sessions", len(sessions), "rankings", len(snap.Rankings))
	return nil
}

// ScheduleSave requests an asynchronous flush. Safe from any goroutine;
// calls landing inside the same debounce window collapse into one flush.
func (g *Gateway) ScheduleSave() {
	select {
	case g.kick <- struct{}{}:
	default:
	}
}

// Run drives the debounce loop until ctx is cancelled, then performs one
// final synchronous flush so shutdown never loses the tail of a window.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return g.flush(context.Background())
		case <-g.kick:
			timer := time.NewTimer(g.debounce)
		coalesce:
			for {
				select {
				case <-g.kick:
					// absorbed into the pending flush
				case <-timer.C:
					break coalesce
				case <-ctx.Done():
					timer.Stop()
					return g.flush(context.Background())
				}
			}
			if err := g.flush(ctx); err != nil {
				g.log.Errorw("flush failed", "error", err)
			}
		}
	}
}

func (g *Gateway) flush(ctx context.Context) error {
	accounts, sessions := g.accounts.Export()
	snap := &Snapshot{
		Accounts: make([]AccountRow, 0, len(accounts)),
		Sessions: make([]SessionRow, 0, len(sessions)),
	}
	for _, a := range accounts {
		snap.Accounts = append(snap.Accounts, AccountRow{
			ID:                   a.ID,
			Username:             a.Username,
			Nickname:             a.Nickname,
			PasswordHash:         a.PasswordHash,
			Icon:                 a.Icon,
			LastNicknameChangeAt: a.LastNicknameChangeAt,
			CreatedAt:            a.CreatedAt,
		})
	}
	for _, s := range sessions {
		snap.Sessions = append(snap.Sessions, SessionRow{
			Token:      s.Token,
			AccountID:  s.AccountID,
			ExpiresAt:  s.ExpiresAt,
			LastUsedAt: s.LastUsedAt,
		})
	}
	for cat, entries := range g.rankings.Export() {
		for _, e := range entries {
			snap.Rankings = append(snap.Rankings, RankingRow{
				Category:  string(cat),
				AccountID: e.AccountID,
				Score:     e.Score,
			})
		}
	}
	return g.store.Save(ctx, snap)
}
